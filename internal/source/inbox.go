package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	appLog "tariffd/internal/log"
	"tariffd/internal/model"
	"tariffd/internal/schedule"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
	stampLayout  = "20060102T150405Z"
)

// Inbox ingests spreadsheets dropped into a directory. Handled files are moved
// to processed/ or failed/ so that each export is read exactly once.
type Inbox struct {
	dir    string
	ingest Ingester
	now    func() time.Time
}

// NewInbox returns an Inbox rooted at dir.
func NewInbox(dir string, in Ingester) *Inbox {
	return &Inbox{dir: dir, ingest: in, now: time.Now}
}

func (b *Inbox) Name() string { return "inbox" }

// Dir returns the watched directory.
func (b *Inbox) Dir() string { return b.dir }

// Check ingests pending files oldest first. It returns true if at least one
// file was stored; failures of individual files are joined into err.
func (b *Inbox) Check(ctx context.Context) (bool, error) {
	pending, err := b.pending()
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}

	appLog.Debug("inbox check", "dir", b.dir, "pending", len(pending))

	var (
		ingested bool
		errs     []error
	)
	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		if _, err := b.process(path); err != nil {
			errs = append(errs, err)
			continue
		}
		ingested = true
	}
	return ingested, errors.Join(errs...)
}

// Accept stores an uploaded export in the inbox and ingests it right away.
func (b *Inbox) Accept(name string, r io.Reader) (model.ScheduleMap, error) {
	name = CleanName(name)
	if name == "" || !schedule.Supported(name) {
		return nil, fmt.Errorf("%w: %q", schedule.ErrUnsupportedFormat, name)
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(b.dir, ".upload-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	path := filepath.Join(b.dir, b.stamp()+"_"+name)
	if err := os.Rename(tmpName, path); err != nil {
		return nil, err
	}
	return b.process(path)
}

// CleanName reduces an attachment name to ASCII letters, digits, '.', '-'
// and '_'. Accents are stripped and anything else becomes '_'.
func CleanName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range norm.NFKD.String(name) {
		switch {
		case r > unicode.MaxASCII:
			// combining marks and other non-ASCII runes are dropped
		case r == '.' || r == '-' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

func (b *Inbox) process(path string) (model.ScheduleMap, error) {
	sched, err := b.ingest.IngestFile(path)
	dest := processedDir
	if err != nil {
		dest = failedDir
	}
	if mvErr := b.move(path, dest); mvErr != nil {
		appLog.Error("inbox move failed", mvErr, "file", filepath.Base(path), "dest", dest)
		if err == nil {
			err = mvErr
		}
	}
	return sched, err
}

func (b *Inbox) pending() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type file struct {
		path string
		mod  time.Time
	}
	files := make([]file, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !schedule.Supported(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{path: filepath.Join(b.dir, e.Name()), mod: info.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path < files[j].path
		}
		return files[i].mod.Before(files[j].mod)
	})

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func (b *Inbox) move(path, sub string) error {
	dir := filepath.Join(b.dir, sub)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	name := filepath.Base(path)
	// Uploads already carry a stamp.
	if !hasStamp(name) {
		name = b.stamp() + "_" + name
	}
	return os.Rename(path, filepath.Join(dir, name))
}

func (b *Inbox) stamp() string {
	return b.now().UTC().Format(stampLayout)
}

func hasStamp(name string) bool {
	if len(name) <= len(stampLayout) || name[len(stampLayout)] != '_' {
		return false
	}
	_, err := time.Parse(stampLayout, name[:len(stampLayout)])
	return err == nil
}
