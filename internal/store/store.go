package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"tariffd/internal/model"
)

// DefaultFileName is the schedule document inside the storage directory.
const DefaultFileName = "tariff_data.json"

var (
	// ErrStoreMissing means no schedule has been ingested yet.
	ErrStoreMissing = errors.New("schedule store missing")
	// ErrStoreCorrupt means the stored document could not be decoded.
	ErrStoreCorrupt = errors.New("schedule store corrupt")
)

// Store persists the canonical weekday schedule. Save replaces the whole
// document; Load returns ErrStoreMissing or ErrStoreCorrupt (wrapped) on the
// expected failure paths.
type Store interface {
	Load() (model.ScheduleMap, error)
	Save(m model.ScheduleMap) error
}

// FileStore keeps the schedule as a JSON document on disk:
//
//	{"0": [["22:00","06:00"]], "2": [["12:00","14:00"]]}
//
// Writes go through a temp file and rename, so readers always see either
// the previous or the new complete document.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load() (model.ScheduleMap, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrStoreMissing
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	return Decode(data)
}

func (s *FileStore) Save(m model.ScheduleMap) error {
	if s.path == "" {
		return errors.New("store path is empty")
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tariff-data-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Encode renders m in the on-disk format. Keys are written in weekday order.
func Encode(m model.ScheduleMap) ([]byte, error) {
	doc := make(map[string][][2]string, len(m))
	for day, pairs := range m {
		if !day.Valid() {
			return nil, fmt.Errorf("invalid weekday %d", day)
		}
		rows := make([][2]string, 0, len(pairs))
		for _, p := range pairs {
			rows = append(rows, [2]string(p))
		}
		doc[strconv.Itoa(int(day))] = rows
	}
	// encoding/json sorts map keys, which for "0".."6" is weekday order.
	return json.MarshalIndent(doc, "", "    ")
}

// Decode parses the on-disk format. Any structural problem is reported as
// ErrStoreCorrupt.
func Decode(data []byte) (model.ScheduleMap, error) {
	var doc map[string][][]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrStoreCorrupt)
	}

	out := make(model.ScheduleMap, len(doc))
	for key, rows := range doc {
		// Only the canonical spelling: "00" or "+1" would alias another day.
		n, err := strconv.Atoi(key)
		if err != nil || strconv.Itoa(n) != key || !model.Weekday(n).Valid() {
			return nil, fmt.Errorf("%w: invalid weekday key %q", ErrStoreCorrupt, key)
		}
		pairs := make([]model.Pair, 0, len(rows))
		for i, r := range rows {
			if len(r) != 2 {
				return nil, fmt.Errorf("%w: day %s entry %d has %d values", ErrStoreCorrupt, key, i, len(r))
			}
			pairs = append(pairs, model.Pair{r[0], r[1]})
		}
		out[model.Weekday(n)] = pairs
	}
	return out, nil
}

// MemoryStore is an in-process Store, mainly for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	data    model.ScheduleMap
	saved   bool
	corrupt bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Corrupt makes subsequent loads fail with ErrStoreCorrupt until the next Save.
func (s *MemoryStore) Corrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrupt = true
}

func (s *MemoryStore) Load() (model.ScheduleMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.corrupt {
		return nil, ErrStoreCorrupt
	}
	if !s.saved {
		return nil, ErrStoreMissing
	}
	return s.data.Clone(), nil
}

func (s *MemoryStore) Save(m model.ScheduleMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = m.Clone()
	if s.data == nil {
		s.data = model.ScheduleMap{}
	}
	s.saved = true
	s.corrupt = false
	return nil
}

// Days lists the weekdays present in m in ascending order.
func Days(m model.ScheduleMap) []model.Weekday {
	days := make([]model.Weekday, 0, len(m))
	for d := range m {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days
}
