package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	appLog "tariffd/internal/log"
	"tariffd/internal/schedule"
)

const (
	metaFile       = "meta.json"
	defaultExt     = ".xlsx"
	maxExportBytes = 16 << 20
)

// cacheEntry holds HTTP cache metadata for the export URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Body         string    `json:"body"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher polls a published schedule export with conditional GET
// (ETag / Last-Modified). Only a changed document is ingested.
type Fetcher struct {
	client   *http.Client
	url      string
	cacheDir string
	ingest   Ingester
}

// NewFetcher creates a Fetcher for rawURL. cacheDir keeps the last body and
// its validators, e.g. "/var/lib/tariffd/cache".
func NewFetcher(rawURL, cacheDir string, in Ingester) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		url:      rawURL,
		cacheDir: cacheDir,
		ingest:   in,
	}
}

func (f *Fetcher) Name() string { return "url" }

// Check downloads the export if it changed and ingests it. A 304 response, or
// a 200 whose validators match the cache, is a no-op.
func (f *Fetcher) Check(ctx context.Context) (bool, error) {
	if f.url == "" {
		return false, errors.New("source URL is empty")
	}

	cachePath := f.cachePath()
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return false, err
	}
	meta, _ := f.loadMeta(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("schedule fetch start", "url", redactURL(f.url))

	resp, err := f.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		appLog.Debug("schedule fetch not modified", "url", redactURL(f.url))
		return false, nil
	case http.StatusOK:
	default:
		return false, fmt.Errorf("fetch %s: %s", redactURL(f.url), resp.Status)
	}

	etag := resp.Header.Get("ETag")
	if etag != "" && etag == meta.ETag {
		return false, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExportBytes+1))
	if err != nil {
		return false, err
	}
	if len(body) > maxExportBytes {
		return false, fmt.Errorf("fetch %s: export larger than %d bytes", redactURL(f.url), maxExportBytes)
	}

	bodyName := "body" + exportExt(f.url, resp.Header)
	bodyPath := filepath.Join(cachePath, bodyName)
	if err := os.WriteFile(bodyPath, body, 0o600); err != nil {
		return false, err
	}

	if _, err := f.ingest.IngestFile(bodyPath); err != nil {
		return false, err
	}

	// Validators are stored only after a successful ingest, so a broken export
	// is retried on the next check.
	newMeta := cacheEntry{
		URL:          f.url,
		ETag:         etag,
		LastModified: resp.Header.Get("Last-Modified"),
		Body:         bodyName,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := f.saveMeta(cachePath, newMeta); err != nil {
		appLog.Error("schedule cache save failed", err, "url", redactURL(f.url))
	}

	appLog.Info("schedule fetched", "url", redactURL(f.url), "bytes", len(body))
	return true, nil
}

func (f *Fetcher) cachePath() string {
	sum := sha256.Sum256([]byte(f.url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, metaFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) saveMeta(cachePath string, meta cacheEntry) error {
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, metaFile), data, 0o600)
}

// exportExt picks the reader by URL path first, then by Content-Type.
func exportExt(rawURL string, h http.Header) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); schedule.Supported("x" + ext) {
			return ext
		}
	}
	if mt, _, err := mime.ParseMediaType(h.Get("Content-Type")); err == nil {
		switch mt {
		case "text/csv", "text/plain":
			return ".csv"
		case "application/vnd.ms-excel.sheet.macroenabled.12":
			return ".xlsm"
		case "application/vnd.ms-excel":
			return ".xls"
		}
	}
	return defaultExt
}

// redactURL keeps scheme and host only; export links often embed tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
