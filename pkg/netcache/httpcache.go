package netcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// ErrNotFound is returned when the server answers 404 or 410.
var ErrNotFound = errors.New("remote resource not found")

// maxBody caps a single fetched template.
const maxBody = 8 << 20

// Cache is a persistent HTTP cache with ETag/Last-Modified revalidation.
// Bodies are kept on disk next to a small JSON metadata file.
type Cache struct {
	Dir     string
	Client  *http.Client
	Logger  *slog.Logger
	Retries int
	Backoff time.Duration
}

// New returns a Cache storing its files below dir.
func New(dir string) *Cache {
	return &Cache{
		Dir:     dir,
		Client:  &http.Client{Timeout: 30 * time.Second},
		Logger:  slog.Default(),
		Retries: 3,
		Backoff: 500 * time.Millisecond,
	}
}

type meta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	DataFile     string `json:"data_file"`
}

// Entry is a fetched body together with the response headers that matter
// to callers.
type Entry struct {
	URL         string
	Body        []byte
	ContentType string
	// FromCache is set when the body was served from disk, either after a
	// 304 or because revalidation failed.
	FromCache bool
}

// Get returns the body of url, revalidating a cached copy when there is one.
// If revalidation fails on the network or with a server error the stale copy
// is served.
func (c *Cache) Get(ctx context.Context, url string) (*Entry, error) {
	key := hash(url)
	mpath := filepath.Join(c.Dir, key+".json")
	m, cached := c.readMeta(mpath, url)

	if cached {
		e, err := c.fetch(ctx, url, key, mpath, &m)
		if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return e, err
		}
		c.logger().Warn("revalidation failed, serving cached copy", "url", url, "error", err)
		body, rerr := os.ReadFile(filepath.Join(c.Dir, m.DataFile))
		if rerr == nil {
			return &Entry{URL: url, Body: body, ContentType: m.ContentType, FromCache: true}, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < max(c.Retries, 1); attempt++ {
		if attempt > 0 {
			wait := c.Backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		e, err := c.fetch(ctx, url, key, mpath, nil)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return e, err
		}
		lastErr = err
		c.logger().Debug("fetch failed, retrying", "url", url, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// fetch performs one GET. With prev set the request is conditional and a
// 304 answer returns the stored body.
func (c *Cache) fetch(ctx context.Context, url, key, mpath string, prev *meta) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if prev.ETag != "" {
			req.Header.Set("If-None-Match", prev.ETag)
		}
		if prev.LastModified != "" {
			req.Header.Set("If-Modified-Since", prev.LastModified)
		}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && prev != nil:
		body, err := os.ReadFile(filepath.Join(c.Dir, prev.DataFile))
		if err != nil {
			return nil, err
		}
		c.logger().Debug("cache hit", "url", url)
		return &Entry{URL: url, Body: body, ContentType: prev.ContentType, FromCache: true}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("GET %s: %w", url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &statusError{url: url, code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", url, maxBody)
	}
	dataFile := key + ".data"
	if err := writeFile(filepath.Join(c.Dir, dataFile), body); err != nil {
		return nil, err
	}
	nm := meta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentType:  resp.Header.Get("Content-Type"),
		DataFile:     dataFile,
	}
	if err := writeMeta(mpath, nm); err != nil {
		return nil, err
	}
	return &Entry{URL: url, Body: body, ContentType: nm.ContentType}, nil
}

func (c *Cache) readMeta(mpath, url string) (meta, bool) {
	var m meta
	b, err := os.ReadFile(mpath)
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(b, &m); err != nil || m.URL != url || m.DataFile == "" {
		return m, false
	}
	return m, fileExists(filepath.Join(c.Dir, m.DataFile))
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("GET %s: HTTP %d", e.url, e.code) }

// retryable reports network failures and 5xx answers.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return !errors.Is(err, ErrNotFound)
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func writeMeta(path string, m meta) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, b)
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
