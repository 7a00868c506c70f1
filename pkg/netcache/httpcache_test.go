package netcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	c := New(t.TempDir())
	c.Backoff = time.Millisecond
	return c
}

func TestRevalidateWithETag(t *testing.T) {
	var full, conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<p>{{ x }}</p>"))
	}))
	defer srv.Close()

	c := newTestCache(t)
	ctx := context.Background()

	e, err := c.Get(ctx, srv.URL+"/page.html")
	require.NoError(t, err)
	assert.Equal(t, "<p>{{ x }}</p>", string(e.Body))
	assert.Equal(t, "text/html", e.ContentType)
	assert.False(t, e.FromCache)

	e, err = c.Get(ctx, srv.URL+"/page.html")
	require.NoError(t, err)
	assert.True(t, e.FromCache)
	assert.Equal(t, "<p>{{ x }}</p>", string(e.Body))
	assert.Equal(t, int32(1), full.Load())
	assert.Equal(t, int32(1), conditional.Load())
}

func TestNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestCache(t).Get(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e, err := newTestCache(t).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(e.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestStaleCopyServedWhenServerFails(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("cached body"))
	}))
	defer srv.Close()

	c := newTestCache(t)
	_, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	down.Store(true)
	e, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, e.FromCache)
	assert.Equal(t, "cached body", string(e.Body))
}

func TestCancelledContextStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestCache(t).Get(ctx, srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
