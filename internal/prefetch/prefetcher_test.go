package prefetch

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/downloader"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/manager"
)

type env struct {
	manager *manager.Manager
	cache   *cache.ImageCache
	server  *httptest.Server
	hits    atomic.Int32
	gate    chan struct{}
}

func newEnv(t *testing.T, blocking bool) *env {
	t.Helper()
	e := &env{gate: make(chan struct{})}
	if !blocking {
		close(e.gate)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 3, 3))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := buf.Bytes()
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.hits.Add(1)
		select {
		case <-e.gate:
		case <-r.Context().Done():
			return
		}
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(e.server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := cache.New(cache.Config{Name: "prefetch", Path: t.TempDir(), Logger: logger})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(c.Close)
	d := downloader.New(downloader.Config{Logger: logger})
	m, err := manager.New(manager.Config{Cache: c, Downloader: d, Logger: logger})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	e.manager, e.cache = m, c
	return e
}

func (e *env) resources(t *testing.T, paths ...string) []kingfisher.Resource {
	t.Helper()
	out := make([]kingfisher.Resource, 0, len(paths))
	for _, p := range paths {
		res, err := kingfisher.ParseResource(e.server.URL+p, "")
		if err != nil {
			t.Fatalf("resource: %v", err)
		}
		out = append(out, res)
	}
	return out
}

func TestPrefetchSkipsCachedAndReportsFailures(t *testing.T) {
	e := newEnv(t, false)
	list := e.resources(t, "/a.png", "/b.png", "/cached.png", "/missing.png")

	img, err := bitmap.Decode(mustPNG(t), bitmap.DecodeOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e.cache.Store(img, nil, list[2].CacheKey(), cache.StoreOptions{}, nil)

	var progressCalls atomic.Int32
	p := New(e.manager, list, Config{MaxConcurrent: 2, Logger: quiet()})
	result := p.Start(context.Background(), func(Result) { progressCalls.Add(1) })

	if len(result.Skipped) != 1 || !result.Skipped[0].Equal(list[2]) {
		t.Fatalf("cached resource should be skipped, got %v", result.Skipped)
	}
	if len(result.Failed) != 1 || !result.Failed[0].Equal(list[3]) {
		t.Fatalf("404 should be reported as failed, got %v", result.Failed)
	}
	if len(result.Completed) != 2 {
		t.Fatalf("expected two completed, got %d", len(result.Completed))
	}
	if progressCalls.Load() != 4 || result.Total() != 4 {
		t.Fatalf("progress should fire per resource, got %d", progressCalls.Load())
	}
	for _, res := range result.Completed {
		if e.cache.IsCached(res.CacheKey(), "") == kingfisher.CacheTypeNone {
			t.Fatalf("completed resource should be cached: %s", res)
		}
	}
}

func TestPrefetchStopFailsRemaining(t *testing.T) {
	e := newEnv(t, true)
	list := e.resources(t, "/1.png", "/2.png", "/3.png", "/4.png")
	p := New(e.manager, list, Config{MaxConcurrent: 1, Logger: quiet()})

	done := make(chan Result, 1)
	go func() { done <- p.Start(context.Background(), nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.hits.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("prefetch never reached upstream")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	select {
	case result := <-done:
		if len(result.Failed) != 4 || len(result.Completed) != 0 {
			t.Fatalf("stopped prefetch should fail everything, got %+v", result)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop did not unblock Start")
	}
	close(e.gate)
}

func mustPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func quiet() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
