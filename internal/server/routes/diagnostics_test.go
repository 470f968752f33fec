package routes

import (
	"bytes"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/cache"
	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/server"
)

func newDiagnosticsApp(t *testing.T, ttl time.Duration) (*fiber.App, *server.Registry) {
	t.Helper()
	cfg := &config.Config{Global: config.GlobalConfig{
		ListenPort:      5000,
		StoragePath:     t.TempDir(),
		CacheName:       "diag",
		DiskCacheTTL:    config.Duration(ttl),
		DownloadTimeout: config.Duration(time.Second),
		ScaleFactor:     1,
	}}
	registry, err := server.Bootstrap(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(registry.Close)
	app := fiber.New()
	RegisterDiagnosticsRoutes(app, registry)
	return app, registry
}

func storeSample(t *testing.T, registry *server.Registry, key string) {
	t.Helper()
	img := bitmap.New(image.NewNRGBA(image.Rect(0, 0, 4, 4)), 1)
	img.Format = bitmap.FormatPNG
	done := make(chan struct{})
	registry.Cache.Store(img, nil, key, cache.StoreOptions{ToDisk: true}, func() { close(done) })
	<-done
}

func call(t *testing.T, app *fiber.App, method, target string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func TestStatusReportsCacheState(t *testing.T) {
	app, registry := newDiagnosticsApp(t, time.Hour)
	storeSample(t, registry, "a")

	resp, body := call(t, app, http.MethodGet, "/-/status")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.MemoryCount != 1 || payload.MemoryCost == 0 {
		t.Fatalf("memory state mismatch: %+v", payload)
	}
	if payload.DiskSize == 0 {
		t.Fatalf("disk size should include stored entry: %+v", payload)
	}
	if payload.CacheName != "diag" || payload.Downloader != "diag" || payload.Version == "" {
		t.Fatalf("unexpected identity fields: %+v", payload)
	}
}

func TestMemoryWarningClearsMemory(t *testing.T) {
	app, registry := newDiagnosticsApp(t, time.Hour)
	storeSample(t, registry, "a")

	resp, body := call(t, app, http.MethodPost, "/-/cache/memory-warning")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte(`"memory_count":0`)) {
		t.Fatalf("memory warning should empty memory tier, got %s", body)
	}
	if registry.Cache.IsCached("a", "") != kingfisher.CacheTypeDisk {
		t.Fatalf("磁盘层不应受内存警告影响")
	}
}

func TestSweepReturnsRemovedHashes(t *testing.T) {
	app, registry := newDiagnosticsApp(t, time.Hour)
	storeSample(t, registry, "old")

	past := time.Now().Add(-2 * time.Hour)
	path := registry.Cache.CachePath("old", "")
	if err := chtimes(path, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	resp, body := call(t, app, http.MethodPost, "/-/cache/sweep")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Removed []string `json:"removed"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Removed) != 1 || payload.Removed[0] != registry.Cache.HashFor("old", "") {
		t.Fatalf("expected expired hash removed, got %v", payload.Removed)
	}
}

func TestDeleteCacheClearsBothTiers(t *testing.T) {
	app, registry := newDiagnosticsApp(t, time.Hour)
	storeSample(t, registry, "a")

	resp, _ := call(t, app, http.MethodDelete, "/-/cache")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if registry.Cache.IsCached("a", "") != kingfisher.CacheTypeNone {
		t.Fatalf("清空后不应再命中缓存")
	}
}
