package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDisk(t *testing.T, ext string) *DiskStorage {
	t.Helper()
	s, err := NewDiskStorage(DiskConfig{Directory: t.TempDir(), PathExtension: ext, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new disk storage: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func setAccess(t *testing.T, s *DiskStorage, key string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(s.Path(key), at, at); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestDiskStorageWriteReadRemove(t *testing.T) {
	s := newTestDisk(t, "")
	if _, err := s.Data("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Write([]byte("payload"), "k"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(s.Path("k")) != Hash("k") {
		t.Fatalf("file should be named by key hash: %s", s.Path("k"))
	}
	data, err := s.Data("k")
	if err != nil || !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("read mismatch: %q %v", data, err)
	}
	size, err := s.Size()
	if err != nil || size != int64(len("payload")) {
		t.Fatalf("size mismatch: %d %v", size, err)
	}

	entries, _ := os.ReadDir(s.Directory())
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".cache-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}

	if err := s.Remove("k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Contains("k") {
		t.Fatalf("entry should be gone")
	}
	if err := s.Remove("k"); err != nil {
		t.Fatalf("removing a missing entry should be a no-op: %v", err)
	}
}

func TestDiskStorageReadRefreshesAccessTime(t *testing.T) {
	s := newTestDisk(t, "")
	if err := s.Write([]byte("x"), "k"); err != nil {
		t.Fatalf("write: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	setAccess(t, s, "k", old)

	if _, err := s.Data("k"); err != nil {
		t.Fatalf("read: %v", err)
	}
	info, err := os.Stat(s.Path("k"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.ModTime().After(old.Add(time.Hour)) {
		t.Fatalf("read should refresh access time, still %v", info.ModTime())
	}
}

func TestDiskStorageRemoveAll(t *testing.T) {
	s := newTestDisk(t, "png")
	_ = s.Write([]byte("a"), "a")
	_ = s.Write([]byte("b"), "b")
	if err := s.RemoveAll(); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if size, _ := s.Size(); size != 0 {
		t.Fatalf("directory should be empty, size=%d", size)
	}
	if err := s.Write([]byte("c"), "c"); err != nil {
		t.Fatalf("directory should be usable after RemoveAll: %v", err)
	}
	if !strings.HasSuffix(s.Path("c"), ".png") {
		t.Fatalf("extension missing: %s", s.Path("c"))
	}
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	s := newTestDisk(t, "")
	now := time.Now()
	_ = s.Write([]byte("old"), "old")
	_ = s.Write([]byte("fresh"), "fresh")
	setAccess(t, s, "old", now.Add(-10*24*time.Hour))
	setAccess(t, s, "fresh", now.Add(-time.Hour))

	removed, err := s.Sweep(7*24*time.Hour, 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(removed) != 1 || removed[0] != Hash("old") {
		t.Fatalf("expected only the expired entry, got %v", removed)
	}
	if !s.Contains("fresh") || s.Contains("old") {
		t.Fatalf("fresh entry must survive the expiry pass")
	}

	removed, err = s.Sweep(0, 0)
	if err != nil || len(removed) != 0 {
		t.Fatalf("non-positive limits should disable sweeping, got %v %v", removed, err)
	}
}

func TestSweepTrimsOldestFirstBelowHalf(t *testing.T) {
	s := newTestDisk(t, "img")
	now := time.Now()
	keys := []string{"a", "b", "c", "d"}
	for i, k := range keys {
		if err := s.Write(bytes.Repeat([]byte{'x'}, 100), k); err != nil {
			t.Fatalf("write %s: %v", k, err)
		}
		setAccess(t, s, k, now.Add(time.Duration(i-10)*time.Minute))
	}
	if err := os.WriteFile(filepath.Join(s.Directory(), ".hidden"), bytes.Repeat([]byte{'h'}, 500), 0o644); err != nil {
		t.Fatalf("write hidden: %v", err)
	}
	if err := os.Mkdir(filepath.Join(s.Directory(), "nested"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// 400 字节超过 300 的上限，需要删到 150 以下：a、b、c。
	removed, err := s.Sweep(0, 300)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	want := []string{Hash("a"), Hash("b"), Hash("c")}
	if len(removed) != len(want) {
		t.Fatalf("expected %d removals, got %v", len(want), removed)
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Fatalf("removal %d: expected %s got %s", i, want[i], removed[i])
		}
	}
	if !s.Contains("d") {
		t.Fatalf("newest entry should survive")
	}
	if _, err := os.Stat(filepath.Join(s.Directory(), ".hidden")); err != nil {
		t.Fatalf("hidden files must be ignored: %v", err)
	}
	if size, _ := s.Size(); size != 100 {
		t.Fatalf("expected 100 bytes left, got %d", size)
	}
}

func TestSweepWithinBudgetKeepsEverything(t *testing.T) {
	s := newTestDisk(t, "")
	_ = s.Write(bytes.Repeat([]byte{'x'}, 100), "a")
	_ = s.Write(bytes.Repeat([]byte{'x'}, 100), "b")
	removed, err := s.Sweep(time.Hour, 200)
	if err != nil || len(removed) != 0 {
		t.Fatalf("total equal to the limit should not trim, got %v %v", removed, err)
	}
}
