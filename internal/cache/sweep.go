package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type diskEntry struct {
	hash    string
	path    string
	size    int64
	modTime time.Time
}

// listLocked 列出目录下的缓存文件，跳过子目录与隐藏文件（包括写入中的临时文件）。
func (s *DiskStorage) listLocked() ([]diskEntry, error) {
	dirEntries, err := os.ReadDir(s.directory)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]diskEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 列目录与 stat 之间被删除。
			continue
		}
		entries = append(entries, diskEntry{
			hash:    s.hashOf(name),
			path:    filepath.Join(s.directory, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return entries, nil
}

// sweepLocked 分两步：先删除最近访问早于 now-maxAge 的文件；
// 若剩余总量仍超过 maxSize，则按访问时间从旧到新删除，直到总量低于 maxSize/2。
// maxAge<=0 不做过期清理，maxSize<=0 不做容量修剪。
func (s *DiskStorage) sweepLocked(maxAge time.Duration, maxSize int64) ([]string, error) {
	entries, err := s.listLocked()
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0)
	remaining := make([]diskEntry, 0, len(entries))
	var total int64

	if maxAge > 0 {
		expiry := s.now().Add(-maxAge)
		for _, e := range entries {
			if e.modTime.Before(expiry) && s.removeEntry(e) {
				removed = append(removed, e.hash)
				continue
			}
			remaining = append(remaining, e)
			total += e.size
		}
	} else {
		for _, e := range entries {
			remaining = append(remaining, e)
			total += e.size
		}
	}

	if maxSize > 0 && total > maxSize {
		target := maxSize / 2
		sort.SliceStable(remaining, func(i, j int) bool {
			return remaining[i].modTime.Before(remaining[j].modTime)
		})
		for _, e := range remaining {
			if total < target {
				break
			}
			if s.removeEntry(e) {
				total -= e.size
				removed = append(removed, e.hash)
			}
		}
	}
	return removed, nil
}

func (s *DiskStorage) removeEntry(e diskEntry) bool {
	if err := os.Remove(e.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.WithFields(logrus.Fields{"action": "disk_sweep", "path": e.path}).
			WithError(err).Warn("remove cache file failed")
		return false
	}
	return true
}
