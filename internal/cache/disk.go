package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/dispatch"
)

// DiskConfig 描述一个磁盘存储实例。
type DiskConfig struct {
	Directory     string
	PathExtension string
	Logger        *logrus.Logger
}

// DiskStorage 把条目保存为 <Directory>/<md5(key)>[.ext]。
// 文件的 ModTime 即最近访问时间：写入与读取都会刷新它，清理按它排序。
// 所有文件系统操作都在同一个串行队列上执行，导出方法会同步等待队列。
type DiskStorage struct {
	directory     string
	pathExtension string
	queue         *dispatch.SerialQueue
	logger        *logrus.Logger
	now           func() time.Time
}

func NewDiskStorage(cfg DiskConfig) (*DiskStorage, error) {
	if cfg.Directory == "" {
		return nil, errors.New("disk cache directory required")
	}
	abs, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("resolve disk cache directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create disk cache directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ext := strings.TrimPrefix(cfg.PathExtension, ".")
	return &DiskStorage{
		directory:     abs,
		pathExtension: ext,
		queue:         dispatch.NewSerialQueue("imagehub.disk." + filepath.Base(abs)),
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Directory 返回缓存目录的绝对路径。
func (s *DiskStorage) Directory() string {
	return s.directory
}

// Path 返回 key 对应的文件路径（文件不一定存在）。
func (s *DiskStorage) Path(key string) string {
	return filepath.Join(s.directory, s.fileName(Hash(key)))
}

// Data 读取条目并刷新其访问时间；不存在时返回 ErrNotFound。
func (s *DiskStorage) Data(key string) (data []byte, err error) {
	s.queue.Sync(func() {
		data, err = s.readLocked(key)
	})
	return data, err
}

// Contains 只检查文件是否存在，不刷新访问时间。
func (s *DiskStorage) Contains(key string) (ok bool) {
	s.queue.Sync(func() {
		ok = s.containsLocked(key)
	})
	return ok
}

// Write 以临时文件 + rename 的方式原子写入。
func (s *DiskStorage) Write(data []byte, key string) (err error) {
	s.queue.Sync(func() {
		err = s.writeLocked(data, key)
	})
	return err
}

func (s *DiskStorage) Remove(key string) (err error) {
	s.queue.Sync(func() {
		err = s.removeLocked(key)
	})
	return err
}

// RemoveAll 删除并重建整个目录。
func (s *DiskStorage) RemoveAll() (err error) {
	s.queue.Sync(func() {
		err = s.removeAllLocked()
	})
	return err
}

// Size 返回目录下所有缓存文件的字节数之和。
func (s *DiskStorage) Size() (total int64, err error) {
	s.queue.Sync(func() {
		var entries []diskEntry
		entries, err = s.listLocked()
		for _, e := range entries {
			total += e.size
		}
	})
	return total, err
}

// Sweep 清理过期文件并在超出容量时修剪目录，返回被删除文件的哈希。
func (s *DiskStorage) Sweep(maxAge time.Duration, maxSize int64) (removed []string, err error) {
	s.queue.Sync(func() {
		removed, err = s.sweepLocked(maxAge, maxSize)
	})
	return removed, err
}

// Close 等待已排队的文件操作完成。
func (s *DiskStorage) Close() {
	s.queue.Close()
}

func (s *DiskStorage) fileName(hash string) string {
	if s.pathExtension == "" {
		return hash
	}
	return hash + "." + s.pathExtension
}

func (s *DiskStorage) hashOf(name string) string {
	if s.pathExtension == "" {
		return name
	}
	return strings.TrimSuffix(name, "."+s.pathExtension)
}

func (s *DiskStorage) readLocked(key string) ([]byte, error) {
	filePath := s.Path(key)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	now := s.now()
	if err := os.Chtimes(filePath, now, now); err != nil {
		s.logger.WithFields(logrus.Fields{"action": "disk_touch", "path": filePath}).
			WithError(err).Warn("refresh access time failed")
	}
	return data, nil
}

func (s *DiskStorage) containsLocked(key string) bool {
	info, err := os.Stat(s.Path(key))
	return err == nil && !info.IsDir()
}

func (s *DiskStorage) writeLocked(data []byte, key string) error {
	filePath := s.Path(key)
	if err := os.MkdirAll(s.directory, 0o755); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(s.directory, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	now := s.now()
	return os.Chtimes(filePath, now, now)
}

func (s *DiskStorage) removeLocked(key string) error {
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStorage) removeAllLocked() error {
	if err := os.RemoveAll(s.directory); err != nil {
		return err
	}
	return os.MkdirAll(s.directory, 0o755)
}

// ErrNotFound 表示缓存条目不存在。
var ErrNotFound = errors.New("cache entry not found")
