// Package cache implements the two-tier image cache. MemoryCache is a
// cost-bounded LRU of decoded bitmaps; DiskStorage keeps serialized bytes as
// <directory>/<md5(key)>[.ext] files and runs every filesystem operation on a
// single serial queue. ImageCache composes the two: stores land in memory
// synchronously and on disk asynchronously, retrievals check memory first and
// promote disk hits back into memory, and sweeps evict expired files and trim
// the directory to half its size budget once it grows past it.
package cache
