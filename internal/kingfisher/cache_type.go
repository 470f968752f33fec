package kingfisher

// CacheType 标记一次检索结果的来源层级。
type CacheType int

const (
	// CacheTypeNone 表示未命中缓存（结果来自网络或根本没有结果）。
	CacheTypeNone CacheType = iota
	// CacheTypeMemory 表示命中内存缓存。
	CacheTypeMemory
	// CacheTypeDisk 表示命中磁盘缓存。
	CacheTypeDisk
)

// Cached reports whether the value names a cache tier.
func (t CacheType) Cached() bool {
	return t == CacheTypeMemory || t == CacheTypeDisk
}

func (t CacheType) String() string {
	switch t {
	case CacheTypeMemory:
		return "memory"
	case CacheTypeDisk:
		return "disk"
	default:
		return "none"
	}
}
