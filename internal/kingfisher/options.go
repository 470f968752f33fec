package kingfisher

import (
	"net/http"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/dispatch"
)

// RequestModifier 在请求发出前改写它；返回 nil 或空 URL 视为无效地址。
type RequestModifier func(req *http.Request) *http.Request

// Options 是单次请求的行为开关，零值即默认行为。
type Options struct {
	// ForceRefresh 跳过缓存查找，总是下载。
	ForceRefresh bool
	// FromMemoryCacheOrRefresh 只查内存，未命中直接下载。
	FromMemoryCacheOrRefresh bool
	// CacheMemoryOnly 下载结果只写内存不落盘。
	CacheMemoryOnly bool
	// WaitForCache 等缓存写入完成后再回调。
	WaitForCache bool
	// OnlyFromCache 未命中时返回 ErrNotCached，不发起网络请求。
	OnlyFromCache bool
	// BackgroundDecode 在处理队列上预先展开位图。
	BackgroundDecode bool
	// CacheOriginalImage 使用非默认处理器时额外缓存未处理的原图。
	CacheOriginalImage bool
	// ScaleFactor 解码时使用的逻辑缩放，<=0 表示 1。
	ScaleFactor float64
	// OnlyLoadFirstFrame 动图只解码首帧。
	OnlyLoadFirstFrame bool

	Processor       bitmap.Processor
	Serializer      bitmap.Serializer
	CallbackQueue   dispatch.Queue
	RequestModifier RequestModifier
}

// ProcessorOrDefault returns the configured processor, or the decode-only one.
func (o Options) ProcessorOrDefault() bitmap.Processor {
	if o.Processor == nil {
		return bitmap.Default
	}
	return o.Processor
}

func (o Options) ProcessorIdentifier() string {
	return o.ProcessorOrDefault().Identifier()
}

func (o Options) SerializerOrDefault() bitmap.Serializer {
	if o.Serializer == nil {
		return bitmap.DefaultSerializer{}
	}
	return o.Serializer
}

// DecodeOptions 从请求选项中提取解码参数。
func (o Options) DecodeOptions() bitmap.DecodeOptions {
	scale := o.ScaleFactor
	if scale <= 0 {
		scale = 1
	}
	return bitmap.DecodeOptions{Scale: scale, OnlyFirstFrame: o.OnlyLoadFirstFrame}
}
