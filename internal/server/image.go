package server

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/etag"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/manager"
)

// HeaderCacheType 标记响应由哪一级缓存提供。
const HeaderCacheType = "X-Image-Hub-Cache"

// ImageHandler 把 /image 请求转换为一次管理器检索，并把结果序列化后返回。
type ImageHandler struct {
	registry *Registry
	logger   *logrus.Logger
}

func NewImageHandler(registry *Registry, logger *logrus.Logger) *ImageHandler {
	return &ImageHandler{registry: registry, logger: logger}
}

type retrieval struct {
	img       *bitmap.Image
	err       error
	cacheType kingfisher.CacheType
}

// Handle 处理 GET /image?url=&key=&processor=&refresh=&memory_only=&only_cache=。
func (h *ImageHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := RequestID(c)

	res, err := kingfisher.ParseResource(c.Query("url"), c.Query("key"))
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_url")
	}
	processor, err := bitmap.ParseProcessor(c.Query("processor"))
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_processor")
	}

	opts := manager.Options{}
	opts.Processor = processor
	opts.ForceRefresh = queryBool(c, "refresh")
	opts.CacheMemoryOnly = queryBool(c, "memory_only")
	opts.OnlyFromCache = queryBool(c, "only_cache")
	opts.CacheOriginalImage = processor.Identifier() != ""
	opts.CallbackQueue = dispatch.Inline

	if h.registry.ETags != nil {
		h.registry.ETags.Track(res.DownloadURL(), res.CacheKey())
	}
	conditional := false
	if opts.ForceRefresh {
		opts.RequestModifier, conditional = h.conditionalModifier(res, opts.ProcessorIdentifier())
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := h.retrieve(ctx, res, opts)
	if conditional && errors.Is(result.err, kingfisher.ErrNotModified) {
		// 304 但缓存恰好被清掉：去掉条件头再拉一次。
		opts.RequestModifier = nil
		result = h.retrieve(ctx, res, opts)
	}

	if result.err != nil {
		status, code := classifyError(result.err)
		h.logResult(res, opts, requestID, status, result.cacheType, started, result.err)
		return writeError(c, status, code)
	}

	data, ok := h.storedBytes(res, opts, result.cacheType)
	if !ok {
		data, err = opts.SerializerOrDefault().Data(result.img, nil)
		if err != nil {
			h.logResult(res, opts, requestID, fiber.StatusInternalServerError, result.cacheType, started, err)
			return writeError(c, fiber.StatusInternalServerError, "encode_failed")
		}
	}

	c.Set(fiber.HeaderContentType, bitmap.DetectFormat(data).ContentType())
	c.Set(HeaderCacheType, result.cacheType.String())
	h.logResult(res, opts, requestID, fiber.StatusOK, result.cacheType, started, nil)
	return c.Status(fiber.StatusOK).Send(data)
}

// retrieve 同步等待管理器回调；请求上下文结束时取消任务。
func (h *ImageHandler) retrieve(ctx context.Context, res kingfisher.Resource, opts manager.Options) retrieval {
	results := make(chan retrieval, 1)
	task := h.registry.Manager.RetrieveImage(res, opts, nil,
		func(img *bitmap.Image, err error, cacheType kingfisher.CacheType, _ *url.URL) {
			results <- retrieval{img: img, err: err, cacheType: cacheType}
		})
	select {
	case r := <-results:
		return r
	case <-ctx.Done():
		task.Cancel()
		return retrieval{err: ctx.Err()}
	}
}

// conditionalModifier 在目标缓存已有结果时，为强制刷新附加 If-None-Match。
func (h *ImageHandler) conditionalModifier(res kingfisher.Resource, processorID string) (kingfisher.RequestModifier, bool) {
	if h.registry.ETags == nil {
		return nil, false
	}
	if !h.registry.Cache.IsCached(res.CacheKey(), processorID).Cached() {
		return nil, false
	}
	modifier := h.registry.ETags.Modifier(etag.HashForKey(res.CacheKey()))
	return modifier, modifier != nil
}

// storedBytes 在缓存命中时直接返回磁盘上已序列化的字节，省去一次重新编码。
// 磁盘上还没有条目（例如写盘尚未完成）时返回 false。
func (h *ImageHandler) storedBytes(res kingfisher.Resource, opts manager.Options, cacheType kingfisher.CacheType) ([]byte, bool) {
	if !cacheType.Cached() || opts.CacheMemoryOnly || opts.Serializer != nil {
		return nil, false
	}
	return h.registry.Cache.DiskData(res.CacheKey(), opts.ProcessorIdentifier())
}

func (h *ImageHandler) logResult(
	res kingfisher.Resource,
	opts manager.Options,
	requestID string,
	status int,
	cacheType kingfisher.CacheType,
	started time.Time,
	err error,
) {
	fields := logging.RetrieveFields(res.CacheKey(), res.String(), opts.ProcessorIdentifier(), cacheType.String())
	fields["action"] = "image"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_complete")
}

// classifyError 把领域错误映射为 HTTP 状态与错误码。
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, kingfisher.ErrNotCached):
		return fiber.StatusNotFound, "not_cached"
	case errors.Is(err, kingfisher.ErrInvalidURL):
		return fiber.StatusBadRequest, "invalid_url"
	case errors.Is(err, kingfisher.ErrBadData):
		return fiber.StatusUnprocessableEntity, "bad_data"
	case errors.Is(err, kingfisher.ErrInvalidStatusCode):
		return fiber.StatusBadGateway, "upstream_status"
	case errors.Is(err, kingfisher.ErrNotModified):
		return fiber.StatusBadGateway, "not_modified"
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, context.Canceled),
		errors.Is(err, kingfisher.ErrCancelled),
		errors.Is(err, kingfisher.ErrDownloadCancelledBeforeStarting):
		return fiber.StatusServiceUnavailable, "cancelled"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func queryBool(c fiber.Ctx, key string) bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
