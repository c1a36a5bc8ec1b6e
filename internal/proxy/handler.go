package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/conditional"
	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/upstream"
)

// SourceFetcher 抽象源图抓取，测试中可注入桩实现。
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*upstream.Result, error)
}

// Options 描述 Handler 的依赖；Store 为空表示关闭缓存。
type Options struct {
	Store        cache.Store
	Fetcher      SourceFetcher
	Codec        *imaging.Codec
	Builder      *conditional.Builder
	Logger       *logrus.Logger
	MaxDimension int
}

// Handler 负责 orchestrate “缓存查找 → 回源 → 缩放 → 写缓存 → 条件响应” 的全流程。
type Handler struct {
	writer  cache.Writer
	fetcher SourceFetcher
	codec   *imaging.Codec
	builder *conditional.Builder
	logger  *logrus.Logger
	params  *paramParser
	stats   Stats
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = 2000
	}
	if opts.Codec == nil {
		opts.Codec = imaging.NewCodec()
	}
	if opts.Builder == nil {
		opts.Builder = conditional.NewBuilder(0)
	}
	return &Handler{
		writer:  cache.NewWriter(opts.Store),
		fetcher: opts.Fetcher,
		codec:   opts.Codec,
		builder: opts.Builder,
		logger:  opts.Logger,
		params:  newParamParser(opts.MaxDimension),
	}, nil
}

// Stats 暴露请求计数，供诊断路由读取。
func (h *Handler) Stats() StatsSnapshot {
	return h.stats.Snapshot()
}

// CacheStats 返回磁盘缓存状态；缓存关闭时 ok=false。
func (h *Handler) CacheStats() (cache.Stats, bool) {
	return h.writer.Stats()
}

// result 是一次解析后的正文及其来源。
type result struct {
	key     cache.Key
	payload conditional.Payload
}

// Handle 实现 server.ImageHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	h.stats.requests.Add(1)

	req, err := h.params.parse(c)
	if errors.Is(err, errMissingURL) {
		return renderHelp(c)
	}
	var paramErr *InvalidParameterError
	if errors.As(err, &paramErr) {
		h.logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
			"field":      paramErr.Field,
		}).Debug(paramErr.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid_parameter",
			"field": paramErr.Field,
		})
	}
	if err != nil {
		return err
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var res result
	if req.resized() {
		res, err = h.serveResized(ctx, req)
	} else {
		res, err = h.serveOriginal(ctx, req)
	}
	if err != nil {
		status, code := classify(err)
		h.logResult(req, res.key, requestID, status, false, started, err)
		return h.writeError(c, status, code)
	}

	resp := h.builder.Build(res.payload, conditional.Request{
		IfNoneMatch:     c.Get(fiber.HeaderIfNoneMatch),
		IfModifiedSince: c.Get(fiber.HeaderIfModifiedSince),
	})
	if resp.Status == fiber.StatusNotModified {
		h.stats.notModified.Add(1)
	}
	h.logResult(req, res.key, requestID, resp.Status, res.payload.CacheHit, started, nil)
	return writeResponse(c, resp)
}

func (h *Handler) serveOriginal(ctx context.Context, req imageRequest) (result, error) {
	key := cache.OriginalKey(req.URL)
	res := result{key: key}

	if blob, ok := h.lookup(ctx, key); ok {
		h.stats.recordLookup(true)
		res.payload = conditional.Payload{
			Body:        blob.Data,
			ContentType: passthroughContentType(req.URL, "", blob.Data),
			ModTime:     blob.Entry.ModTime,
			CacheHit:    true,
		}
		return res, nil
	}
	h.stats.recordLookup(false)

	fetched, err := h.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return res, err
	}
	res.payload = conditional.Payload{
		Body:        fetched.Body,
		ContentType: passthroughContentType(req.URL, fetched.ContentType, fetched.Body),
	}
	if entry, ok := h.store(ctx, key, fetched.Body); ok {
		res.payload.ModTime = entry.ModTime
	}
	return res, nil
}

func (h *Handler) serveResized(ctx context.Context, req imageRequest) (result, error) {
	key := cache.ResizedKey(req.URL, req.Dims.Width, req.Dims.Height, req.Format == imaging.FormatPNG)
	res := result{key: key}

	if blob, ok := h.lookup(ctx, key); ok {
		h.stats.recordLookup(true)
		res.payload = conditional.Payload{
			Body:        blob.Data,
			ContentType: req.Format.ContentType(),
			ModTime:     blob.Entry.ModTime,
			CacheHit:    true,
		}
		return res, nil
	}
	h.stats.recordLookup(false)

	source, err := h.sourceBytes(ctx, req.URL)
	if err != nil {
		return res, err
	}
	img, _, err := imaging.Decode(source)
	if err != nil {
		return res, err
	}
	encoded, err := h.codec.Encode(imaging.Resize(img, req.Dims), req.Format)
	if err != nil {
		return res, err
	}

	res.payload = conditional.Payload{
		Body:        encoded,
		ContentType: req.Format.ContentType(),
	}
	if entry, ok := h.store(ctx, key, encoded); ok {
		res.payload.ModTime = entry.ModTime
	}
	return res, nil
}

// sourceBytes 优先复用已缓存的原图，回源得到的原图同样写入原图键。
func (h *Handler) sourceBytes(ctx context.Context, url string) ([]byte, error) {
	key := cache.OriginalKey(url)
	if blob, ok := h.lookup(ctx, key); ok {
		return blob.Data, nil
	}
	fetched, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	h.store(ctx, key, fetched.Body)
	return fetched.Body, nil
}

// lookup 读取缓存；I/O 失败按未命中处理。
func (h *Handler) lookup(ctx context.Context, key cache.Key) (cache.Blob, bool) {
	blob, ok, err := h.writer.Get(ctx, key)
	if err != nil {
		h.logger.WithError(err).
			WithFields(logrus.Fields{"action": "proxy", "cache_key": key.Name()}).
			Warn("cache_get_failed")
		return cache.Blob{}, false
	}
	return blob, ok
}

// store 写入缓存；失败只记录日志，本次响应照常返回未缓存的正文。
func (h *Handler) store(ctx context.Context, key cache.Key, data []byte) (cache.Entry, bool) {
	if !h.writer.Enabled() {
		return cache.Entry{}, false
	}
	entry, err := h.writer.Put(ctx, key, data)
	if err != nil {
		h.logger.WithError(err).
			WithFields(logrus.Fields{"action": "proxy", "cache_key": key.Name()}).
			Warn("cache_write_failed")
		return cache.Entry{}, false
	}
	return entry, true
}

func classify(err error) (int, string) {
	var fetchErr *upstream.FetchError
	var invalidErr *imaging.InvalidImageError
	var encodeErr *imaging.EncodeError
	switch {
	case errors.As(err, &fetchErr):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.As(err, &invalidErr):
		return fiber.StatusBadRequest, "invalid_image"
	case errors.As(err, &encodeErr):
		return fiber.StatusInternalServerError, "encode_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusBadGateway, "upstream_failed"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

func writeResponse(c fiber.Ctx, resp conditional.Response) error {
	for name, values := range resp.Header {
		for _, value := range values {
			c.Set(name, value)
		}
	}
	c.Status(resp.Status)
	if resp.Status == fiber.StatusNotModified {
		return nil
	}
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	req imageRequest,
	key cache.Key,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	variant := "original"
	if req.resized() {
		variant = "resized"
	}
	fields := logging.RequestFields(req.URL, variant, key.Name(), cacheHit)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["width"] = req.Dims.Width
	fields["height"] = req.Dims.Height
	fields["format"] = string(req.Format)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		h.logger.WithFields(fields).WithError(err).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
