package downloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/imagehub/internal/bitmap"
	"github.com/any-hub/imagehub/internal/dispatch"
	"github.com/any-hub/imagehub/internal/kingfisher"
	"github.com/any-hub/imagehub/internal/version"
)

// ProgressFunc 报告已接收与预期的字节数，预期未知时为 -1。
type ProgressFunc func(received, expected int64)

// CompletionFunc 在下载结束时调用一次。img 与 err 恰有一个非空；
// data 为下载到的原始字节，供调用方写入缓存。
type CompletionFunc func(img *bitmap.Image, err error, u *url.URL, data []byte)

// StartGate 由上层检索任务实现：在回调挂接后再次确认任务是否已在开始前被取消。
type StartGate interface {
	CancelledBeforeStart() bool
}

// Config 描述一个下载器实例。
type Config struct {
	Name            string
	Timeout         time.Duration
	Pipelining      bool
	TrustedHosts    []string
	MaxConnsPerHost int
	// Client 非空时直接使用，忽略上面的传输参数。
	Client       *http.Client
	ProcessQueue dispatch.Queue
	Delegate     Delegate
	Logger       *logrus.Logger
}

// Downloader 维护 URL -> 在途下载 的映射。读多写少，使用读写锁保护。
type Downloader struct {
	name         string
	client       *http.Client
	delegate     Delegate
	processQueue dispatch.Queue
	logger       *logrus.Logger
	seq          atomic.Uint64

	mu    sync.RWMutex
	loads map[string]*fetchLoad
}

func New(cfg Config) *Downloader {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	client := cfg.Client
	if client == nil {
		client = newHTTPClient(cfg)
	}
	delegate := cfg.Delegate
	if delegate == nil {
		delegate = NopDelegate{}
	}
	processQueue := cfg.ProcessQueue
	if processQueue == nil {
		processQueue = dispatch.NewConcurrentQueue("imagehub.downloader.process."+name, 0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Downloader{
		name:         name,
		client:       client,
		delegate:     delegate,
		processQueue: processQueue,
		logger:       logger,
		loads:        make(map[string]*fetchLoad),
	}
}

func (d *Downloader) Name() string { return d.name }

// DownloadImage 下载并解码 u。同一 URL 的并发请求共享一次传输。
// 请求无法开始时（已取消、URL 无效）立即回调错误并返回 nil。
func (d *Downloader) DownloadImage(u *url.URL, opts kingfisher.Options, gate StartGate, progress ProgressFunc, completion CompletionFunc) *DownloadTask {
	if gate != nil && gate.CancelledBeforeStart() {
		d.deliverTo(opts, completion, nil, kingfisher.ErrDownloadCancelledBeforeStarting, u, nil)
		return nil
	}
	req, err := d.buildRequest(u, opts)
	if err != nil {
		d.deliverTo(opts, completion, nil, err, u, nil)
		return nil
	}

	key := req.URL.String()
	entry := &callbackEntry{
		id:         d.seq.Add(1),
		progress:   progress,
		completion: completion,
		options:    opts,
	}

	for {
		d.mu.Lock()
		load := d.loads[key]
		if load != nil && load.refs == 0 {
			// 引用数为 0 的记录正在拆除，等它离开映射后再建立新的传输。
			done := load.done
			d.mu.Unlock()
			<-done
			continue
		}

		created := load == nil
		if created {
			load = newFetchLoad(u, key)
			d.loads[key] = load
		}
		load.attach(entry)

		// 挂接后再检查一次：取消发生在首次检查之后时，摘除回调且不改动引用计数。
		if gate != nil && gate.CancelledBeforeStart() {
			load.detach(entry.id)
			if created {
				delete(d.loads, key)
				close(load.done)
			}
			d.mu.Unlock()
			d.deliver(entry, nil, kingfisher.ErrDownloadCancelledBeforeStarting, u, nil)
			return nil
		}

		load.refs++
		if created {
			ctx, cancel := context.WithCancel(context.Background())
			load.cancel = cancel
			go d.transfer(ctx, load, req)
		}
		attached := len(load.callbacks)
		d.mu.Unlock()

		d.logger.WithFields(logrus.Fields{
			"action":   "download_attach",
			"url":      key,
			"new":      created,
			"attached": attached,
		}).Debug("download requested")
		return &DownloadTask{downloader: d, url: u, key: key, id: entry.id}
	}
}

// CancelAll 中止所有在途传输，不论还有多少调用方在等待；等待者会收到传输层的取消错误。
func (d *Downloader) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, load := range d.loads {
		if load.cancel != nil {
			load.cancel()
		}
	}
}

// InFlight 返回在途下载数。
func (d *Downloader) InFlight() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.loads)
}

// IsDownloading reports whether a transfer for u is currently in flight.
func (d *Downloader) IsDownloading(u *url.URL) bool {
	if u == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.loads[u.String()]
	return ok
}

func (d *Downloader) buildRequest(u *url.URL, opts kingfisher.Options) (*http.Request, error) {
	if u == nil {
		return nil, kingfisher.ErrInvalidURL
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &kingfisher.Error{Code: kingfisher.CodeInvalidURL, Description: kingfisher.ErrInvalidURL.Description, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if opts.RequestModifier != nil {
		req = opts.RequestModifier(req)
	}
	if req == nil || req.URL == nil || req.URL.String() == "" {
		return nil, kingfisher.ErrInvalidURL
	}
	return req, nil
}

func (d *Downloader) cancel(t *DownloadTask) {
	d.mu.Lock()
	load := d.loads[t.key]
	if load == nil {
		d.mu.Unlock()
		return
	}
	entry := load.detach(t.id)
	if entry == nil {
		d.mu.Unlock()
		return
	}
	load.refs--
	remaining := load.refs
	if remaining == 0 && load.cancel != nil {
		load.cancel()
	}
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"action":    "download_cancel",
		"url":       t.key,
		"remaining": remaining,
	}).Debug("download caller detached")
	d.deliver(entry, nil, kingfisher.ErrCancelled, t.url, nil)
}

func (d *Downloader) transfer(ctx context.Context, load *fetchLoad, req *http.Request) {
	start := time.Now()
	req = req.WithContext(ctx)
	d.delegate.WillDownload(d, load.url, req)

	resp, err := d.client.Do(req)
	if err != nil {
		d.finish(load, nil, nil, err, start)
		return
	}
	defer resp.Body.Close()

	d.delegate.DidReceiveResponse(d, load.url, resp)
	if !d.delegate.IsValidStatusCode(d, resp.StatusCode) {
		d.finish(load, nil, resp, kingfisher.NewInvalidStatusCodeError(resp.StatusCode), start)
		return
	}
	if resp.StatusCode == http.StatusNotModified {
		d.finish(load, nil, resp, kingfisher.ErrNotModified, start)
		return
	}

	data, err := d.readBody(ctx, load, resp)
	if err != nil {
		d.finish(load, nil, resp, err, start)
		return
	}
	data = d.delegate.DidDownloadData(d, load.url, data)
	if data == nil {
		d.finish(load, nil, resp, kingfisher.ErrBadData, start)
		return
	}
	d.finish(load, data, resp, nil, start)
}

func (d *Downloader) readBody(ctx context.Context, load *fetchLoad, resp *http.Response) ([]byte, error) {
	expected := resp.ContentLength
	var (
		out      []byte
		received int64
	)
	if expected > 0 {
		out = make([]byte, 0, expected)
	}
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			received += int64(n)
			d.reportProgress(load, received, expected)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
	}
}

func (d *Downloader) reportProgress(load *fetchLoad, received, expected int64) {
	d.mu.RLock()
	entries := make([]*callbackEntry, 0, len(load.callbacks))
	for _, entry := range load.callbacks {
		if entry.progress != nil {
			entries = append(entries, entry)
		}
	}
	d.mu.RUnlock()

	for _, entry := range entries {
		progress := entry.progress
		dispatch.SafeAsync(entry.options.CallbackQueue, func() { progress(received, expected) })
	}
}

// finish 先把记录移出映射，再回调所有挂接的调用方；
// 回调中对同一 URL 发起的新请求因此会开始新的传输。
func (d *Downloader) finish(load *fetchLoad, data []byte, resp *http.Response, err error, start time.Time) {
	d.mu.Lock()
	if d.loads[load.key] == load {
		delete(d.loads, load.key)
	}
	callbacks := load.callbacks
	load.callbacks = nil
	d.mu.Unlock()
	close(load.done)
	load.cancel()

	d.delegate.DidFinish(d, load.url, resp, err)

	fields := logrus.Fields{
		"action":   "download",
		"url":      load.key,
		"callers":  len(callbacks),
		"bytes":    len(data),
		"elapsed":  time.Since(start).String(),
		"upstream": load.url.Host,
	}
	if resp != nil {
		fields["status"] = resp.StatusCode
	}
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Debug("download failed")
	} else {
		d.logger.WithFields(fields).Debug("download finished")
	}

	if len(callbacks) == 0 {
		return
	}
	if err != nil {
		for _, entry := range callbacks {
			d.deliver(entry, nil, err, load.url, nil)
		}
		return
	}
	d.processQueue.Async(func() {
		d.process(load, data, resp, callbacks)
	})
}

type processResult struct {
	img *bitmap.Image
	err error
}

// process 对每个不同的处理器只解码一次，结果在本次分发内共享。
func (d *Downloader) process(load *fetchLoad, data []byte, resp *http.Response, callbacks []*callbackEntry) {
	processed := make(map[string]processResult)
	decoded := make(map[string]*bitmap.Image)

	for _, entry := range callbacks {
		processor := entry.options.ProcessorOrDefault()
		id := processor.Identifier()

		result, ok := processed[id]
		if !ok {
			img, err := processor.Process(bitmap.DataItem(data), entry.options.DecodeOptions())
			if err != nil || img == nil {
				result = processResult{err: kingfisher.WrapBadData(err)}
			} else {
				result = processResult{img: img}
				d.delegate.DidDownload(d, img, load.url, resp)
			}
			processed[id] = result
		}

		img := result.img
		if img != nil && entry.options.BackgroundDecode {
			if cached, ok := decoded[id]; ok {
				img = cached
			} else {
				img = img.Decoded()
				decoded[id] = img
			}
		}
		d.deliver(entry, img, result.err, load.url, data)
	}
}

func (d *Downloader) deliver(entry *callbackEntry, img *bitmap.Image, err error, u *url.URL, data []byte) {
	d.deliverTo(entry.options, entry.completion, img, err, u, data)
}

func (d *Downloader) deliverTo(opts kingfisher.Options, completion CompletionFunc, img *bitmap.Image, err error, u *url.URL, data []byte) {
	if completion == nil {
		return
	}
	dispatch.SafeAsync(opts.CallbackQueue, func() { completion(img, err, u, data) })
}
