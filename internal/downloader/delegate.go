package downloader

import (
	"net/http"
	"net/url"

	"github.com/any-hub/imagehub/internal/bitmap"
)

// Delegate 观察并干预下载过程。实现方可以内嵌 NopDelegate，只覆盖关心的方法。
type Delegate interface {
	// WillDownload 在请求发出前调用。
	WillDownload(d *Downloader, u *url.URL, req *http.Request)
	// DidReceiveResponse 在拿到响应头后调用，此时尚未读取正文。
	DidReceiveResponse(d *Downloader, u *url.URL, resp *http.Response)
	// DidDownloadData 可以替换下载到的字节；返回 nil 视为数据无效。
	DidDownloadData(d *Downloader, u *url.URL, data []byte) []byte
	// DidDownload 在某个处理器成功产出位图后调用。
	DidDownload(d *Downloader, img *bitmap.Image, u *url.URL, resp *http.Response)
	// DidFinish 在传输结束（成功、失败或取消）后调用一次。
	DidFinish(d *Downloader, u *url.URL, resp *http.Response, err error)
	// IsValidStatusCode 判断状态码是否可接受。
	IsValidStatusCode(d *Downloader, code int) bool
}

// NopDelegate 是默认实现：2xx 与 3xx 视为有效，其余回调什么都不做。
type NopDelegate struct{}

func (NopDelegate) WillDownload(*Downloader, *url.URL, *http.Request) {}

func (NopDelegate) DidReceiveResponse(*Downloader, *url.URL, *http.Response) {}

func (NopDelegate) DidDownloadData(_ *Downloader, _ *url.URL, data []byte) []byte { return data }

func (NopDelegate) DidDownload(*Downloader, *bitmap.Image, *url.URL, *http.Response) {}

func (NopDelegate) DidFinish(*Downloader, *url.URL, *http.Response, error) {}

func (NopDelegate) IsValidStatusCode(_ *Downloader, code int) bool {
	return code >= 200 && code < 400
}
