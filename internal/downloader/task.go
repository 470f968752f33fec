package downloader

import "net/url"

// DownloadTask 是单个调用方在某次在途下载上的句柄。
type DownloadTask struct {
	downloader *Downloader
	url        *url.URL
	key        string
	id         uint64
}

// Cancel 摘除本调用方的回调并以 ErrCancelled 回调一次；
// 只有最后一个调用方取消时才会中止底层传输。可在 nil 句柄上调用。
func (t *DownloadTask) Cancel() {
	if t == nil {
		return
	}
	t.downloader.cancel(t)
}

// URL returns the requested URL.
func (t *DownloadTask) URL() *url.URL {
	if t == nil {
		return nil
	}
	return t.url
}
