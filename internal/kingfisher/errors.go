package kingfisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code 是与 HTTP 状态无关的错误码，调用方通过 errors.Is 与哨兵错误比较。
type Code int

const (
	CodeBadData                         Code = 10000
	CodeNotModified                     Code = 10001
	CodeInvalidStatusCode               Code = 10002
	CodeNotCached                       Code = 10003
	CodeInvalidURL                      Code = 20000
	CodeDownloadCancelledBeforeStarting Code = 30000
	CodeCancelled                       Code = 30001
)

func (c Code) String() string {
	switch c {
	case CodeBadData:
		return "bad_data"
	case CodeNotModified:
		return "not_modified"
	case CodeInvalidStatusCode:
		return "invalid_status_code"
	case CodeNotCached:
		return "not_cached"
	case CodeInvalidURL:
		return "invalid_url"
	case CodeDownloadCancelledBeforeStarting:
		return "download_cancelled_before_starting"
	case CodeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// Error 携带错误码、可选的 HTTP 状态码以及底层原因。
type Error struct {
	Code        Code
	StatusCode  int
	Description string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Description
	if msg == "" {
		msg = e.Code.String()
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so wrapped instances still
// compare equal to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	// ErrBadData 表示数据无法被任何已挂接的处理器解码为图片。
	ErrBadData = &Error{Code: CodeBadData, Description: "downloaded data is not a valid image"}
	// ErrNotModified 表示条件请求得到 304，应从缓存取图。
	ErrNotModified = &Error{Code: CodeNotModified, Description: "resource not modified"}
	// ErrInvalidStatusCode 仅用于 errors.Is 比较，真实错误由 NewInvalidStatusCodeError 生成。
	ErrInvalidStatusCode = &Error{Code: CodeInvalidStatusCode, Description: "invalid http status code"}
	// ErrNotCached 表示仅缓存模式下未命中。
	ErrNotCached = &Error{Code: CodeNotCached, Description: "image not cached"}
	// ErrInvalidURL 表示请求改写钩子把 URL 改成了空值。
	ErrInvalidURL = &Error{Code: CodeInvalidURL, Description: "invalid request url"}
	// ErrDownloadCancelledBeforeStarting 表示任务在传输开始前就已取消。
	ErrDownloadCancelledBeforeStarting = &Error{Code: CodeDownloadCancelledBeforeStarting, Description: "download cancelled before starting"}
	// ErrCancelled 表示调用方主动从进行中的下载上摘除了自己的回调。
	ErrCancelled = &Error{Code: CodeCancelled, Description: "download cancelled", Err: context.Canceled}
)

// NewInvalidStatusCodeError 生成携带状态码与本地化描述的错误。
func NewInvalidStatusCodeError(status int) error {
	desc := http.StatusText(status)
	if desc == "" {
		desc = "unexpected status"
	}
	return &Error{
		Code:        CodeInvalidStatusCode,
		StatusCode:  status,
		Description: desc,
	}
}

// WrapBadData 把处理器返回的原因挂在 ErrBadData 下。
func WrapBadData(cause error) error {
	if cause == nil {
		return ErrBadData
	}
	return &Error{Code: CodeBadData, Description: ErrBadData.Description, Err: cause}
}

// CodeOf 提取错误码；非 *Error 返回 0。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
