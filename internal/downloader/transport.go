package downloader

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout 是单个请求的默认超时。
const DefaultTimeout = 15 * time.Second

var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

// 共享的 transport 调优参数，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	DialContext:           defaultDialer.DialContext,
}

// newHTTPClient 按下载器配置构造 http.Client。
// Pipelining 打开时允许在一条连接上复用多个请求（HTTP/2）。
// TrustedHosts 中的主机跳过证书校验，其余主机照常校验。
func newHTTPClient(cfg Config) *http.Client {
	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	transport := defaultTransport.Clone()
	transport.ForceAttemptHTTP2 = cfg.Pipelining
	if cfg.MaxConnsPerHost > 0 {
		transport.MaxConnsPerHost = cfg.MaxConnsPerHost
	}
	if len(cfg.TrustedHosts) > 0 {
		transport.DialTLSContext = trustedDialer(cfg.TrustedHosts, cfg.Pipelining)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

func trustedDialer(hosts []string, pipelining bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	hosts = append([]string(nil), hosts...)
	protos := []string{"http/1.1"}
	if pipelining {
		protos = []string{"h2", "http/1.1"}
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		skip := IsTrustedHost(hosts, host)
		dialer := &tls.Dialer{
			NetDialer: defaultDialer,
			Config: &tls.Config{
				ServerName:         host,
				MinVersion:         tls.VersionTLS12,
				NextProtos:         protos,
				InsecureSkipVerify: skip,
			},
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// IsTrustedHost reports whether host is in the trusted list (case-insensitive).
func IsTrustedHost(hosts []string, host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, h := range hosts {
		if strings.ToLower(strings.TrimSpace(h)) == host {
			return true
		}
	}
	return false
}
