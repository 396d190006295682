// Package httpx 构造对外请求用的 http.Client：浏览器请求头、代理与分层超时。
package httpx

import (
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Profile 描述一类 client 的网络策略。
type Profile struct {
	// Timeout 是单次请求的总超时；0 表示不设（由请求 ctx 控制）。
	Timeout time.Duration
	// NoRedirect 为 true 时只返回第一跳响应，不跟随 3xx。
	NoRedirect bool
	// Referer 非空时作为默认 Referer（部分 CDN 校验它）。
	Referer string
	// Retries 是传输层错误（连接失败/重置）时的额外尝试次数；只作用于无 body 的 GET/HEAD。
	Retries int
}

const DefaultAPITimeout = 20 * time.Second

var (
	apiProfile   = Profile{Timeout: DefaultAPITimeout, Retries: 1}
	mediaProfile = Profile{Referer: "https://www.tiktok.com/"}
	probeProfile = Profile{Timeout: 10 * time.Second, NoRedirect: true, Retries: 1}
)

// NewAPIClient 构造解析后端使用的 client（接口调用与页面抓取）。timeout <= 0 时使用 DefaultAPITimeout。
func NewAPIClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	p := apiProfile
	if timeout > 0 {
		p.Timeout = timeout
	}
	return New(proxyURL, p)
}

// NewMediaClient 构造媒体下载 client。
//
// 不设总超时：大文件传输时长不可预期。连接、握手、响应头各自有界；响应体的停滞由 fetch.Fetcher.ReadTimeout 约束。
// 不在传输层重试：半途失败交给业务层从头重下。
func NewMediaClient(proxyURL string) (*http.Client, error) {
	return New(proxyURL, mediaProfile)
}

// NewProbeClient 构造短链解析用的 client：不跟随重定向，只读取第一跳 Location。
func NewProbeClient(proxyURL string) (*http.Client, error) {
	return New(proxyURL, probeProfile)
}

// New 按 p 构造 client。proxyURL 为空表示直连；非空时只接受 http/https/socks5。
func New(proxyURL string, p Profile) (*http.Client, error) {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		ForceAttemptHTTP2:     true,
	}
	if proxy, err := parseProxy(proxyURL); err != nil {
		return nil, err
	} else if proxy != nil {
		base.Proxy = http.ProxyURL(proxy)
		// 轮换型代理按连接分配出口，复用连接会固定在同一出口上。
		base.DisableKeepAlives = true
	}

	c := &http.Client{
		Transport: &browserTransport{base: base, referer: p.Referer, retries: max(p.Retries, 0)},
		Timeout:   p.Timeout,
	}
	if p.NoRedirect {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return c, nil
}

func parseProxy(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("代理地址无效：%w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("代理只支持 http/https/socks5，实际是 %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("代理地址缺少主机：%q", raw)
	}
	return u, nil
}

// browserTransport 补齐浏览器风格的默认请求头，并对可重放请求做有界重试。
// 调用方显式设置的请求头优先。
type browserTransport struct {
	base    http.RoundTripper
	referer string
	retries int
}

func (t *browserTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	setDefault(r.Header, "User-Agent", userAgents[rand.IntN(len(userAgents))])
	setDefault(r.Header, "Accept-Language", "en-US,en;q=0.5")
	if t.referer != "" {
		setDefault(r.Header, "Referer", t.referer)
	}

	attempts := 1
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.Body == nil {
		attempts += t.retries
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := t.base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if r.Context().Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func setDefault(h http.Header, key, value string) {
	if h.Get(key) == "" {
		h.Set(key, value)
	}
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
}
