package resolver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxPayload 限制后端单次读取的载荷大小（接口 JSON / 页面 HTML 都远小于它）。
const maxPayload = 8 << 20

// HTTPStatusError 是后端请求得到的非 2xx 响应。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	host := e.URL
	if u, err := url.Parse(e.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("%s 返回 HTTP %d", host, e.StatusCode)
}

// BlockedError 表示上游给出了验证码或登录墙页面。后端不尝试绕过，链路直接降级。
type BlockedError struct {
	URL    string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Reason == "" {
		return "请求被上游拦截"
	}
	return "请求被上游拦截：" + e.Reason
}

// ReadOK 发出 req 并读回 2xx 响应体。
// 非 2xx 返回 *HTTPStatusError；响应体超过 maxPayload 视为错误，不截断。
func ReadOK(c *http.Client, req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &HTTPStatusError{URL: req.URL.String(), StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	if err != nil {
		return nil, err
	}
	if len(b) > maxPayload {
		return nil, fmt.Errorf("载荷过大（> %d 字节）", maxPayload)
	}
	return b, nil
}
