package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/John-Robertt/vgrab/internal/domain"
)

// envelope 是所有 JSON 响应的外层结构。
type envelope struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	Data        any    `json:"data,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

func success(data any) envelope { return envelope{Status: "success", Data: data} }

func failure(msg string) envelope { return envelope{Status: "error", Message: msg} }

// errRateLimited 在限流中间件拒绝请求时返回。
var errRateLimited = echo.NewHTTPError(http.StatusTooManyRequests, "请求过于频繁，请稍后再试")

// statusFor 把错误分类映射为 HTTP 状态码。
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidURL, domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindNoSuchVariant:
		return http.StatusUnprocessableEntity
	case domain.KindResolutionFailed, domain.KindBackend, domain.KindFetch, domain.KindInvalidMedia:
		return http.StatusBadGateway
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// describe 返回状态码与对外消息。内部错误不回显细节，只记日志。
func describe(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		return he.Code, msg
	}

	kind := domain.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		return status, "服务内部错误"
	}
	return status, err.Error()
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := describe(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger().Error("未分类错误", "component", "httpapi", "path", c.Request().URL.Path, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, failure(msg))
	}
	if werr != nil {
		s.logger().Warn("写入错误响应失败", "component", "httpapi", "error", werr)
	}
}

func statusLabel(code int) string {
	if code <= 0 {
		return "0"
	}
	return strconv.Itoa(code)
}

// requireURL 校验必填的 url 字段。
func requireURL(u string) error {
	if u == "" {
		return &domain.Error{Kind: domain.KindInvalidRequest, Msg: "url 不能为空"}
	}
	return nil
}

func badRequest(err error) error {
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return &domain.Error{Kind: domain.KindInvalidRequest, Msg: "请求格式错误：" + msg}
}
