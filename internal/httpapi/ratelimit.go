package httpapi

import (
	"github.com/labstack/echo/v4"
)

// rateLimit 按客户端 IP 限流。Limiter 出错时放行并记一条告警。
func (s *Server) rateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.Limiter == nil {
				return next(c)
			}
			ok, err := s.Limiter.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				s.logger().Warn("限流器不可用，放行请求", "component", "httpapi", "client", c.RealIP(), "error", err)
				return next(c)
			}
			if !ok {
				s.metrics().IncRateLimited(c.Path())
				return errRateLimited
			}
			return next(c)
		}
	}
}
