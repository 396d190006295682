// Package httpapi 是对外的 HTTP 入口：路由、请求绑定、统一响应信封与限流。
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/John-Robertt/vgrab/internal/app"
	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/metrics"
	"github.com/John-Robertt/vgrab/internal/ratelimit"
	"github.com/John-Robertt/vgrab/internal/store"
)

const shutdownTimeout = 10 * time.Second

// VideoService 是 handler 依赖的业务入口（通常是 *app.Service）。
type VideoService interface {
	VideoInfo(ctx context.Context, rawURL string) (domain.VideoDescriptor, error)
	Process(ctx context.Context, req app.ProcessRequest) (domain.StoredArtifact, error)
}

// Toucher 记录一次成功的下载（通常是 *catalog.Catalog）。
type Toucher interface {
	Touch(ctx context.Context, filename string, at time.Time) error
}

// Server 持有 handler 所需的全部依赖。
//
// 约束：
// - 所有错误（包括 404/405、限流与 panic）都以 {status:"error", message} 返回
// - Limiter 只保护两个 API 入口（含旧路由别名）；Limiter 出错时放行并记日志
// - Catalog / Limiter / Gatherer 可以为 nil
// - 客户端 IP 默认取连接对端地址；只有对端落在 TrustedProxies 内时才读取 X-Forwarded-For
type Server struct {
	Service  VideoService
	Store    *store.Store
	Catalog  Toucher
	Limiter  ratelimit.Limiter
	Metrics  metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger

	TrustedProxies []*net.IPNet

	now func() time.Time
}

// New 用装配好的 Runtime 创建 Server。
func New(rt *app.Runtime, logger *slog.Logger) *Server {
	s := &Server{
		Service:  rt.Service,
		Store:    rt.Store,
		Limiter:  rt.Limiter,
		Metrics:  rt.Metrics,
		Gatherer: rt.Registry,
		Logger:   logger,

		TrustedProxies: rt.TrustedProxies,
	}
	if rt.Catalog != nil {
		s.Catalog = rt.Catalog
	}
	return s
}

// Handler 构建 echo 实例并注册全部路由。
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.IPExtractor = s.ipExtractor()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogRoutePath: true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: s.logRequest,
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger().Error("handler panic", "component", "httpapi", "error", err, "stack", string(stack))
			return err
		},
	}))

	limited := s.rateLimit()

	e.GET("/", s.index)
	e.GET("/healthz", s.healthz)
	if s.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(s.Gatherer)))
	}

	e.POST("/api/video-info", s.videoInfo, limited)
	e.POST("/api/process", s.process, limited)
	e.POST("/get_video_info/", s.videoInfo, limited)
	e.POST("/process/", s.process, limited)

	e.GET("/download/:filename", s.download)
	e.HEAD("/download/:filename", s.download)
	return e
}

func (s *Server) ipExtractor() echo.IPExtractor {
	if len(s.TrustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}
	// echo 默认信任回环/链路本地/私有网段，这里只保留显式配置的网段。
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, n := range s.TrustedProxies {
		opts = append(opts, echo.TrustIPRange(n))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// Run 在 addr 上提供服务，直到 ctx 取消后优雅关闭。
func (s *Server) Run(ctx context.Context, addr string) error {
	e := s.Handler()
	errc := make(chan error, 1)
	go func() {
		s.logger().Info("HTTP 服务启动", "addr", addr)
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger().Info("HTTP 服务关闭中")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	route := v.RoutePath
	if route == "" {
		route = "unmatched"
	}
	s.metrics().ObserveRequest(v.Method, route, statusLabel(v.Status), v.Latency.Seconds())

	attrs := []any{
		"method", v.Method,
		"uri", v.URI,
		"status", v.Status,
		"latency", v.Latency,
		"remote_ip", v.RemoteIP,
	}
	log := s.logger().With("component", "httpapi")
	switch {
	case v.Status >= http.StatusInternalServerError:
		log.Error("请求失败", append(attrs, "error", v.Error)...)
	case v.Error != nil:
		log.Warn("请求被拒绝", append(attrs, "error", v.Error)...)
	default:
		log.Info("请求完成", attrs...)
	}
	return nil
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) metrics() metrics.Metrics { return metrics.OrNoop(s.Metrics) }

func (s *Server) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
