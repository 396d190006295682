package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/John-Robertt/vgrab/internal/catalog"
	"github.com/John-Robertt/vgrab/internal/config"
	"github.com/John-Robertt/vgrab/internal/fetch"
	"github.com/John-Robertt/vgrab/internal/infra/httpx"
	"github.com/John-Robertt/vgrab/internal/link"
	"github.com/John-Robertt/vgrab/internal/metrics"
	"github.com/John-Robertt/vgrab/internal/ratelimit"
	"github.com/John-Robertt/vgrab/internal/resolver"
	"github.com/John-Robertt/vgrab/internal/resolver/feedapi"
	"github.com/John-Robertt/vgrab/internal/resolver/tikwm"
	"github.com/John-Robertt/vgrab/internal/resolver/webpage"
	"github.com/John-Robertt/vgrab/internal/retry"
	"github.com/John-Robertt/vgrab/internal/store"
)

// Runtime 是按 EffectiveConfig 装配好的全部组件。由 Build 创建，用完 Close。
type Runtime struct {
	Service *Service
	Store   *store.Store
	Catalog *catalog.Catalog // 关闭下载目录时为 nil
	Limiter ratelimit.Limiter
	Sweeper *Sweeper
	Chain   *resolver.Chain
	// TrustedProxies 交给 HTTP 层决定客户端 IP 的来源。
	TrustedProxies []*net.IPNet

	Metrics  metrics.Metrics
	Registry *prometheus.Registry

	closers []io.Closer
}

// Registry 返回内置的全部解析后端（按名字索引）。
func Registry(eff config.EffectiveConfig) (resolver.Registry, error) {
	return resolver.NewRegistry(
		feedapi.Backend{BaseURL: eff.FeedAPIBaseURL},
		tikwm.Backend{BaseURL: eff.AggregatorBaseURL},
		webpage.Backend{},
	)
}

// Build 装配组件。任一步失败都会释放已创建的资源。
func Build(eff config.EffectiveConfig, logger *slog.Logger) (_ *Runtime, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Registry: prometheus.NewRegistry(), TrustedProxies: eff.TrustedProxies}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := metrics.NewProm(eff.MetricsNamespace, rt.Registry)
	if err != nil {
		return nil, fmt.Errorf("注册指标失败：%w", err)
	}
	rt.Metrics = prom

	apiClient, err := httpx.NewAPIClient(eff.ProxyURL, 0)
	if err != nil {
		return nil, err
	}
	mediaClient, err := httpx.NewMediaClient(eff.ProxyURL)
	if err != nil {
		return nil, err
	}
	probeClient, err := httpx.NewProbeClient(eff.ProxyURL)
	if err != nil {
		return nil, err
	}

	rt.Store, err = store.New(eff.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("初始化存储失败：%w", err)
	}
	rt.Store.Logger = logger
	if eff.CatalogPath != "" {
		rt.Catalog, err = catalog.Open(eff.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("打开下载目录失败：%w", err)
		}
		rt.closers = append(rt.closers, rt.Catalog)
		rt.Store.Index = rt.Catalog
	}

	reg, err := Registry(eff)
	if err != nil {
		return nil, err
	}
	rt.Chain, err = reg.Chain(eff.Backends, apiClient)
	if err != nil {
		return nil, err
	}
	rt.Chain.Metrics = prom

	rt.Limiter, err = ratelimit.New(ratelimit.Config{
		Strategy: eff.RateLimit.Strategy,
		Requests: eff.RateLimit.Requests,
		Window:   eff.RateLimit.Window,
		RedisURL: eff.RateLimit.RedisURL,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := rt.Limiter.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	policy := retry.Policy{
		MaxAttempts: eff.Retry.Attempts,
		Delay:       eff.Retry.Delay,
		Exponential: eff.Retry.Exponential,
	}
	svc := &Service{
		Normalizer: &link.Normalizer{
			AllowedDomains: eff.AllowedDomains,
			ShortLinkHosts: eff.ShortLinkHosts,
			Client:         probeClient,
		},
		Resolver: rt.Chain,
		Fetcher: &fetch.Fetcher{
			Client:      mediaClient,
			Store:       rt.Store,
			ChunkSize:   eff.Fetch.ChunkSize,
			MinBytes:    eff.Fetch.MinBytes,
			MaxBytes:    eff.Fetch.MaxBytes,
			ReadTimeout: eff.Fetch.ReadTimeout,
			Metrics:     prom,
			Logger:      logger,
		},
		InfoPolicy:    policy,
		ProcessPolicy: policy,
		Logger:        logger,
	}
	if rt.Catalog != nil {
		svc.Catalog = rt.Catalog
	}
	rt.Service = svc

	rt.Sweeper = &Sweeper{
		Store:    rt.Store,
		MaxAge:   eff.Retention.MaxAge,
		Interval: eff.Retention.SweepInterval,
		Metrics:  prom,
		Logger:   logger,
	}
	return rt, nil
}

// Close 释放下载目录与 redis 连接等资源。
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
