package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// 默认：每个客户端每小时 10 次。
const (
	DefaultRequests = 10
	DefaultWindow   = time.Hour
)

const (
	StrategyWindow = "window"
	StrategyBucket = "bucket"
	StrategyRedis  = "redis"
)

// Limiter 判断某个客户端此刻是否还能发起请求。
// 返回 error 表示限流器本身不可用；调用方决定放行还是拒绝。
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// Sweeper 由内存型限流器实现：丢弃长时间不活跃的客户端，避免状态无限增长。
type Sweeper interface {
	Sweep() int
}

// Config 选择并参数化限流器。
type Config struct {
	Strategy string
	Requests int
	Window   time.Duration
	RedisURL string
}

// New 按 cfg.Strategy 构造限流器。零值字段使用默认值。
func New(cfg Config) (Limiter, error) {
	n := cfg.Requests
	if n <= 0 {
		n = DefaultRequests
	}
	w := cfg.Window
	if w <= 0 {
		w = DefaultWindow
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Strategy)) {
	case "", StrategyWindow:
		return NewWindow(n, w), nil
	case StrategyBucket:
		return NewBucket(n, w), nil
	case StrategyRedis:
		return NewRedis(cfg.RedisURL, n, w)
	default:
		return nil, fmt.Errorf("未知限流策略：%q", cfg.Strategy)
	}
}

// RunSweeper 每隔 every 调用一次 l.Sweep，直到 ctx 结束。l 不是 Sweeper 时立即返回。
func RunSweeper(ctx context.Context, l Limiter, every time.Duration) {
	s, ok := l.(Sweeper)
	if !ok || every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}
