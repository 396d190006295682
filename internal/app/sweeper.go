package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/John-Robertt/vgrab/internal/metrics"
	"github.com/John-Robertt/vgrab/internal/store"
)

// Sweeper 周期性清理超过保留期的产物。
type Sweeper struct {
	Store    *store.Store
	MaxAge   time.Duration
	Interval time.Duration

	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// SweepOnce 执行一次清理，返回删除的产物数量。
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.Store.PurgeOlderThan(ctx, s.MaxAge)
	metrics.OrNoop(s.Metrics).IncPurged(n)
	if err != nil {
		s.logger().Warn("清理中断", "purged", n, "error", err)
		return n, err
	}
	if n > 0 {
		s.logger().Info("清理过期产物", "purged", n, "max_age", s.MaxAge)
	}
	return n, nil
}

// Run 启动后立即清理一次，之后每隔 Interval 清理一次，直到 ctx 结束。
func (s *Sweeper) Run(ctx context.Context) {
	_, _ = s.SweepOnce(ctx)
	if s.Interval <= 0 {
		return
	}
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger.With("component", "sweeper")
	}
	return slog.Default().With("component", "sweeper")
}
