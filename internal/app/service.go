package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/John-Robertt/vgrab/internal/catalog"
	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/fetch"
	"github.com/John-Robertt/vgrab/internal/retry"
)

type Normalizer interface {
	Normalize(ctx context.Context, raw string) (domain.VideoReference, error)
}

type Resolver interface {
	Resolve(ctx context.Context, ref domain.VideoReference) (domain.VideoDescriptor, error)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, v domain.MediaVariant) (domain.StoredArtifact, error)
}

// Recorder 接收成功下载的记录（通常是 *catalog.Catalog）。
type Recorder interface {
	Record(ctx context.Context, e catalog.Entry) error
}

// ProcessRequest 是一次下载请求。Quality 为空视为 hd。
type ProcessRequest struct {
	URL             string
	Quality         domain.Quality
	RemoveWatermark bool
}

// Service 串起 规范化 -> 解析 -> 选择变体 -> 下载 的完整流程。
//
// 约束：
// - VideoInfo 与 Process 各有独立的重试预算（InfoPolicy / ProcessPolicy）
// - 每次重试都从规范化开始（短链解析也可能是瞬时失败）
// - 不可重试的错误（invalid_url / no_such_variant 等）立即返回
// - 下载目录写入失败只记日志，不影响返回的产物
type Service struct {
	Normalizer Normalizer
	Resolver   Resolver
	Fetcher    MediaFetcher
	Catalog    Recorder

	InfoPolicy    retry.Policy
	ProcessPolicy retry.Policy

	Logger *slog.Logger
}

// VideoInfo 解析 rawURL 并返回视频描述（不下载）。
func (s *Service) VideoInfo(ctx context.Context, rawURL string) (domain.VideoDescriptor, error) {
	log := s.logger().With("op", "video_info")
	return retry.Do(ctx, s.withRetryLog(s.InfoPolicy, log), func(ctx context.Context) (domain.VideoDescriptor, error) {
		ref, err := s.Normalizer.Normalize(ctx, rawURL)
		if err != nil {
			return domain.VideoDescriptor{}, err
		}
		return s.Resolver.Resolve(ctx, ref)
	})
}

// Process 解析、下载并提交到存储，返回产物。
func (s *Service) Process(ctx context.Context, req ProcessRequest) (domain.StoredArtifact, error) {
	q := req.Quality
	if q == "" {
		q = domain.QualityHD
	}
	log := s.logger().With("op", "process", "quality", q)

	var ref domain.VideoReference
	art, err := retry.Do(ctx, s.withRetryLog(s.ProcessPolicy, log), func(ctx context.Context) (domain.StoredArtifact, error) {
		r, err := s.Normalizer.Normalize(ctx, req.URL)
		if err != nil {
			return domain.StoredArtifact{}, err
		}
		ref = r
		desc, err := s.Resolver.Resolve(ctx, r)
		if err != nil {
			return domain.StoredArtifact{}, err
		}
		v, err := fetch.Select(desc, q, req.RemoveWatermark)
		if err != nil {
			return domain.StoredArtifact{}, err
		}
		return s.Fetcher.Fetch(ctx, v)
	})
	if err != nil {
		return domain.StoredArtifact{}, err
	}

	log.Info("处理完成", "file", art.Filename, "bytes", art.ByteSize, "id", ref.CanonicalID)
	if s.Catalog != nil {
		e := catalog.Entry{
			Filename:    art.Filename,
			SourceURL:   ref.SourceURL,
			CanonicalID: ref.CanonicalID,
			Quality:     q,
			ByteSize:    art.ByteSize,
			CreatedAt:   art.CreatedAt,
		}
		if err := s.Catalog.Record(ctx, e); err != nil {
			log.Warn("写入下载目录失败", "file", art.Filename, "error", err)
		}
	}
	return art, nil
}

func (s *Service) withRetryLog(p retry.Policy, log *slog.Logger) retry.Policy {
	p.OnRetry = func(attempt uint, err error, wait time.Duration) {
		log.Warn("尝试失败，稍后重试", "attempt", attempt, "kind", domain.KindOf(err), "wait", wait, "error", err)
	}
	return p
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger.With("component", "app")
	}
	return slog.Default().With("component", "app")
}
