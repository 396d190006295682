package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/John-Robertt/vgrab/internal/catalog"
	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/retry"
)

type stubNormalizer struct {
	err   error
	calls int
}

func (n *stubNormalizer) Normalize(ctx context.Context, raw string) (domain.VideoReference, error) {
	n.calls++
	if n.err != nil {
		return domain.VideoReference{}, n.err
	}
	return domain.VideoReference{SourceURL: raw, CanonicalURL: raw, CanonicalID: "42"}, nil
}

// stubResolver 前 failures 次返回 resolution_failed，之后返回 desc。
type stubResolver struct {
	desc     domain.VideoDescriptor
	failures int
	calls    int
}

func (r *stubResolver) Resolve(ctx context.Context, ref domain.VideoReference) (domain.VideoDescriptor, error) {
	r.calls++
	if r.calls <= r.failures {
		return domain.VideoDescriptor{}, domain.Errorf(domain.KindResolutionFailed, "all backends failed (%d)", r.calls)
	}
	return r.desc, nil
}

type stubFetcher struct {
	failures int
	calls    int
	got      domain.MediaVariant
}

func (f *stubFetcher) Fetch(ctx context.Context, v domain.MediaVariant) (domain.StoredArtifact, error) {
	f.calls++
	f.got = v
	if f.calls <= f.failures {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindInvalidMedia, "too small")
	}
	return domain.StoredArtifact{Filename: "abc.mp4", ByteSize: 2000, CreatedAt: time.Unix(1700000000, 0).UTC()}, nil
}

type fakeRecorder struct {
	entries []catalog.Entry
	err     error
}

func (r *fakeRecorder) Record(ctx context.Context, e catalog.Entry) error {
	r.entries = append(r.entries, e)
	return r.err
}

func videoDesc() domain.VideoDescriptor {
	var d domain.VideoDescriptor
	d.Title = "t"
	d.SetVariant(domain.QualityHD, "https://cdn.example.test/hd.mp4", false)
	d.SetVariant(domain.QualitySD, "https://cdn.example.test/sd-wm.mp4", true)
	d.SetClean(domain.QualitySD, "https://cdn.example.test/sd.mp4")
	return d
}

func fast(n uint) retry.Policy { return retry.Policy{MaxAttempts: n, Delay: time.Millisecond} }

func TestVideoInfo_RetriesWithinBudget(t *testing.T) {
	n := &stubNormalizer{}
	r := &stubResolver{desc: videoDesc(), failures: 2}
	s := &Service{Normalizer: n, Resolver: r, InfoPolicy: fast(3), ProcessPolicy: fast(1)}

	d, err := s.VideoInfo(context.Background(), "https://www.tiktok.com/@u/video/42")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if d.Title != "t" || r.calls != 3 || n.calls != 3 {
		t.Fatalf("期望第 3 次成功且每次都重新规范化：resolve=%d normalize=%d", r.calls, n.calls)
	}
}

func TestVideoInfo_InvalidURLNotRetried(t *testing.T) {
	n := &stubNormalizer{err: domain.Errorf(domain.KindInvalidURL, "bad")}
	r := &stubResolver{desc: videoDesc()}
	s := &Service{Normalizer: n, Resolver: r, InfoPolicy: fast(3)}

	_, err := s.VideoInfo(context.Background(), "https://youtube.com/x")
	if domain.KindOf(err) != domain.KindInvalidURL {
		t.Fatalf("期望 invalid_url，实际 %v", err)
	}
	if n.calls != 1 || r.calls != 0 {
		t.Fatalf("不可重试错误只应尝试一次：normalize=%d resolve=%d", n.calls, r.calls)
	}
}

func TestProcess_SelectsAndRecords(t *testing.T) {
	f := &stubFetcher{}
	rec := &fakeRecorder{err: errors.New("disk full")}
	s := &Service{
		Normalizer:    &stubNormalizer{},
		Resolver:      &stubResolver{desc: videoDesc()},
		Fetcher:       f,
		Catalog:       rec,
		ProcessPolicy: fast(3),
	}

	art, err := s.Process(context.Background(), ProcessRequest{URL: "https://www.tiktok.com/@u/video/42", Quality: domain.QualitySD, RemoveWatermark: true})
	if err != nil {
		t.Fatalf("目录写入失败不应影响结果：%v", err)
	}
	if art.Filename != "abc.mp4" {
		t.Fatalf("产物不符合预期：%+v", art)
	}
	if f.got.DirectURL != "https://cdn.example.test/sd.mp4" {
		t.Fatalf("去水印时应选择无水印备选，实际 %q", f.got.DirectURL)
	}
	if len(rec.entries) != 1 || rec.entries[0].CanonicalID != "42" || rec.entries[0].Quality != domain.QualitySD {
		t.Fatalf("目录记录不符合预期：%+v", rec.entries)
	}
}

func TestProcess_DefaultsToHD(t *testing.T) {
	f := &stubFetcher{}
	s := &Service{Normalizer: &stubNormalizer{}, Resolver: &stubResolver{desc: videoDesc()}, Fetcher: f, ProcessPolicy: fast(1)}
	if _, err := s.Process(context.Background(), ProcessRequest{URL: "u"}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if f.got.Quality != domain.QualityHD {
		t.Fatalf("默认应下载 HD，实际 %q", f.got.Quality)
	}
}

func TestProcess_NoSuchVariantNotRetried(t *testing.T) {
	r := &stubResolver{desc: videoDesc()}
	f := &stubFetcher{}
	s := &Service{Normalizer: &stubNormalizer{}, Resolver: r, Fetcher: f, ProcessPolicy: fast(3)}

	_, err := s.Process(context.Background(), ProcessRequest{URL: "u", Quality: domain.QualityAudio})
	if domain.KindOf(err) != domain.KindNoSuchVariant {
		t.Fatalf("期望 no_such_variant，实际 %v", err)
	}
	if r.calls != 1 || f.calls != 0 {
		t.Fatalf("不应重试或下载：resolve=%d fetch=%d", r.calls, f.calls)
	}
}

func TestProcess_SeparateBudgetAndLastError(t *testing.T) {
	f := &stubFetcher{failures: 10}
	s := &Service{
		Normalizer:    &stubNormalizer{},
		Resolver:      &stubResolver{desc: videoDesc()},
		Fetcher:       f,
		InfoPolicy:    fast(1),
		ProcessPolicy: fast(4),
	}
	_, err := s.Process(context.Background(), ProcessRequest{URL: "u"})
	if domain.KindOf(err) != domain.KindInvalidMedia {
		t.Fatalf("期望返回最后一次的 invalid_media，实际 %v", err)
	}
	if f.calls != 4 {
		t.Fatalf("Process 应使用自己的预算（4 次），实际 %d", f.calls)
	}
}
