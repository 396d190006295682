package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/metrics"
	"github.com/John-Robertt/vgrab/internal/store"
)

const (
	DefaultChunkSize = 1 << 20
	DefaultMinBytes  = 1024
	// DefaultReadTimeout 是两次读到数据之间允许的最长间隔。
	DefaultReadTimeout = 30 * time.Second
)

var errReadStalled = errors.New("读取停滞")

// Select 按请求的清晰度从描述中挑选要下载的变体。
//
// 规则：
// - hd：优先 HD，缺失时回退 SD
// - sd：优先 SD，缺失时回退 HD
// - audio：只接受 AUDIO
// - removeWatermark 为 true 时，若同清晰度有无水印备选则使用它；没有时不做任何处理
func Select(d domain.VideoDescriptor, q domain.Quality, removeWatermark bool) (domain.MediaVariant, error) {
	var order []domain.Quality
	switch q {
	case domain.QualityHD, "":
		order = []domain.Quality{domain.QualityHD, domain.QualitySD}
	case domain.QualitySD:
		order = []domain.Quality{domain.QualitySD, domain.QualityHD}
	case domain.QualityAudio:
		order = []domain.Quality{domain.QualityAudio}
	default:
		return domain.MediaVariant{}, domain.Errorf(domain.KindNoSuchVariant, "不支持的清晰度：%q", q)
	}

	for _, want := range order {
		v, ok := d.Variants[want]
		if !ok || strings.TrimSpace(v.DirectURL) == "" {
			continue
		}
		if removeWatermark {
			if c, ok := d.Clean[want]; ok && strings.TrimSpace(c.DirectURL) != "" {
				v = c
			}
		}
		v.Quality = want
		return v, nil
	}
	return domain.MediaVariant{}, domain.Errorf(domain.KindNoSuchVariant, "没有可用的 %s 变体", q)
}

// Fetcher 把直链流式写入 Store。
//
// 约束：
// - 任一失败都 Abort 槽位（不留半成品）
// - 块与块之间检查 ctx；客户端断开会中止下载
// - text/html 响应视为无效媒体（上游返回了错误页或验证页）
// - 最终大小必须 >= MinBytes；设置了 MaxBytes 时超出即中止
// - 超过 ReadTimeout 没有收到任何数据（含等待响应头）即中止，按 KindFetch 返回
type Fetcher struct {
	Client *http.Client
	Store  *store.Store

	ChunkSize int
	MinBytes  int64
	// MaxBytes <= 0 表示不限制。
	MaxBytes int64
	// ReadTimeout <= 0 时使用 DefaultReadTimeout。
	ReadTimeout time.Duration

	Metrics metrics.Metrics
	Logger  *slog.Logger
}

// Fetch 下载 v 并提交到 Store。
func (f *Fetcher) Fetch(ctx context.Context, v domain.MediaVariant) (domain.StoredArtifact, error) {
	m := metrics.OrNoop(f.Metrics)
	art, err := f.fetch(ctx, v)
	if err != nil {
		m.IncFetch(string(domain.KindOf(err)))
		f.logger().Warn("下载失败", "quality", v.Quality, "error", err)
		return domain.StoredArtifact{}, err
	}
	m.IncFetch("ok")
	m.AddFetchedBytes(int64(art.ByteSize))
	f.logger().Info("下载完成", "file", art.Filename, "bytes", art.ByteSize)
	return art, nil
}

func (f *Fetcher) fetch(ctx context.Context, v domain.MediaVariant) (domain.StoredArtifact, error) {
	if f.Client == nil || f.Store == nil {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindInternal, "fetcher 未配置 client/store")
	}
	u := strings.TrimSpace(v.DirectURL)
	if u == "" {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindNoSuchVariant, "直链为空")
	}

	rctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	d := f.readTimeout()
	idle := time.AfterFunc(d, func() { cancel(errReadStalled) })
	defer idle.Stop()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.StoredArtifact{}, domain.Wrap(domain.KindFetch, "直链无效", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		if stalled(ctx, rctx) {
			return domain.StoredArtifact{}, domain.Wrap(domain.KindFetch, "等待直链响应超时", errReadStalled)
		}
		return domain.StoredArtifact{}, domain.Wrap(domain.KindFetch, "请求直链失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindFetch, "直链返回 HTTP %d", resp.StatusCode)
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindInvalidMedia, "直链返回了 HTML 页面")
	}
	if f.MaxBytes > 0 && resp.ContentLength > f.MaxBytes {
		return domain.StoredArtifact{}, domain.Errorf(domain.KindInvalidMedia, "媒体过大：%d 字节", resp.ContentLength)
	}

	h, err := f.Store.Allocate(v.Quality.Ext())
	if err != nil {
		return domain.StoredArtifact{}, domain.Wrap(domain.KindInternal, "分配存储失败", err)
	}
	if err := f.copy(rctx, h, &idleReader{r: resp.Body, t: idle, d: d}); err != nil {
		_ = h.Abort()
		if stalled(ctx, rctx) {
			return domain.StoredArtifact{}, domain.Wrap(domain.KindFetch, "读取媒体超时", errReadStalled)
		}
		return domain.StoredArtifact{}, err
	}
	if h.Size() < f.minBytes() {
		_ = h.Abort()
		return domain.StoredArtifact{}, domain.Errorf(domain.KindInvalidMedia, "媒体过小：%d 字节", h.Size())
	}
	art, err := f.Store.Commit(h)
	if err != nil {
		return domain.StoredArtifact{}, domain.Wrap(domain.KindInternal, "提交存储失败", err)
	}
	return art, nil
}

func (f *Fetcher) copy(ctx context.Context, w *store.WriteHandle, r io.Reader) error {
	buf := make([]byte, f.chunkSize())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if f.MaxBytes > 0 && w.Size()+int64(n) > f.MaxBytes {
				return domain.Errorf(domain.KindInvalidMedia, "媒体超过上限 %d 字节", f.MaxBytes)
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return domain.Wrap(domain.KindInternal, "写入存储失败", err)
			}
		}
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return domain.Wrap(domain.KindFetch, "读取媒体失败", rerr)
		}
	}
}

// stalled 报告 rctx 是否因读取停滞而取消（调用方自己的取消不算）。
func stalled(parent, rctx context.Context) bool {
	return parent.Err() == nil && errors.Is(context.Cause(rctx), errReadStalled)
}

// idleReader 每读到数据就把停滞计时器推后 d。
type idleReader struct {
	r io.Reader
	t *time.Timer
	d time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.t.Reset(r.d)
	}
	return n, err
}

func (f *Fetcher) readTimeout() time.Duration {
	if f.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return f.ReadTimeout
}

func (f *Fetcher) chunkSize() int {
	if f.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return f.ChunkSize
}

func (f *Fetcher) minBytes() int64 {
	if f.MinBytes <= 0 {
		return DefaultMinBytes
	}
	return f.MinBytes
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger.With("component", "fetch")
	}
	return slog.Default().With("component", "fetch")
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}
