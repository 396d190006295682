package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/store"
)

func newFetcher(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "downloads"))
	if err != nil {
		t.Fatalf("store.New 失败：%v", err)
	}
	return &Fetcher{Client: srv.Client(), Store: s, ChunkSize: 256}
}

func entries(t *testing.T, f *Fetcher) int {
	t.Helper()
	es, err := os.ReadDir(f.Store.Root)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	return len(es)
}

func serveBytes(body []byte, contentType string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		_, _ = w.Write(body)
	}))
}

func TestFetch_StreamsToStore(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 200)
	srv := serveBytes(body, "video/mp4")
	defer srv.Close()

	f := newFetcher(t, srv)
	art, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: srv.URL + "/v.mp4", Quality: domain.QualityHD})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if art.ByteSize != 2000 || filepath.Ext(art.Filename) != ".mp4" {
		t.Fatalf("产物不符合预期：%+v", art)
	}
	got, err := os.ReadFile(filepath.Join(f.Store.Root, art.Filename))
	if err != nil {
		t.Fatalf("读取产物失败：%v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("产物内容与源不一致")
	}
}

func TestFetch_AudioUsesMp3(t *testing.T) {
	srv := serveBytes(bytes.Repeat([]byte{1}, 4096), "audio/mpeg")
	defer srv.Close()

	f := newFetcher(t, srv)
	art, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: srv.URL, Quality: domain.QualityAudio})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if filepath.Ext(art.Filename) != ".mp3" {
		t.Fatalf("音频应使用 .mp3，实际 %q", art.Filename)
	}
}

func TestFetch_RejectsAndLeavesNothing(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		max     int64
		want    domain.Kind
	}{
		{
			name: "too small",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(bytes.Repeat([]byte("x"), 512))
			},
			want: domain.KindInvalidMedia,
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "gone", http.StatusNotFound)
			},
			want: domain.KindFetch,
		},
		{
			name: "html page",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write(bytes.Repeat([]byte("<p>"), 1000))
			},
			want: domain.KindInvalidMedia,
		},
		{
			name: "over cap",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "video/mp4")
				for i := 0; i < 10; i++ {
					_, _ = w.Write(bytes.Repeat([]byte("y"), 1000))
					w.(http.Flusher).Flush()
				}
			},
			max:  4000,
			want: domain.KindInvalidMedia,
		},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(tc.handler)
		f := newFetcher(t, srv)
		f.MaxBytes = tc.max
		_, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: srv.URL, Quality: domain.QualityHD})
		srv.Close()

		if got := domain.KindOf(err); got != tc.want {
			t.Fatalf("%s：期望 %s，实际 %s（%v）", tc.name, tc.want, got, err)
		}
		if !domain.IsRetryable(err) {
			t.Fatalf("%s：期望可重试", tc.name)
		}
		if n := entries(t, f); n != 0 {
			t.Fatalf("%s：失败后不应留下文件，实际 %d 个", tc.name, n)
		}
	}
}

func TestFetch_ContextCanceledMidStream(t *testing.T) {
	sent := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(bytes.Repeat([]byte("z"), 300))
		w.(http.Flusher).Flush()
		close(sent)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFetcher(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sent
		cancel()
	}()

	_, err := f.Fetch(ctx, domain.MediaVariant{DirectURL: srv.URL, Quality: domain.QualityHD})
	if err == nil {
		t.Fatalf("期望错误")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if n := entries(t, f); n != 0 {
		t.Fatalf("取消后不应留下文件，实际 %d 个", n)
	}
}

func TestFetch_StalledBodyTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(bytes.Repeat([]byte("s"), 100))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newFetcher(t, srv)
	f.ReadTimeout = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: srv.URL, Quality: domain.QualityHD})
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("停滞的响应体应在 ReadTimeout 后中止")
	}
	if domain.KindOf(err) != domain.KindFetch {
		t.Fatalf("期望 fetch 错误，实际 %v", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Fatalf("停滞不应表现为调用方取消：%v", err)
	}
	if n := entries(t, f); n != 0 {
		t.Fatalf("超时后不应留下文件，实际 %d 个", n)
	}
}

func TestFetch_SlowButSteadyBodyCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		for i := 0; i < 8; i++ {
			_, _ = w.Write(bytes.Repeat([]byte("p"), 200))
			w.(http.Flusher).Flush()
			time.Sleep(30 * time.Millisecond)
		}
	}))
	defer srv.Close()

	f := newFetcher(t, srv)
	f.ReadTimeout = 200 * time.Millisecond
	art, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: srv.URL, Quality: domain.QualityHD})
	if err != nil {
		t.Fatalf("总耗时超过 ReadTimeout 但持续有数据时不应中止：%v", err)
	}
	if art.ByteSize != 1600 {
		t.Fatalf("期望 1600 字节，实际 %d", art.ByteSize)
	}
}

func TestFetch_Misconfigured(t *testing.T) {
	f := &Fetcher{}
	if _, err := f.Fetch(context.Background(), domain.MediaVariant{DirectURL: "http://x"}); domain.KindOf(err) != domain.KindInternal {
		t.Fatalf("未配置时期望 internal，实际 %v", err)
	}
}

func descriptor() domain.VideoDescriptor {
	var d domain.VideoDescriptor
	d.SetVariant(domain.QualityHD, "https://cdn/hd.mp4", false)
	d.SetVariant(domain.QualitySD, "https://cdn/sd-wm.mp4", true)
	d.SetClean(domain.QualitySD, "https://cdn/sd-clean.mp4")
	return d
}

func TestSelect(t *testing.T) {
	d := descriptor()
	cases := []struct {
		q       domain.Quality
		noWM    bool
		wantURL string
	}{
		{domain.QualityHD, false, "https://cdn/hd.mp4"},
		{domain.QualityHD, true, "https://cdn/hd.mp4"},
		{domain.QualitySD, false, "https://cdn/sd-wm.mp4"},
		{domain.QualitySD, true, "https://cdn/sd-clean.mp4"},
	}
	for _, tc := range cases {
		v, err := Select(d, tc.q, tc.noWM)
		if err != nil {
			t.Fatalf("Select(%s,%t) 不期望错误：%v", tc.q, tc.noWM, err)
		}
		if v.DirectURL != tc.wantURL {
			t.Fatalf("Select(%s,%t) 期望 %q，实际 %q", tc.q, tc.noWM, tc.wantURL, v.DirectURL)
		}
	}

	if _, err := Select(d, domain.QualityAudio, false); domain.KindOf(err) != domain.KindNoSuchVariant {
		t.Fatalf("没有 AUDIO 时期望 no_such_variant，实际 %v", err)
	}
}

func TestSelect_FallsBackAcrossVideoQualities(t *testing.T) {
	var onlySD domain.VideoDescriptor
	onlySD.SetVariant(domain.QualitySD, "https://cdn/sd.mp4", false)
	v, err := Select(onlySD, domain.QualityHD, false)
	if err != nil || v.DirectURL != "https://cdn/sd.mp4" || v.Quality != domain.QualitySD {
		t.Fatalf("HD 缺失时应回退 SD：%+v %v", v, err)
	}

	var onlyHD domain.VideoDescriptor
	onlyHD.SetVariant(domain.QualityHD, "https://cdn/hd.mp4", false)
	v, err = Select(onlyHD, domain.QualitySD, false)
	if err != nil || v.DirectURL != "https://cdn/hd.mp4" {
		t.Fatalf("SD 缺失时应回退 HD：%+v %v", v, err)
	}

	if _, err := Select(domain.VideoDescriptor{}, domain.QualityHD, false); domain.KindOf(err) != domain.KindNoSuchVariant {
		t.Fatalf("无变体时期望 no_such_variant，实际 %v", err)
	}
}
