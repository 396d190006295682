package feedapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/John-Robertt/vgrab/internal/domain"
)

const fixtureID = "7234567890123456789"

func readFixture(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", "feed.json"))
	if err != nil {
		t.Fatalf("读取 fixture 失败：%v", err)
	}
	return b
}

func TestParse_Fixture(t *testing.T) {
	d, err := Backend{}.Parse(domain.VideoReference{CanonicalID: fixtureID}, readFixture(t))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if d.Title != "sunset timelapse #fyp" || d.Author != "@skyline" {
		t.Fatalf("标题/作者不符合预期：%q %q", d.Title, d.Author)
	}
	if d.ThumbnailURL != "https://p16.example.test/cover.jpeg" {
		t.Fatalf("封面不符合预期：%q", d.ThumbnailURL)
	}
	if d.Stats == nil || d.Stats.Plays != 12034 || d.Stats.Likes != 987 || d.Stats.Shares != 45 {
		t.Fatalf("统计不符合预期：%+v", d.Stats)
	}

	play := "https://v16.example.test/play/7234567890123456789.mp4"
	if v := d.Variants[domain.QualityHD]; v.DirectURL != play || v.Watermarked {
		t.Fatalf("HD 应为 play_addr 且无水印：%+v", v)
	}
	if v := d.Variants[domain.QualitySD]; v.DirectURL != "https://v16.example.test/wm/7234567890123456789.mp4" || !v.Watermarked {
		t.Fatalf("SD 默认应为 download_addr 且带水印：%+v", v)
	}
	if v := d.Clean[domain.QualitySD]; v.DirectURL != play {
		t.Fatalf("SD 无水印备选应为 play_addr：%+v", v)
	}
	if v := d.Variants[domain.QualityAudio]; v.DirectURL != "https://sf16.example.test/music.mp3" {
		t.Fatalf("AUDIO 不符合预期：%+v", v)
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("描述应通过校验：%v", err)
	}
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"badjson":  `{"aweme_list":`,
		"nolist":   `{"aweme_list":[]}`,
		"mismatch": `{"aweme_list":[{"aweme_id":"1","video":{"play_addr":{"url_list":["https://x/1.mp4"]}}}]}`,
	}
	for name, payload := range cases {
		if _, err := (Backend{}).Parse(domain.VideoReference{CanonicalID: fixtureID}, []byte(payload)); err == nil {
			t.Fatalf("%s：期望错误", name)
		}
	}
}

func TestParse_NoDownloadAddrUsesPlayForSD(t *testing.T) {
	payload := `{"aweme_list":[{"aweme_id":"5","video":{"play_addr":{"url_list":["https://x/5.mp4"]}}}]}`
	d, err := Backend{}.Parse(domain.VideoReference{CanonicalID: "5"}, []byte(payload))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if v := d.Variants[domain.QualitySD]; v.DirectURL != "https://x/5.mp4" || v.Watermarked {
		t.Fatalf("SD 应回退 play_addr：%+v", v)
	}
	if len(d.Clean) != 0 {
		t.Fatalf("没有水印版本时不应有 Clean：%+v", d.Clean)
	}
	if d.Title != "TikTok Video" || d.Author != "@user" {
		t.Fatalf("缺字段时应使用默认展示值：%q %q", d.Title, d.Author)
	}
	if _, ok := d.Variants[domain.QualityAudio]; ok {
		t.Fatalf("没有音乐时不应有 AUDIO")
	}
}

func TestFetch_RequestShape(t *testing.T) {
	fixture := readFixture(t)
	var gotPath, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotID = r.URL.Query().Get("aweme_id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	}))
	defer srv.Close()

	b := Backend{BaseURL: srv.URL + "/"}
	payload, err := b.Fetch(context.Background(), domain.VideoReference{CanonicalID: fixtureID}, srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if gotPath != "/aweme/v1/feed/" || gotID != fixtureID {
		t.Fatalf("请求不符合预期：path=%q id=%q", gotPath, gotID)
	}
	if len(payload) != len(fixture) {
		t.Fatalf("载荷长度不符合预期：%d", len(payload))
	}
}

func TestFetch_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	b := Backend{BaseURL: srv.URL}
	if _, err := b.Fetch(context.Background(), domain.VideoReference{}, srv.Client()); err == nil {
		t.Fatalf("缺少 ID 时应报错")
	}
	if _, err := b.Fetch(context.Background(), domain.VideoReference{CanonicalID: "1"}, nil); err == nil {
		t.Fatalf("client 为空时应报错")
	}
	if _, err := b.Fetch(context.Background(), domain.VideoReference{CanonicalID: "1"}, srv.Client()); err == nil {
		t.Fatalf("非 2xx 应报错")
	}
}
