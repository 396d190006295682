package tikwm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/resolver"
)

// DefaultBaseURL 是聚合接口的默认地址。
const DefaultBaseURL = "https://www.tikwm.com"

// Backend 通过第三方聚合接口按页面 URL 查询直链。
//
// 约束：
// - code != 0 视为失败，错误信息取 msg
// - 接口有时返回站内相对路径，统一按 BaseURL 解析为绝对地址
// - play 无水印；只有 wmplay 时 SD 退化为带水印版本
type Backend struct {
	BaseURL string
}

func (Backend) Name() string { return "tikwm" }

func (b Backend) baseURL() string {
	u := strings.TrimSpace(b.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// Fetch 以表单 POST {base}/api/（url=<页面地址>&hd=1）。
func (b Backend) Fetch(ctx context.Context, ref domain.VideoReference, c *http.Client) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	page := resolver.RefURL(ref.CanonicalURL, ref.SourceURL)
	if page == "" {
		return nil, errors.New("缺少页面 URL")
	}
	form := url.Values{}
	form.Set("url", page)
	form.Set("hd", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL()+"/api/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return resolver.ReadOK(c, req)
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type videoData struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Cover      string `json:"cover"`
	Play       string `json:"play"`
	WMPlay     string `json:"wmplay"`
	HDPlay     string `json:"hdplay"`
	Music      string `json:"music"`
	PlayCount  uint64 `json:"play_count"`
	DiggCount  uint64 `json:"digg_count"`
	ShareCount uint64 `json:"share_count"`
	Author     struct {
		UniqueID string `json:"unique_id"`
	} `json:"author"`
}

// Parse 把聚合接口响应归一为 VideoDescriptor。
func (b Backend) Parse(ref domain.VideoReference, payload []byte) (domain.VideoDescriptor, error) {
	if len(payload) == 0 {
		return domain.VideoDescriptor{}, errors.New("响应为空")
	}
	var resp apiResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.VideoDescriptor{}, fmt.Errorf("响应不是合法 JSON：%w", err)
	}
	if resp.Code != 0 {
		msg := strings.TrimSpace(resp.Msg)
		if msg == "" {
			msg = "API error"
		}
		return domain.VideoDescriptor{}, fmt.Errorf("接口返回 code=%d：%s", resp.Code, msg)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return domain.VideoDescriptor{}, errors.New("响应缺少 data")
	}
	var v videoData
	if err := json.Unmarshal(resp.Data, &v); err != nil {
		return domain.VideoDescriptor{}, fmt.Errorf("data 结构不符合预期：%w", err)
	}

	base := b.baseURL() + "/"
	d := domain.VideoDescriptor{
		Title:        resolver.TitleOr(v.Title),
		Author:       resolver.Handle(v.Author.UniqueID),
		ThumbnailURL: resolveURL(base, v.Cover),
	}
	if v.PlayCount+v.DiggCount+v.ShareCount > 0 {
		d.Stats = &domain.Stats{Plays: v.PlayCount, Likes: v.DiggCount, Shares: v.ShareCount}
	}

	d.SetVariant(domain.QualityHD, resolveURL(base, v.HDPlay), false)
	if play := resolveURL(base, v.Play); play != "" {
		d.SetVariant(domain.QualitySD, play, false)
	} else {
		d.SetVariant(domain.QualitySD, resolveURL(base, v.WMPlay), true)
	}
	d.SetVariant(domain.QualityAudio, resolveURL(base, v.Music), false)
	return d, nil
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
