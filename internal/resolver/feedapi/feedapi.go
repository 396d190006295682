package feedapi

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

// DefaultBaseURL 是原生 feed 接口的默认地址。
const DefaultBaseURL = "https://api16-normal-c-useast1a.tiktokv.com"

// Backend 通过原生 feed 接口按视频 ID 查询直链。
//
// 约束：
// - 必须有 CanonicalID；没有 ID 时 Fetch 直接失败（交给链路里按 URL 工作的后端）
// - aweme_list[0] 的 ID 必须与请求的 ID 一致（接口偶尔返回推荐流里的其它视频）
// - play_addr 无水印，download_addr 带水印
type Backend struct {
	// BaseURL 为空时使用 DefaultBaseURL。
	BaseURL string
}

func (Backend) Name() string { return "feedapi" }

func (b Backend) baseURL() string {
	u := strings.TrimSpace(b.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

// Fetch 请求 {base}/aweme/v1/feed/?aweme_id=<id>。
func (b Backend) Fetch(ctx context.Context, ref domain.VideoReference, c *http.Client) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	id := strings.TrimSpace(ref.CanonicalID)
	if id == "" {
		return nil, errors.New("缺少视频 ID")
	}
	u := b.baseURL() + "/aweme/v1/feed/?aweme_id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return resolver.ReadOK(c, req)
}

type urlList struct {
	URLList []string `json:"url_list"`
}

func (u urlList) first() string {
	for _, s := range u.URLList {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

type aweme struct {
	AwemeID string `json:"aweme_id"`
	Desc    string `json:"desc"`
	Author  struct {
		UniqueID string `json:"unique_id"`
	} `json:"author"`
	Video struct {
		Cover        urlList `json:"cover"`
		PlayAddr     urlList `json:"play_addr"`
		DownloadAddr urlList `json:"download_addr"`
	} `json:"video"`
	Music struct {
		PlayURL urlList `json:"play_url"`
	} `json:"music"`
	Statistics *struct {
		PlayCount  uint64 `json:"play_count"`
		DiggCount  uint64 `json:"digg_count"`
		ShareCount uint64 `json:"share_count"`
	} `json:"statistics"`
}

type feedResponse struct {
	AwemeList []aweme `json:"aweme_list"`
}

// Parse 把 feed 响应归一为 VideoDescriptor。
func (Backend) Parse(ref domain.VideoReference, payload []byte) (domain.VideoDescriptor, error) {
	if len(payload) == 0 {
		return domain.VideoDescriptor{}, errors.New("响应为空")
	}
	var resp feedResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return domain.VideoDescriptor{}, fmt.Errorf("响应不是合法 JSON：%w", err)
	}
	if len(resp.AwemeList) == 0 {
		return domain.VideoDescriptor{}, errors.New("aweme_list 为空")
	}
	a := resp.AwemeList[0]
	if id := strings.TrimSpace(a.AwemeID); id != "" && ref.CanonicalID != "" && id != ref.CanonicalID {
		return domain.VideoDescriptor{}, fmt.Errorf("返回的视频 ID 不匹配：期望 %s，实际 %s", ref.CanonicalID, id)
	}

	d := domain.VideoDescriptor{
		Title:        resolver.TitleOr(a.Desc),
		Author:       resolver.Handle(a.Author.UniqueID),
		ThumbnailURL: a.Video.Cover.first(),
	}
	if s := a.Statistics; s != nil {
		d.Stats = &domain.Stats{Plays: s.PlayCount, Likes: s.DiggCount, Shares: s.ShareCount}
	}

	play := a.Video.PlayAddr.first()
	download := a.Video.DownloadAddr.first()
	d.SetVariant(domain.QualityHD, play, false)
	if download != "" {
		d.SetVariant(domain.QualitySD, download, true)
		d.SetClean(domain.QualitySD, play)
	} else {
		d.SetVariant(domain.QualitySD, play, false)
	}
	d.SetVariant(domain.QualityAudio, a.Music.PlayURL.first(), false)
	return d, nil
}
