package webpage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/vgrab/internal/domain"
	"github.com/John-Robertt/vgrab/internal/resolver"
)

// 页面里内嵌数据都缺失时的最后手段。
var downloadAddrRE = regexp.MustCompile(`"downloadAddr":"([^"]+)"`)

// Backend 直接抓取视频页面，从内嵌的 JSON 状态里取直链。
//
// 约束：
// - 不执行 JS，只读取服务端渲染进 HTML 的数据
// - 依次尝试 __UNIVERSAL_DATA_FOR_REHYDRATION__、SIGI_STATE、正则兜底
// - 遇到验证码页面返回 *resolver.BlockedError，不尝试绕过
type Backend struct{}

func (Backend) Name() string { return "webpage" }

func (Backend) Fetch(ctx context.Context, ref domain.VideoReference, c *http.Client) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	page := resolver.RefURL(ref.CanonicalURL, ref.SourceURL)
	if page == "" {
		return nil, errors.New("缺少页面 URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return resolver.ReadOK(c, req)
}

type itemStruct struct {
	ID     string `json:"id"`
	Desc   string `json:"desc"`
	Author struct {
		UniqueID string `json:"uniqueId"`
	} `json:"author"`
	Video struct {
		Cover        string `json:"cover"`
		PlayAddr     string `json:"playAddr"`
		DownloadAddr string `json:"downloadAddr"`
	} `json:"video"`
	Stats *struct {
		PlayCount  uint64 `json:"playCount"`
		DiggCount  uint64 `json:"diggCount"`
		ShareCount uint64 `json:"shareCount"`
	} `json:"stats"`
	Music struct {
		PlayURL string `json:"playUrl"`
	} `json:"music"`
}

type universalData struct {
	DefaultScope struct {
		VideoDetail struct {
			ItemInfo struct {
				ItemStruct *itemStruct `json:"itemStruct"`
			} `json:"itemInfo"`
		} `json:"webapp.video-detail"`
	} `json:"__DEFAULT_SCOPE__"`
}

type sigiState struct {
	ItemModule map[string]*itemStruct `json:"ItemModule"`
}

// Parse 解析页面 HTML。
func (Backend) Parse(ref domain.VideoReference, payload []byte) (domain.VideoDescriptor, error) {
	if len(payload) == 0 {
		return domain.VideoDescriptor{}, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return domain.VideoDescriptor{}, err
	}

	ogTitle := metaContent(doc, "og:title")
	ogImage := metaContent(doc, "og:image")

	// 新版数据块可能存在但不带地址，此时仍要看旧版 SIGI_STATE。
	for _, item := range []*itemStruct{universalItem(doc), sigiItem(doc, ref.CanonicalID)} {
		if hasAddr(item) {
			return fromItem(item, ogTitle, ogImage), nil
		}
	}

	if m := downloadAddrRE.FindSubmatch(payload); len(m) == 2 {
		u := unescape(string(m[1]))
		d := domain.VideoDescriptor{
			Title:        resolver.TitleOr(ogTitle),
			Author:       resolver.DefaultAuthor,
			ThumbnailURL: ogImage,
		}
		d.SetVariant(domain.QualityHD, u, true)
		d.SetVariant(domain.QualitySD, u, true)
		return d, nil
	}

	if looksBlocked(doc) {
		return domain.VideoDescriptor{}, &resolver.BlockedError{URL: ref.CanonicalURL, Reason: "captcha"}
	}
	return domain.VideoDescriptor{}, errors.New("页面中未找到视频直链")
}

func hasAddr(item *itemStruct) bool {
	return item != nil && (item.Video.PlayAddr != "" || item.Video.DownloadAddr != "")
}

func universalItem(doc *goquery.Document) *itemStruct {
	raw := strings.TrimSpace(doc.Find("script#__UNIVERSAL_DATA_FOR_REHYDRATION__").First().Text())
	if raw == "" {
		return nil
	}
	var u universalData
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil
	}
	return u.DefaultScope.VideoDetail.ItemInfo.ItemStruct
}

// sigiItem 优先取 id 匹配的条目；否则按 key 排序取第一个（保证 Parse 的确定性）。
func sigiItem(doc *goquery.Document, id string) *itemStruct {
	raw := strings.TrimSpace(doc.Find("script#SIGI_STATE").First().Text())
	if raw == "" {
		return nil
	}
	var s sigiState
	if err := json.Unmarshal([]byte(raw), &s); err != nil || len(s.ItemModule) == 0 {
		return nil
	}
	if it, ok := s.ItemModule[id]; ok && it != nil {
		return it
	}
	keys := make([]string, 0, len(s.ItemModule))
	for k := range s.ItemModule {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.ItemModule[keys[0]]
}

func fromItem(it *itemStruct, ogTitle, ogImage string) domain.VideoDescriptor {
	title := strings.TrimSpace(it.Desc)
	if title == "" {
		title = ogTitle
	}
	cover := strings.TrimSpace(it.Video.Cover)
	if cover == "" {
		cover = ogImage
	}
	d := domain.VideoDescriptor{
		Title:        resolver.TitleOr(title),
		Author:       resolver.Handle(it.Author.UniqueID),
		ThumbnailURL: cover,
	}
	if s := it.Stats; s != nil {
		d.Stats = &domain.Stats{Plays: s.PlayCount, Likes: s.DiggCount, Shares: s.ShareCount}
	}

	play := strings.TrimSpace(it.Video.PlayAddr)
	download := strings.TrimSpace(it.Video.DownloadAddr)
	switch {
	case play != "" && download != "":
		d.SetVariant(domain.QualityHD, play, false)
		d.SetVariant(domain.QualitySD, download, true)
		d.SetClean(domain.QualitySD, play)
	case play != "":
		d.SetVariant(domain.QualityHD, play, false)
		d.SetVariant(domain.QualitySD, play, false)
	default:
		d.SetVariant(domain.QualityHD, download, true)
		d.SetVariant(domain.QualitySD, download, true)
	}
	d.SetVariant(domain.QualityAudio, it.Music.PlayURL, false)
	return d
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(`meta[property="` + property + `"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find(`meta[name="` + property + `"]`).First()
	}
	v, _ := sel.Attr("content")
	return strings.TrimSpace(v)
}

// unescape 处理 JSON 字符串转义（例如 \u002F）；失败时原样返回。
func unescape(s string) string {
	s = strings.ReplaceAll(s, `\/`, "/")
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return s
}

func looksBlocked(doc *goquery.Document) bool {
	if doc.Find("#captcha-verify-container, .captcha_verify_container").Length() > 0 {
		return true
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	return strings.Contains(title, "verify") || strings.Contains(title, "captcha")
}
