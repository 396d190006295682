package domain

import (
	"fmt"
	"strings"
)

// VideoReference 描述一个待解析的视频来源。
//
// 不变量（实现必须遵守）：
// - 构造前 URL 必须已通过域名白名单校验（只由 link.Normalizer 产出）
// - SourceURL 保留用户输入（部分后端直接消费原始链接）
// - CanonicalID 允许为空：部分后端只依赖 URL
type VideoReference struct {
	SourceURL    string `json:"source_url"`
	CanonicalURL string `json:"canonical_url"`
	CanonicalID  string `json:"canonical_id,omitempty"`
}

// Quality 是清晰度标签。
type Quality string

const (
	QualityHD    Quality = "hd"
	QualitySD    Quality = "sd"
	QualityAudio Quality = "audio"
)

// ParseQuality 解析外部输入的清晰度（大小写不敏感）；空串视为 hd。
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityHD:
		return QualityHD, nil
	case QualitySD:
		return QualitySD, nil
	case QualityAudio:
		return QualityAudio, nil
	default:
		return "", &Error{Kind: KindInvalidRequest, Msg: fmt.Sprintf("quality 只能是 hd/sd/audio，实际是 %q", s)}
	}
}

// Ext 返回该清晰度落盘时使用的扩展名。
func (q Quality) Ext() string {
	if q == QualityAudio {
		return ".mp3"
	}
	return ".mp4"
}

// MediaVariant 是某一清晰度的直链。
// 直链通常是上游签名的限时 URL，必须尽快消费，不做缓存。
type MediaVariant struct {
	DirectURL   string  `json:"direct_url"`
	Quality     Quality `json:"quality"`
	Watermarked bool    `json:"watermarked,omitempty"`
}

type Stats struct {
	Plays  uint64 `json:"plays"`
	Likes  uint64 `json:"likes"`
	Shares uint64 `json:"shares"`
}

// VideoDescriptor 是解析成功后的统一结构（所有后端都归一到这里）。
//
// Variants 是默认选择；Clean 只在上游额外提供无水印版本时填充。
type VideoDescriptor struct {
	Title        string                   `json:"title"`
	Author       string                   `json:"author"`
	ThumbnailURL string                   `json:"thumbnail_url"`
	Stats        *Stats                   `json:"stats,omitempty"`
	Variants     map[Quality]MediaVariant `json:"variants"`
	Clean        map[Quality]MediaVariant `json:"clean_variants,omitempty"`
}

// Validate 要求至少有一个可用直链；否则整次解析视为失败。
func (d VideoDescriptor) Validate() error {
	for _, v := range d.Variants {
		if strings.TrimSpace(v.DirectURL) != "" {
			return nil
		}
	}
	return fmt.Errorf("描述中没有任何可用直链")
}

// SetVariant 在 url 非空时写入 Variants（自动补齐 Quality）。
func (d *VideoDescriptor) SetVariant(q Quality, url string, watermarked bool) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	if d.Variants == nil {
		d.Variants = make(map[Quality]MediaVariant, 3)
	}
	d.Variants[q] = MediaVariant{DirectURL: url, Quality: q, Watermarked: watermarked}
}

// SetClean 在 url 非空时写入无水印备选。
func (d *VideoDescriptor) SetClean(q Quality, url string) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	if d.Clean == nil {
		d.Clean = make(map[Quality]MediaVariant, 2)
	}
	d.Clean[q] = MediaVariant{DirectURL: url, Quality: q}
}
