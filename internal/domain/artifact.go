package domain

import "time"

// StoredArtifact 是已落盘且通过校验的媒体文件。
//
// 约束：
// - Filename 由 store 随机生成，与用户输入无关
// - 只有完整字节流通过校验后才会出现（半成品不会有 StoredArtifact）
type StoredArtifact struct {
	Filename  string    `json:"filename"`
	ByteSize  uint64    `json:"byte_size"`
	CreatedAt time.Time `json:"created_at"`
}

// DownloadPath 是对外暴露的下载路径。
func (a StoredArtifact) DownloadPath() string {
	return "/download/" + a.Filename
}
