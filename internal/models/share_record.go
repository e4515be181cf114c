package models

import "time"

// ScanStatus 扫描状态机的状态
type ScanStatus string

const (
	ScanPending  ScanStatus = "pending"  // 记录创建时的初始状态
	ScanScanning ScanStatus = "scanning" // 可选的中间状态,部分路径直接跳到判定结果
	ScanClean    ScanStatus = "clean"
	ScanInfected ScanStatus = "infected"
	ScanError    ScanStatus = "error" // 非终态,由新一轮扫描重试
	ScanSkipped  ScanStatus = "skipped"
)

// AllowsDownload 只有 clean 和 skipped 允许下载
func (s ScanStatus) AllowsDownload() bool {
	return s == ScanClean || s == ScanSkipped
}

// IsTerminal error 状态可以被新的扫描覆盖,不算终态
func (s ScanStatus) IsTerminal() bool {
	return s == ScanClean || s == ScanInfected || s == ScanSkipped
}

// AssetRef 清单中一个分块资产的引用
type AssetRef struct {
	PartIndex int    `json:"part_index"` // 从1开始
	AssetID   string `json:"asset_id"`
	DirectURL string `json:"direct_url,omitempty"` // 匿名直连快速路径,可为空
}

// Manifest 记录逻辑文件到物理分块的映射,是多分块拼接路径的唯一依据
type Manifest struct {
	TotalParts       int        `json:"total_parts"`
	Compressed       bool       `json:"compressed"`
	OriginalFilename string     `json:"original_filename"`
	Parts            []AssetRef `json:"parts"`
}

// StorageHandle 指向分块对象存储中一个完整Release的不透明引用
type StorageHandle struct {
	ContainerID string   `json:"container_id"`
	Tag         string   `json:"tag"`
	DownloadURL string   `json:"download_url,omitempty"` // 首个分块的直连URL
	Manifest    Manifest `json:"manifest"`
}

// IsZero 判断句柄是否为空(记录尚未完成上传)
func (h *StorageHandle) IsZero() bool {
	return h.ContainerID == "" && h.Tag == ""
}

// ShareRecord 每个分享码对应一条记录,分享码同时也是键值存储的key
type ShareRecord struct {
	ShareCode   string     `json:"share_code"`
	Filename    string     `json:"filename"`
	Size        int64      `json:"size"`
	SHA256      string     `json:"sha256"`
	MimeType    string     `json:"mime_type"`
	UploadedAt  int64      `json:"uploaded_at"` // Unix毫秒
	ExpiresAt   int64      `json:"expires_at"`  // Unix毫秒,距创建时间不超过硬上限
	UsesLeft    int        `json:"uses_left"`
	MaxUses     int        `json:"max_uses"`
	ScanStatus  ScanStatus `json:"scan_status"`
	ScanSkipped bool       `json:"scan_skipped,omitempty"`

	Storage *StorageHandle `json:"storage,omitempty"`

	// RequireCaptcha 一旦置位则对该记录的所有下载强制验证码
	RequireCaptcha bool `json:"require_captcha,omitempty"`

	// 墓碑标记:记录仅为审计保留,绝不再提供下载
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedAt int64 `json:"deleted_at,omitempty"`
}

// IsExpired 判断记录是否已过期
func (r *ShareRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt < now.UnixMilli()
}

// IsExhausted 判断下载次数是否已用尽
func (r *ShareRecord) IsExhausted() bool {
	return r.UsesLeft <= 0
}

// RecordUpdate 显式声明一次局部更新允许触碰的字段,
// 避免并发更新时无意覆盖其他字段(各字段在实践中互不相交:
// 扫描状态、存储句柄、验证码标记、删除标记)
type RecordUpdate struct {
	ScanStatus     *ScanStatus
	Storage        *StorageHandle
	RequireCaptcha *bool
	Deleted        *bool
	DeletedAt      *int64
}

// Apply 将更新合并到记录上
func (u *RecordUpdate) Apply(r *ShareRecord) {
	if u.ScanStatus != nil {
		r.ScanStatus = *u.ScanStatus
	}
	if u.Storage != nil {
		r.Storage = u.Storage
	}
	if u.RequireCaptcha != nil {
		r.RequireCaptcha = *u.RequireCaptcha
	}
	if u.Deleted != nil {
		r.Deleted = *u.Deleted
	}
	if u.DeletedAt != nil {
		r.DeletedAt = *u.DeletedAt
	}
}
