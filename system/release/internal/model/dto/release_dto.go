package dto

import (
	"time"

	"deploymate/system/release/internal/model"
)

// UploadReq 上传请求中除文件以外的字段
type UploadReq struct {
	AppID    string                       `json:"appId" validate:"required" comment:"应用ID"`
	Platform string                       `json:"platform" validate:"omitempty,platform" comment:"平台"`
	FileName string                       `json:"fileName" validate:"required,max=255" comment:"文件名"`
	FileSize int64                        `json:"fileSize" comment:"文件大小"`
	Groups   []model.DistributionGroupRef `json:"groups" validate:"dive" comment:"分发组"`
}

// UploadResp 上传受理结果，解析在后台异步完成
type UploadResp struct {
	ReleaseID string              `json:"releaseId"`
	Status    model.ReleaseStatus `json:"status"`
	JobID     string              `json:"jobId"`
}

// InstallLinkResp iOS 安装链接
type InstallLinkResp struct {
	ManifestURL     string    `json:"manifestUrl"`
	ItmsServicesURL string    `json:"itmsServicesUrl"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// DeadLetterView 死信任务
type DeadLetterView struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ReleaseID  string    `json:"releaseId"`
	Attempt    int       `json:"attempt"`
	LastError  string    `json:"lastError"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
