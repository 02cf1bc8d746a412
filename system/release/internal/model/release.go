package model

import (
	"time"

	"deploymate/pkg/core/model/common"
)

// Platform 安装包平台
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// GroupType 分发组类型
type GroupType string

const (
	GroupTypeApp GroupType = "app"
	GroupTypeOrg GroupType = "org"
)

// DistributionGroupRef 上传时选择的分发组，随发布记录与任务负载保存，不单独建表
type DistributionGroupRef struct {
	ID   string    `json:"id" validate:"required" comment:"分发组ID"`
	Type GroupType `json:"type" validate:"required,oneof=app org" comment:"分发组类型"`
}

// Release 一次上传的安装包
type Release struct {
	common.ModelString
	AppID              string                                 `gorm:"size:64;not null;index" json:"appId" comment:"应用 ID"`
	Version            string                                 `gorm:"size:64;not null;default:''" json:"version" comment:"版本号"`
	BuildNumber        string                                 `gorm:"size:64;not null;default:''" json:"buildNumber" comment:"构建号"`
	FileSize           int64                                  `gorm:"not null;default:0" json:"fileSize" comment:"文件大小（字节）"`
	MinOSVersion       *string                                `gorm:"column:min_os_version;size:32" json:"minOsVersion" comment:"最低系统版本"`
	ExtractedBundleID  *string                                `gorm:"column:extracted_bundle_id;size:255" json:"extractedBundleId" comment:"安装包内的 bundle id / 包名"`
	Status             ReleaseStatus                          `gorm:"size:32;not null;index" json:"status" comment:"状态"`
	FileKey            string                                 `gorm:"size:500;not null" json:"fileKey" comment:"存储 key"`
	FileName           string                                 `gorm:"size:255" json:"fileName" comment:"原始文件名"`
	Platform           Platform                               `gorm:"size:16;not null" json:"platform" comment:"平台"`
	SHA256             string                                 `gorm:"column:sha256;size:64" json:"sha256" comment:"SHA256 校验和"`
	DistributionGroups common.JSONSlice[DistributionGroupRef] `gorm:"column:distribution_groups" json:"distributionGroups" comment:"分发组"`
	FailureReason      string                                 `gorm:"size:1000" json:"failureReason,omitempty" comment:"失败原因"`
	ProcessedAt        *time.Time                             `json:"processedAt,omitempty" comment:"处理完成时间"`
}

func (Release) TableName() string {
	return "dm_release"
}

// Terminal 发布是否已处于终态
func (r *Release) Terminal() bool {
	return r.Status.Terminal()
}

// ParseResult 解析完成后一次性写入发布记录的字段
type ParseResult struct {
	Version      string
	BuildNumber  string
	FileSize     int64
	MinOSVersion *string
	BundleID     *string
}
