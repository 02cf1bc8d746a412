package model

import "deploymate/pkg/core/model/common"

// App 被分发的应用
type App struct {
	common.ModelString
	OrgID    string   `gorm:"size:64;not null;index" json:"orgId" comment:"组织 ID"`
	Name     string   `gorm:"size:100;not null" json:"name" comment:"应用名称"`
	BundleID string   `gorm:"size:255" json:"bundleId" comment:"bundle id / 包名"`
	Platform Platform `gorm:"size:16;not null" json:"platform" comment:"平台"`
}

func (App) TableName() string {
	return "dm_app"
}

// AppGroup 应用级分发组
type AppGroup struct {
	common.ModelString
	AppID string `gorm:"size:64;not null;index" json:"appId"`
	Name  string `gorm:"size:100;not null" json:"name"`
}

func (AppGroup) TableName() string {
	return "dm_app_group"
}

// OrgGroup 组织级分发组
type OrgGroup struct {
	common.ModelString
	OrgID string `gorm:"size:64;not null;index" json:"orgId"`
	Name  string `gorm:"size:100;not null" json:"name"`
}

func (OrgGroup) TableName() string {
	return "dm_org_group"
}

type AppGroupMember struct {
	GroupID string `gorm:"primaryKey;size:64" json:"groupId"`
	UserID  string `gorm:"primaryKey;size:64;index" json:"userId"`
}

func (AppGroupMember) TableName() string {
	return "dm_app_group_member"
}

type OrgGroupMember struct {
	GroupID string `gorm:"primaryKey;size:64" json:"groupId"`
	UserID  string `gorm:"primaryKey;size:64;index" json:"userId"`
}

func (OrgGroupMember) TableName() string {
	return "dm_org_group_member"
}
