package model

import "deploymate/pkg/core/model/common"

// User 可登录后台、可接收发布通知的用户
type User struct {
	common.ModelString
	Email        string `gorm:"uniqueIndex;size:191;not null" json:"email" comment:"邮箱"`
	Name         string `gorm:"size:100" json:"name" comment:"姓名"`
	PasswordHash string `gorm:"size:255;not null" json:"-" comment:"密码散列"`
	Status       int8   `gorm:"default:1;not null" json:"status" comment:"状态：1=启用，0=禁用"`
}

func (User) TableName() string {
	return "dm_user"
}

const (
	UserStatusDisabled = 0
	UserStatusEnabled  = 1
)
