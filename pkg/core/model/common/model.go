package common

import (
	"time"
)

// ModelString 以字符串为主键的基础模型，发布记录使用带前缀的 id
type ModelString struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
