package dto

// UserContact 其他组件发送通知所需的用户信息
type UserContact struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
