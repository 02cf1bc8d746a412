package dto

// LoginReq 登录请求
type LoginReq struct {
	Email    string `json:"email" validate:"required,email" comment:"邮箱"`
	Password string `json:"password" validate:"required" comment:"密码"`
}

// LoginResp 登录响应
type LoginResp struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// CreateUserReq 创建用户请求
type CreateUserReq struct {
	Email    string `json:"email" validate:"required,email" comment:"邮箱"`
	Name     string `json:"name" validate:"max=100" comment:"姓名"`
	Password string `json:"password" validate:"required,min=6" comment:"密码"`
}
