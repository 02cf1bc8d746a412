package client

import (
	"context"

	errorc "deploymate/pkg/core/err"
	"deploymate/system/user/api/dto"
	"deploymate/system/user/internal/app"
)

// UserClient 用户组件对外客户端（供其他组件调用）
type UserClient struct {
	app *app.App
	err *errorc.ErrorBuilder
}

func NewUserClient(app *app.App) *UserClient {
	return &UserClient{
		app: app,
		err: errorc.NewErrorBuilder("UserClient"),
	}
}

// GetContacts 批量查询用户联系方式，返回 id -> 联系方式，不存在的用户不在结果中
func (c *UserClient) GetContacts(ctx context.Context, ids []string) (map[string]dto.UserContact, error) {
	users, err := c.app.UserService.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	contacts := make(map[string]dto.UserContact, len(users))
	for _, u := range users {
		contacts[u.ID] = dto.UserContact{ID: u.ID, Email: u.Email, Name: u.Name}
	}
	return contacts, nil
}
