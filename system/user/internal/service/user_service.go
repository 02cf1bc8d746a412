package service

import (
	"context"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/system/user/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore 用户存储，由 dao.UserDao 实现
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	FindById(ctx context.Context, id interface{}) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// UserService 用户服务
type UserService struct {
	store UserStore
	log   *logger.Log
	err   *errorc.ErrorBuilder
}

func NewUserService(store UserStore, log *logger.Log) *UserService {
	return &UserService{
		store: store,
		log:   log.WithEntryName("UserService"),
		err:   errorc.NewErrorBuilder("UserService"),
	}
}

func (s *UserService) FindById(ctx context.Context, id string) (*model.User, error) {
	return s.store.FindById(ctx, id)
}

func (s *UserService) FindByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	return s.store.FindByIDs(ctx, ids)
}

func (s *UserService) Count(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}

// CreateUser 创建用户（自动散列密码）
func (s *UserService) CreateUser(ctx context.Context, email, name, password string) (*model.User, error) {
	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, s.err.New("邮箱已被注册", nil).Conflict()
	}

	passwordHash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Status:       model.UserStatusEnabled,
	}
	user.ID = "usr_" + uuid.NewString()
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateLogin 校验邮箱与密码，账号不存在和密码错误返回同一提示
func (s *UserService) ValidateLogin(ctx context.Context, email, password string) (*model.User, error) {
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errorc.IsNotFound(err) {
			return nil, s.err.New("邮箱或密码错误", nil).NoAuth()
		}
		return nil, err
	}

	if user.Status != model.UserStatusEnabled {
		return nil, s.err.New("账号已被禁用", nil).Forbidden()
	}

	if !s.VerifyPassword(password, user.PasswordHash) {
		return nil, s.err.New("邮箱或密码错误", nil).NoAuth()
	}
	return user, nil
}

func (s *UserService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", s.err.New("密码散列失败", err)
	}
	return string(hash), nil
}

func (s *UserService) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
