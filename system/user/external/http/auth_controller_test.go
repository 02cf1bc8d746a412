package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/fiber_handle"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/model/common"
	"deploymate/pkg/core/security"
	"deploymate/pkg/ratelimit"
	"deploymate/system/user/internal/app"
	"deploymate/system/user/internal/model"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]*model.User)}
}

func (s *fakeUserStore) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) FindById(ctx context.Context, id interface{}) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id.(string)]; ok {
		return u, nil
	}
	return nil, errorc.New("用户不存在", nil).NotFound()
}

func (s *fakeUserStore) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errorc.New("用户不存在", nil).NotFound()
}

func (s *fakeUserStore) FindByIDs(ctx context.Context, ids []string) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	return err == nil, nil
}

func (s *fakeUserStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func newTestServer(t *testing.T, maxAttempts int) (*fiber.App, *fakeUserStore) {
	store := newFakeUserStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	store.users["usr_1"] = &model.User{
		ModelString:  common.ModelString{ID: "usr_1"},
		Email:        "dev@example.com",
		Name:         "Dev",
		PasswordHash: string(hash),
		Status:       model.UserStatusEnabled,
	}

	sessionAuth := security.NewSessionAuth([]byte("test-secret"), time.Hour)
	limiter := ratelimit.NewMemoryLimiter(15*time.Minute, maxAttempts)
	a := app.NewApp(store, limiter, sessionAuth, logger.Discard())

	server := fiber.New(fiber.Config{ErrorHandler: fiber_handle.ErrHandler})
	ctrl := NewAuthController(a, sessionAuth, logger.Discard())
	ctrl.RegisterRoutes(server.Group("/api/v1"), server.Group("/admin"))
	return server, store
}

func login(t *testing.T, server *fiber.App, email, password string) (*http.Response, map[string]interface{}) {
	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := server.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp, out
}

func TestLogin_Success(t *testing.T) {
	server, _ := newTestServer(t, 10)

	resp, body := login(t, server, "dev@example.com", "secret-pass")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	token := data["token"].(string)
	assert.NotEmpty(t, token)
	assert.Equal(t, "usr_1", data["userId"])

	req := httptest.NewRequest(http.MethodGet, "/admin/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	me, err := server.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, me.StatusCode)
}

func TestLogin_WrongPassword(t *testing.T) {
	server, _ := newTestServer(t, 10)

	resp, body := login(t, server, "dev@example.com", "nope")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthenticated", body["code"])
}

func TestLogin_RateLimitedBeforeCredentialCheck(t *testing.T) {
	server, _ := newTestServer(t, 3)

	for i := 0; i < 3; i++ {
		resp, _ := login(t, server, "dev@example.com", "nope")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// 正确的密码也会被拒绝，限流发生在校验之前
	resp, body := login(t, server, "dev@example.com", "secret-pass")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", body["code"])
}

func TestLogin_InvalidBody(t *testing.T) {
	server, _ := newTestServer(t, 10)

	resp, _ := login(t, server, "not-an-email", "x")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMe_RequiresSession(t *testing.T) {
	server, _ := newTestServer(t, 10)

	resp, err := server.Test(httptest.NewRequest(http.MethodGet, "/admin/users/me", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
