package controller

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/fiber_handle"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/core/security"
	"deploymate/pkg/extractor"
	"deploymate/pkg/lock"
	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/app"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/service"
	"deploymate/system/release/internal/service/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memReleaseStore struct {
	mu       sync.Mutex
	releases map[string]*model.Release
}

func (s *memReleaseStore) Create(ctx context.Context, r *model.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.releases[r.ID] = &c
	return nil
}

func (s *memReleaseStore) FindByID(ctx context.Context, id string) (*model.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.releases[id]
	if !ok {
		return nil, errorc.New("发布记录不存在", nil).NotFound()
	}
	c := *r
	return &c, nil
}

func (s *memReleaseStore) setStatus(id string, to model.ReleaseStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.releases[id]
	if !ok || !model.CanTransition(r.Status, to) || r.Status == to {
		return false
	}
	r.Status = to
	return true
}

func (s *memReleaseStore) CompleteParsing(ctx context.Context, id string, res model.ParseResult) (bool, error) {
	ok := s.setStatus(id, model.ReleaseStatusReady)
	if ok {
		s.mu.Lock()
		s.releases[id].Version = res.Version
		s.releases[id].ExtractedBundleID = res.BundleID
		s.mu.Unlock()
	}
	return ok, nil
}

func (s *memReleaseStore) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	return s.setStatus(id, model.ReleaseStatusFailed), nil
}

func (s *memReleaseStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.setStatus(id, model.ReleaseStatusProcessing), nil
}

func (s *memReleaseStore) ListByApp(ctx context.Context, appID string, limit int) ([]*model.Release, error) {
	return nil, nil
}

type oneApp struct{}

func (oneApp) FindByID(ctx context.Context, id string) (*model.App, error) {
	if id != "app_1" {
		return nil, errorc.New("应用不存在", nil).NotFound()
	}
	a := &model.App{Name: "Demo", BundleID: "com.example.demo", Platform: model.PlatformIOS}
	a.ID = id
	return a, nil
}

type noMembers struct{}

func (noMembers) InReadTx(ctx context.Context, fn func(r service.MemberReader) error) error {
	return nil
}

func (noMembers) OwnedAppGroups(ctx context.Context, appID string, groupIDs []string) ([]string, error) {
	return groupIDs, nil
}

func (noMembers) OwnedOrgGroups(ctx context.Context, orgID string, groupIDs []string) ([]string, error) {
	return groupIDs, nil
}

type fixedExtractor struct{}

func (fixedExtractor) Extract(data []byte, platform string) (extractor.Metadata, error) {
	return extractor.Metadata{Version: "2.0.0", BuildNumber: "7"}, nil
}

type testServer struct {
	fiber    *fiber.App
	app      *app.App
	releases *memReleaseStore
	broker   *queue.MemoryBroker
	tokens   *ota.TokenIssuer
	token    string
}

func newTestServer(t *testing.T) *testServer {
	local, err := storage.NewLocalStorage(t.TempDir(), logger.Discard())
	require.NoError(t, err)
	broker := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	ts := &testServer{
		releases: &memReleaseStore{releases: make(map[string]*model.Release)},
		broker:   broker,
		tokens:   ota.NewTokenIssuer([]byte("ota-secret"), time.Hour),
	}
	ts.app = app.NewApp(app.Deps{
		Releases:  ts.releases,
		Apps:      oneApp{},
		Members:   noMembers{},
		Storage:   local,
		Extractor: fixedExtractor{},
		Queue:     queue.NewManager(broker, queue.Options{}, nil),
		Locker:    lock.NewLocalLockManager(),
		Tokens:    ts.tokens,
		Origin:    ota.OriginConfig{RequireHTTPS: true},
	}, logger.Discard())

	sessionAuth := security.NewSessionAuth([]byte("session-secret"), time.Hour)
	ts.token, _, err = sessionAuth.CreateToken("usr_1", "dev@example.com")
	require.NoError(t, err)

	ts.fiber = fiber.New(fiber.Config{ErrorHandler: fiber_handle.ErrHandler})
	NewReleaseController(ts.app, sessionAuth, logger.Discard()).RegisterRoutes(ts.fiber.Group("/admin"))
	NewOtaController(ts.app, logger.Discard()).RegisterRoutes(ts.fiber.Group("/api/v1"))
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request, authed bool) (*http.Response, map[string]interface{}) {
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := ts.fiber.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	_ = json.Unmarshal(raw, &out)
	return resp, out
}

func uploadRequest(t *testing.T, fileName, groups string) *http.Request {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte("ipa-bytes"))
	require.NoError(t, err)
	if groups != "" {
		require.NoError(t, w.WriteField("groups", groups))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/admin/apps/app_1/releases", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// uploadAndParse 上传后直接执行一次解析任务
func (ts *testServer) uploadAndParse(t *testing.T) string {
	resp, body := ts.do(t, uploadRequest(t, "Demo.ipa", `[{"id":"ag1","type":"app"}]`), true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	releaseID := body["data"].(map[string]interface{})["releaseId"].(string)

	job, err := ts.broker.Reserve(context.Background(), queue.KindBinaryParsing, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, ts.app.HandleBinaryParsing(context.Background(), job))
	return releaseID
}

func TestUpload_RequiresSession(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, uploadRequest(t, "Demo.ipa", ""), false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpload_BadGroups(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, uploadRequest(t, "Demo.ipa", `{"id":`), true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "ValidWithCtx", body["code"])
}

func TestUploadParseAndInstall(t *testing.T) {
	ts := newTestServer(t)
	releaseID := ts.uploadAndParse(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/admin/releases/"+releaseID, nil), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "READY", data["status"])
	assert.Equal(t, "2.0.0", data["version"])

	req := httptest.NewRequest(http.MethodGet, "/admin/releases/"+releaseID+"/install-link", nil)
	req.Host = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "apps.example.com")
	resp, body = ts.do(t, req, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	link := body["data"].(map[string]interface{})
	manifestURL := link["manifestUrl"].(string)
	assert.Contains(t, manifestURL, "https://apps.example.com/api/v1/releases/"+releaseID+"/manifest?token=")

	token, _, err := ts.tokens.Issue(releaseID)
	require.NoError(t, err)

	mreq := httptest.NewRequest(http.MethodGet, "/api/v1/releases/"+releaseID+"/manifest?token="+ota.PercentEncode(token), nil)
	mreq.Header.Set("X-Forwarded-Proto", "https")
	mreq.Header.Set("X-Forwarded-Host", "apps.example.com")
	mresp, err := ts.fiber.Test(mreq, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, mresp.StatusCode)
	assert.Contains(t, mresp.Header.Get("Content-Type"), "application/xml")
	manifest, _ := io.ReadAll(mresp.Body)
	assert.Contains(t, string(manifest), "com.example.demo")

	dresp, err := ts.fiber.Test(httptest.NewRequest(http.MethodGet, "/api/v1/releases/"+releaseID+"/download?token="+ota.PercentEncode(token), nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, dresp.StatusCode)
	artifact, _ := io.ReadAll(dresp.Body)
	assert.Equal(t, "ipa-bytes", string(artifact))
}

func TestInstallLink_InsecureOriginInProduction(t *testing.T) {
	ts := newTestServer(t)
	releaseID := ts.uploadAndParse(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/releases/"+releaseID+"/install-link", nil)
	resp, body := ts.do(t, req, true)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INSECURE_ORIGIN", body["code"])
}

func TestManifest_TokenRequired(t *testing.T) {
	ts := newTestServer(t)
	releaseID := ts.uploadAndParse(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/releases/"+releaseID+"/manifest", nil), false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthenticated", body["code"])
}

func TestRetrigger_TerminalConflict(t *testing.T) {
	ts := newTestServer(t)
	releaseID := ts.uploadAndParse(t)

	resp, body := ts.do(t, httptest.NewRequest(http.MethodPost, "/admin/releases/"+releaseID+"/retrigger", nil), true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Conflict", body["code"])
}

func TestGetRelease_NotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, httptest.NewRequest(http.MethodGet, "/admin/releases/rel_nope", nil), true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
