package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"deploymate/pkg/core/config"
	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/pkg/extractor"
	"deploymate/pkg/lock"
	"deploymate/pkg/mailer"
	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/service"
	"deploymate/system/release/internal/service/storage"
	userdto "deploymate/system/user/api/dto"

	"github.com/stretchr/testify/require"
)

type fakeReleaseStore struct {
	mu       sync.Mutex
	releases map[string]*model.Release
}

func newFakeReleaseStore() *fakeReleaseStore {
	return &fakeReleaseStore{releases: make(map[string]*model.Release)}
}

func (s *fakeReleaseStore) Create(ctx context.Context, release *model.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *release
	s.releases[release.ID] = &c
	return nil
}

func (s *fakeReleaseStore) FindByID(ctx context.Context, id string) (*model.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.releases[id]
	if !ok {
		return nil, errorc.New("发布记录不存在", nil).NotFound()
	}
	c := *r
	return &c, nil
}

func (s *fakeReleaseStore) cas(id string, to model.ReleaseStatus, apply func(r *model.Release)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.releases[id]
	if !ok {
		return false
	}
	for _, from := range model.Predecessors(to) {
		if r.Status == from {
			apply(r)
			r.Status = to
			return true
		}
	}
	return false
}

func (s *fakeReleaseStore) CompleteParsing(ctx context.Context, id string, res model.ParseResult) (bool, error) {
	return s.cas(id, model.ReleaseStatusReady, func(r *model.Release) {
		r.Version = res.Version
		r.BuildNumber = res.BuildNumber
		r.FileSize = res.FileSize
		r.MinOSVersion = res.MinOSVersion
		r.ExtractedBundleID = res.BundleID
	}), nil
}

func (s *fakeReleaseStore) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	return s.cas(id, model.ReleaseStatusFailed, func(r *model.Release) {
		r.FailureReason = reason
	}), nil
}

func (s *fakeReleaseStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	return s.cas(id, model.ReleaseStatusProcessing, func(*model.Release) {}), nil
}

func (s *fakeReleaseStore) ListByApp(ctx context.Context, appID string, limit int) ([]*model.Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Release
	for _, r := range s.releases {
		if r.AppID == appID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeReleaseStore) get(t *testing.T, id string) *model.Release {
	r, err := s.FindByID(context.Background(), id)
	require.NoError(t, err)
	return r
}

type fakeAppStore map[string]*model.App

func (s fakeAppStore) FindByID(ctx context.Context, id string) (*model.App, error) {
	a, ok := s[id]
	if !ok {
		return nil, errorc.New("应用不存在", nil).NotFound()
	}
	return a, nil
}

type fakeMemberStore struct {
	mu      sync.Mutex
	app     map[string][]string
	org     map[string][]string
	txCalls int
	err     error
	// appOwner / orgOwner 分发组 id 到所属应用 / 组织，nil 表示全部归属
	appOwner map[string]string
	orgOwner map[string]string
}

func (s *fakeMemberStore) InReadTx(ctx context.Context, fn func(r service.MemberReader) error) error {
	s.mu.Lock()
	s.txCalls++
	s.mu.Unlock()
	return fn(s)
}

func (s *fakeMemberStore) collect(src map[string][]string, ids []string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []string
	for _, id := range ids {
		out = append(out, src[id]...)
	}
	return out, nil
}

func (s *fakeMemberStore) AppGroupMembers(ctx context.Context, ids []string) ([]string, error) {
	return s.collect(s.app, ids)
}

func (s *fakeMemberStore) OrgGroupMembers(ctx context.Context, ids []string) ([]string, error) {
	return s.collect(s.org, ids)
}

func owned(owners map[string]string, owner string, ids []string) []string {
	var out []string
	for _, id := range ids {
		if owners == nil || owners[id] == owner {
			out = append(out, id)
		}
	}
	return out
}

func (s *fakeMemberStore) OwnedAppGroups(ctx context.Context, appID string, ids []string) ([]string, error) {
	return owned(s.appOwner, appID, ids), nil
}

func (s *fakeMemberStore) OwnedOrgGroups(ctx context.Context, orgID string, ids []string) ([]string, error) {
	return owned(s.orgOwner, orgID, ids), nil
}

type fakeContacts map[string]userdto.UserContact

func (c fakeContacts) GetContacts(ctx context.Context, ids []string) (map[string]userdto.UserContact, error) {
	out := make(map[string]userdto.UserContact)
	for _, id := range ids {
		if contact, ok := c[id]; ok {
			out[id] = contact
		}
	}
	return out, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	sent  []string
	fail  map[string]bool
	panic map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	to := msg.To[0]
	if m.panic[to] {
		panic("smtp client exploded")
	}
	if m.fail[to] {
		return errors.New("550 mailbox unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func (m *fakeMailer) recipients() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

type stubExtractor struct {
	mu    sync.Mutex
	meta  extractor.Metadata
	err   error
	calls int
	// block 非 nil 时 Extract 阻塞到通道关闭
	block chan struct{}
}

func (e *stubExtractor) Extract(data []byte, platform string) (extractor.Metadata, error) {
	e.mu.Lock()
	e.calls++
	meta, err, block := e.meta, e.err, e.block
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	return meta, err
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// drain 取出某类任务当前所有待执行的任务
func drain(t *testing.T, broker *queue.MemoryBroker, kind string) []*queue.Job {
	t.Helper()
	var out []*queue.Job
	for {
		job, err := broker.Reserve(context.Background(), kind, time.Millisecond, time.Minute)
		require.NoError(t, err)
		if job == nil {
			return out
		}
		out = append(out, job)
	}
}

type testEnv struct {
	app       *App
	releases  *fakeReleaseStore
	apps      fakeAppStore
	members   *fakeMemberStore
	contacts  fakeContacts
	mailer    *fakeMailer
	extractor *stubExtractor
	queue     *queue.Manager
	broker    *queue.MemoryBroker
	storage   *storage.LocalStorage
	locker    *lock.LocalLockManager
	tokens    *ota.TokenIssuer
}

type envOption func(d *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir(), logger.Discard())
	require.NoError(t, err)

	env := &testEnv{
		releases: newFakeReleaseStore(),
		apps: fakeAppStore{
			"app_ios":     {OrgID: "org_1", Name: "Demo", BundleID: "com.example.demo", Platform: model.PlatformIOS},
			"app_android": {OrgID: "org_1", Name: "Droid", BundleID: "com.example.droid", Platform: model.PlatformAndroid},
		},
		members:  &fakeMemberStore{app: map[string][]string{}, org: map[string][]string{}},
		contacts: fakeContacts{},
		mailer:   &fakeMailer{fail: map[string]bool{}, panic: map[string]bool{}},
		extractor: &stubExtractor{meta: extractor.Metadata{
			Version:     "1.2.0",
			BuildNumber: "120",
			BundleID:    strPtr("com.example.demo"),
		}},
		broker:  queue.NewMemoryBroker(),
		storage: local,
		locker:  lock.NewLocalLockManager(),
		tokens:  ota.NewTokenIssuer([]byte("test-secret"), time.Hour),
	}
	env.queue = queue.NewManager(env.broker, queue.Options{}, nil)
	t.Cleanup(func() { _ = env.broker.Close() })
	env.apps["app_ios"].ID = "app_ios"
	env.apps["app_android"].ID = "app_android"

	deps := Deps{
		Releases:  env.releases,
		Apps:      env.apps,
		Members:   env.members,
		Storage:   env.storage,
		Extractor: env.extractor,
		Queue:     env.queue,
		Locker:    env.locker,
		Contacts:  env.contacts,
		Mailer:    env.mailer,
		Tokens:    env.tokens,
		Origin:    ota.OriginConfig{BaseURL: "https://dl.example.com"},
		Notify:    config.NotifyConfig{Concurrency: 2},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.app = NewApp(deps, logger.Discard())
	return env
}

// seedRelease 写入安装包并创建 PROCESSING 状态的发布
func (e *testEnv) seedRelease(t *testing.T, id, appID string, platform model.Platform, groups ...model.DistributionGroupRef) *model.Release {
	t.Helper()
	key := storage.ReleaseKey(appID, id, "build.bin")
	obj, err := e.storage.Put(context.Background(), key, strings.NewReader("binary-content"), -1, "application/octet-stream")
	require.NoError(t, err)

	release := &model.Release{
		AppID:              appID,
		Status:             model.ReleaseStatusProcessing,
		FileKey:            key,
		FileName:           "build.bin",
		FileSize:           obj.Size,
		Platform:           platform,
		DistributionGroups: groups,
	}
	release.ID = id
	require.NoError(t, e.releases.Create(context.Background(), release))
	return release
}

func parseJob(t *testing.T, release *model.Release) *queue.Job {
	t.Helper()
	return jobOf(t, queue.KindBinaryParsing, model.ParsePayload{
		ReleaseID: release.ID,
		FileKey:   release.FileKey,
		Platform:  release.Platform,
	})
}

func jobOf(t *testing.T, kind string, payload interface{}) *queue.Job {
	t.Helper()
	broker := queue.NewMemoryBroker()
	defer broker.Close()
	m := queue.NewManager(broker, queue.Options{}, nil)
	_, err := m.Enqueue(context.Background(), kind, payload)
	require.NoError(t, err)
	job, err := broker.Reserve(context.Background(), kind, 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func strPtr(s string) *string {
	return &s
}

// brokenStorage 读取时返回网络错误，其余操作透传
type brokenStorage struct {
	storage.Storage
}

func (brokenStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("connection reset by peer")
}
