package app

import (
	"context"
	"io"
	"path"
	"strings"

	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/model/dto"
	"deploymate/system/release/internal/service/storage"
	"deploymate/utils"

	"github.com/google/uuid"
)

// inferPlatform 未指定平台时按扩展名推断
func inferPlatform(fileName string) (model.Platform, bool) {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".ipa":
		return model.PlatformIOS, true
	case ".apk":
		return model.PlatformAndroid, true
	}
	return "", false
}

func contentTypeOf(platform model.Platform) string {
	if platform == model.PlatformAndroid {
		return "application/vnd.android.package-archive"
	}
	return "application/octet-stream"
}

// Upload 保存安装包、创建 PROCESSING 状态的发布记录并投递解析任务。
// 入队成功即返回，解析在后台完成
func (a *App) Upload(ctx context.Context, req *dto.UploadReq, reader io.Reader) (*dto.UploadResp, error) {
	if msg, err := utils.Validate(req); err != nil {
		return nil, a.err.New(msg, err).ValidWithCtx().WithTraceID(ctx)
	}

	app, err := a.apps.FindByID(ctx, req.AppID)
	if err != nil {
		return nil, err
	}

	platform := model.Platform(req.Platform)
	if platform == "" {
		inferred, ok := inferPlatform(req.FileName)
		if !ok {
			return nil, a.err.BadRequest("无法根据文件扩展名判断平台，请指定 platform").WithTraceID(ctx)
		}
		platform = inferred
	}
	if app.Platform != "" && app.Platform != platform {
		return nil, a.err.BadRequest("安装包平台与应用平台不一致").WithTraceID(ctx)
	}

	groups, err := a.MembershipService.FilterOwned(ctx, app, req.Groups)
	if err != nil {
		return nil, err
	}

	releaseID := "rel_" + uuid.NewString()
	fileName := path.Base(req.FileName)
	key := storage.ReleaseKey(app.ID, releaseID, fileName)
	if err := storage.ValidateArtifactKey(key); err != nil {
		return nil, err
	}

	size := req.FileSize
	if size <= 0 {
		size = -1
	}
	obj, err := a.storage.Put(ctx, key, reader, size, contentTypeOf(platform))
	if err != nil {
		return nil, err
	}

	release := &model.Release{
		AppID:              app.ID,
		Status:             model.ReleaseStatusProcessing,
		FileKey:            key,
		FileName:           fileName,
		FileSize:           obj.Size,
		Platform:           platform,
		SHA256:             obj.SHA256,
		DistributionGroups: groups,
	}
	release.ID = releaseID
	if err := a.ReleaseService.Create(ctx, release); err != nil {
		if delErr := a.storage.Delete(ctx, key); delErr != nil {
			a.log.WithTrace(ctx).WithErr(delErr).WithField("key", key).Warn("清理未入库的安装包失败")
		}
		return nil, err
	}

	jobID, err := a.enqueueParsing(ctx, release, queue.WithDedupeKey(model.ParseDedupeKey(releaseID)))
	if err != nil {
		// 记录已落库，运维可通过 retrigger 重新投递
		return nil, a.err.New("投递解析任务失败", err).Unavailable().WithTraceID(ctx)
	}

	a.log.WithTrace(ctx).WithReleaseID(releaseID).WithFields(map[string]interface{}{
		"appId": app.ID,
		"size":  obj.Size,
		"jobId": jobID,
	}).Info("安装包已上传，等待解析")
	return &dto.UploadResp{ReleaseID: releaseID, Status: release.Status, JobID: jobID}, nil
}

func (a *App) enqueueParsing(ctx context.Context, release *model.Release, opts ...queue.EnqueueOption) (string, error) {
	return a.queue.Enqueue(ctx, queue.KindBinaryParsing, model.ParsePayload{
		ReleaseID: release.ID,
		FileKey:   release.FileKey,
		Platform:  release.Platform,
	}, opts...)
}

// Retrigger 重新投递仍未完成的发布的解析任务，终态返回 Conflict
func (a *App) Retrigger(ctx context.Context, releaseID string) (*dto.UploadResp, error) {
	release, err := a.ReleaseService.FindByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if release.Terminal() {
		return nil, a.err.New("发布已处于终态: "+string(release.Status), nil).Conflict().WithTraceID(ctx)
	}
	if release.Status == model.ReleaseStatusUploading {
		if _, err := a.ReleaseService.MarkProcessing(ctx, releaseID); err != nil {
			return nil, err
		}
		release.Status = model.ReleaseStatusProcessing
	}

	jobID, err := a.enqueueParsing(ctx, release)
	if err != nil {
		return nil, a.err.New("投递解析任务失败", err).Unavailable().WithTraceID(ctx)
	}
	a.log.WithTrace(ctx).WithReleaseID(releaseID).WithField("jobId", jobID).Info("已重新投递解析任务")
	return &dto.UploadResp{ReleaseID: releaseID, Status: release.Status, JobID: jobID}, nil
}

func (a *App) GetRelease(ctx context.Context, releaseID string) (*model.Release, error) {
	return a.ReleaseService.FindByID(ctx, releaseID)
}

func (a *App) ListReleases(ctx context.Context, appID string, limit int) ([]*model.Release, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return a.ReleaseService.ListByApp(ctx, appID, limit)
}
