package app

import (
	"context"
	"io"
	"time"

	"deploymate/pkg/ota"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/model/dto"
	"deploymate/system/release/internal/service/storage"
)

const presignExpire = 15 * time.Minute

// Download 下载结果，RedirectURL 非空时直接重定向到预签名地址
type Download struct {
	RedirectURL string
	Body        io.ReadCloser
	FileName    string
	ContentType string
	Size        int64
}

func (a *App) loadRelease(ctx context.Context, releaseID string) (*model.Release, error) {
	return a.cache.Get(ctx, releaseID, a.ReleaseService.FindByID)
}

func (a *App) requireInstallable(ctx context.Context, release *model.Release) error {
	if release.Platform != model.PlatformIOS {
		return a.err.BadRequest("只有 iOS 安装包支持无线安装").WithTraceID(ctx)
	}
	if release.Status != model.ReleaseStatusReady {
		return a.err.New("发布尚未处理完成: "+string(release.Status), nil).Conflict().WithTraceID(ctx)
	}
	return nil
}

// InstallLink 为 READY 的 iOS 发布生成带 token 的清单地址和 itms-services 链接。
// 对外地址按当前请求计算
func (a *App) InstallLink(ctx context.Context, releaseID string, req ota.RequestInfo) (*dto.InstallLinkResp, error) {
	release, err := a.ReleaseService.FindByID(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if err := a.requireInstallable(ctx, release); err != nil {
		return nil, err
	}

	origin, err := ota.ResolvePublicOrigin(req, a.origin)
	if err != nil {
		a.log.WithTrace(ctx).WithErr(err).Error("计算对外地址失败")
		return nil, err
	}
	token, expiresAt, err := a.tokens.Issue(releaseID)
	if err != nil {
		return nil, err
	}

	manifestURL := ota.BuildManifestURL(origin.String(), releaseID, token)
	return &dto.InstallLinkResp{
		ManifestURL:     manifestURL,
		ItmsServicesURL: ota.BuildItmsServicesURL(manifestURL),
		ExpiresAt:       expiresAt,
	}, nil
}

// Manifest 校验 token 后渲染安装清单，清单中的下载地址复用同一个 token
func (a *App) Manifest(ctx context.Context, releaseID, token string, req ota.RequestInfo) ([]byte, error) {
	if err := a.tokens.Verify(token, releaseID); err != nil {
		return nil, err
	}
	release, err := a.loadRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if err := a.requireInstallable(ctx, release); err != nil {
		return nil, err
	}

	origin, err := ota.ResolvePublicOrigin(req, a.origin)
	if err != nil {
		return nil, err
	}

	title := release.FileName
	bundleID := ""
	if app, err := a.apps.FindByID(ctx, release.AppID); err == nil {
		title = app.Name
		bundleID = app.BundleID
	}
	if release.ExtractedBundleID != nil && *release.ExtractedBundleID != "" {
		bundleID = *release.ExtractedBundleID
	}
	if bundleID == "" {
		return nil, a.err.New("发布缺少 bundle id，无法生成安装清单", nil).Conflict().WithTraceID(ctx)
	}

	return ota.RenderManifest(ota.ManifestInfo{
		PackageURL:    ota.BuildDownloadURL(origin.String(), releaseID, token),
		BundleID:      bundleID,
		BundleVersion: release.Version,
		Title:         title,
	})
}

// Download 校验 token 后返回安装包，存储支持预签名时返回重定向地址
func (a *App) Download(ctx context.Context, releaseID, token string) (*Download, error) {
	if err := a.tokens.Verify(token, releaseID); err != nil {
		return nil, err
	}
	release, err := a.loadRelease(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if release.Status != model.ReleaseStatusReady {
		return nil, a.err.New("发布尚未处理完成", nil).Conflict().WithTraceID(ctx)
	}

	if presigner, ok := a.storage.(storage.Presigner); ok {
		url, err := presigner.PresignGet(ctx, release.FileKey, release.FileName, presignExpire)
		if err != nil {
			return nil, err
		}
		return &Download{RedirectURL: url, FileName: release.FileName}, nil
	}

	body, err := a.storage.Open(ctx, release.FileKey)
	if err != nil {
		return nil, err
	}
	return &Download{
		Body:        body,
		FileName:    release.FileName,
		ContentType: contentTypeOf(release.Platform),
		Size:        release.FileSize,
	}, nil
}

// DeadLetters 列出两类任务的死信
func (a *App) DeadLetters(ctx context.Context, limit int) ([]dto.DeadLetterView, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	views := make([]dto.DeadLetterView, 0)
	for _, kind := range queue.Kinds {
		jobs, err := a.queue.DeadLetters(ctx, kind, limit)
		if err != nil {
			return nil, a.err.New("查询死信任务失败", err).Unavailable().WithTraceID(ctx)
		}
		for _, job := range jobs {
			views = append(views, dto.DeadLetterView{
				ID:         job.ID,
				Kind:       job.Kind,
				ReleaseID:  job.Field("releaseId").String(),
				Attempt:    job.Attempt,
				LastError:  job.LastError,
				EnqueuedAt: job.EnqueuedAt,
			})
		}
	}
	return views, nil
}
