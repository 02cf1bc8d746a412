package app

import (
	"context"
	"errors"
	"time"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/lock"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	"deploymate/system/release/internal/service/storage"
	"deploymate/utils"
)

const (
	defaultVersion     = "0.0.0"
	defaultBuildNumber = "0"

	defaultParseDeferDelay = 5 * time.Second
)

// releaseFailureCodes 只有安装包本身或存储导致的死信才把发布标记为 FAILED
var releaseFailureCodes = map[string]bool{
	errorc.ErrorCodeValid.Name:    true,
	errorc.ErrorCodeNotFound.Name: true,
	errorc.ErrorCodeThird.Name:    true,
}

func parseLockKey(releaseID string) string {
	return "release:parse:" + releaseID
}

// HandleBinaryParsing 读取安装包、提取元数据，一次 CAS 更新迁移到 READY，然后投递通知任务。
// 同一任务重放时结果收敛，不会重复写入或重复通知
func (a *App) HandleBinaryParsing(ctx context.Context, job *queue.Job) error {
	var payload model.ParsePayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(a.err.New("解析任务负载格式错误", err).ValidWithCtx())
	}
	if msg, err := utils.Validate(&payload); err != nil {
		return queue.Permanent(a.err.New(msg, err).ValidWithCtx())
	}
	log := a.log.WithReleaseID(payload.ReleaseID).WithJobID(job.ID).WithField("attempt", job.Attempt)

	l := a.locker.NewLock(parseLockKey(payload.ReleaseID), &lock.LockOptions{TTL: a.lockTTL})
	if err := l.Lock(ctx); err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			// 持锁的执行会写入结果，本任务稍后重放时按已有状态收敛
			log.Info("该发布正在被其他执行解析，延后处理")
			return queue.Defer(a.err.New("该发布正在被其他执行解析", err), a.deferBy)
		}
		return a.err.New("获取解析锁失败", err).Unavailable()
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithErr(err).Warn("释放解析锁失败")
		}
	}()

	release, err := a.ReleaseService.FindByID(ctx, payload.ReleaseID)
	if err != nil {
		if errorc.IsNotFound(err) {
			log.Warn("发布记录不存在，丢弃解析任务")
			return nil
		}
		return err
	}
	switch release.Status {
	case model.ReleaseStatusReady:
		log.Info("发布已是 READY，跳过解析")
		return a.enqueueNotification(ctx, release)
	case model.ReleaseStatusFailed:
		log.Warn("发布已失败，跳过解析")
		return nil
	}
	if release.FileKey != payload.FileKey {
		log.WithField("fileKey", payload.FileKey).Warn("任务中的存储 key 与发布记录不一致，丢弃解析任务")
		return nil
	}

	data, err := storage.ReadAll(ctx, a.storage, payload.FileKey)
	if err != nil {
		if errorc.IsNotFound(err) {
			return queue.Permanent(a.err.New("安装包不存在: "+payload.FileKey, err).NotFound())
		}
		return a.err.New("读取安装包失败", err).Third()
	}

	meta, err := a.extractor.Extract(data, string(payload.Platform))
	if err != nil {
		return queue.Permanent(a.err.New("安装包元数据提取失败", err).ValidWithCtx())
	}

	res := model.ParseResult{
		Version:      meta.Version,
		BuildNumber:  meta.BuildNumber,
		FileSize:     int64(len(data)),
		MinOSVersion: meta.MinOSVersion,
		BundleID:     meta.BundleID,
	}
	if res.Version == "" {
		res.Version = defaultVersion
	}
	if res.BuildNumber == "" {
		res.BuildNumber = defaultBuildNumber
	}

	updated, err := a.ReleaseService.CompleteParsing(ctx, payload.ReleaseID, res)
	if err != nil {
		if errorc.HasCode(err, errorc.ErrorCodeConflict) {
			log.WithErr(err).Warn("发布状态已变化，放弃写入解析结果")
			return nil
		}
		return err
	}

	if updated {
		release.Version = res.Version
		release.BuildNumber = res.BuildNumber
		release.FileSize = res.FileSize
		release.MinOSVersion = res.MinOSVersion
		release.ExtractedBundleID = res.BundleID
		release.Status = model.ReleaseStatusReady
		log.WithFields(map[string]interface{}{
			"version":     res.Version,
			"buildNumber": res.BuildNumber,
			"size":        res.FileSize,
		}).Info("安装包解析完成")
	} else {
		if release, err = a.ReleaseService.FindByID(ctx, payload.ReleaseID); err != nil {
			return err
		}
		log.Info("发布已由其他执行写入 READY")
	}
	return a.enqueueNotification(ctx, release)
}

// enqueueNotification 以发布 id 去重，重放不会重复扇出
func (a *App) enqueueNotification(ctx context.Context, release *model.Release) error {
	appName := release.AppID
	if app, err := a.apps.FindByID(ctx, release.AppID); err == nil {
		appName = app.Name
	} else if !errorc.IsNotFound(err) {
		return err
	}

	jobID, err := a.queue.Enqueue(ctx, queue.KindNotifications, model.NotifyPayload{
		ReleaseID:          release.ID,
		AppName:            appName,
		Version:            release.Version,
		DistributionGroups: release.DistributionGroups,
	}, queue.WithDedupeKey(model.NotifyDedupeKey(release.ID)))
	if err != nil {
		return a.err.New("投递通知任务失败", err)
	}
	a.log.WithReleaseID(release.ID).WithField("jobId", jobID).Debug("已投递通知任务")
	return nil
}

// OnDeadLetter 解析任务因安装包或存储错误进入死信时将发布标记为 FAILED
func (a *App) OnDeadLetter(ctx context.Context, job *queue.Job) {
	if job.Kind != queue.KindBinaryParsing {
		return
	}
	releaseID := job.Field("releaseId").String()
	log := a.log.WithReleaseID(releaseID).WithJobID(job.ID)
	if releaseID == "" {
		log.Warn("死信任务缺少 releaseId")
		return
	}

	if !releaseFailureCodes[job.LastErrorCode] {
		log.WithField("code", job.LastErrorCode).WithField("lastError", job.LastError).
			Warn("解析任务进入死信，失败原因与安装包无关，发布保持原状态，可通过 retrigger 重新解析")
		return
	}

	reason := job.LastError
	if reason == "" {
		reason = "解析任务重试次数耗尽"
	}
	updated, err := a.ReleaseService.MarkFailed(ctx, releaseID, reason)
	if err != nil {
		log.WithErr(err).Error("标记发布失败状态失败")
		return
	}
	if updated {
		log.WithField("reason", reason).Warn("解析任务进入死信，发布已标记为 FAILED")
	}
}
