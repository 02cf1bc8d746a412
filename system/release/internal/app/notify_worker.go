package app

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"deploymate/pkg/mailer"
	"deploymate/pkg/queue"
	"deploymate/system/release/internal/model"
	userdto "deploymate/system/user/api/dto"
	"deploymate/utils"

	"golang.org/x/sync/errgroup"
)

// fanOutResult 一次扇出的统计
type fanOutResult struct {
	Attempted int64
	Failed    int64
	Skipped   int64
}

// HandleNotifications 解析分发组成员并逐个发送新版本邮件。
// 单个收件人失败只记录日志，不影响其他收件人，也不导致任务重试
func (a *App) HandleNotifications(ctx context.Context, job *queue.Job) error {
	var payload model.NotifyPayload
	if err := job.Decode(&payload); err != nil {
		return queue.Permanent(a.err.New("通知任务负载格式错误", err).ValidWithCtx())
	}
	if msg, err := utils.Validate(&payload); err != nil {
		return queue.Permanent(a.err.New(msg, err).ValidWithCtx())
	}
	log := a.log.WithReleaseID(payload.ReleaseID).WithJobID(job.ID)

	if a.mailer == nil {
		log.Info("邮件未配置，跳过新版本通知")
		return nil
	}

	members, err := a.MembershipService.ResolveMembers(ctx, payload.DistributionGroups)
	if err != nil {
		return a.err.New("解析分发组成员失败", err)
	}
	if len(members) == 0 {
		log.Info("分发组没有成员，无需通知")
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	contacts, err := a.contacts.GetContacts(ctx, ids)
	if err != nil {
		return a.err.New("查询收件人失败", err)
	}

	res := a.fanOut(ctx, payload, ids, contacts)
	log.WithFields(map[string]interface{}{
		"recipients": len(ids),
		"attempted":  res.Attempted,
		"failed":     res.Failed,
		"skipped":    res.Skipped,
	}).Info("新版本通知发送完成")

	if a.exceedsThreshold(res) {
		// 已发出的邮件不能撤回，直接进入死信而不是重试
		return queue.Permanent(fmt.Errorf("通知失败比例过高: %d/%d", res.Failed, res.Attempted))
	}
	return nil
}

func (a *App) fanOut(ctx context.Context, payload model.NotifyPayload, ids []string, contacts map[string]userdto.UserContact) fanOutResult {
	var res fanOutResult
	var g errgroup.Group
	g.SetLimit(a.notify.Concurrency)

	for _, id := range ids {
		contact, ok := contacts[id]
		if !ok || contact.Email == "" {
			a.log.WithReleaseID(payload.ReleaseID).WithField("userId", id).Warn("收件人不存在或没有邮箱，跳过")
			res.Skipped++
			continue
		}
		g.Go(func() error {
			atomic.AddInt64(&res.Attempted, 1)
			if err := a.sendOne(ctx, payload, contact); err != nil {
				atomic.AddInt64(&res.Failed, 1)
				a.log.WithReleaseID(payload.ReleaseID).WithField("userId", contact.ID).WithErr(err).Warn("发送新版本通知失败")
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (a *App) sendOne(ctx context.Context, payload model.NotifyPayload, contact userdto.UserContact) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("发送邮件时发生 panic: %v", r)
		}
	}()

	msg, err := mailer.RenderReleaseMail(contact.Email, mailer.ReleaseMail{
		UserName:  contact.Name,
		AppName:   payload.AppName,
		Version:   payload.Version,
		ReleaseID: payload.ReleaseID,
	})
	if err != nil {
		return err
	}
	return a.mailer.Send(ctx, msg)
}

func (a *App) exceedsThreshold(res fanOutResult) bool {
	threshold := a.notify.FailureThreshold
	if threshold <= 0 || res.Attempted == 0 {
		return false
	}
	minRecipients := int64(a.notify.ThresholdMinRecipients)
	if minRecipients < 1 {
		minRecipients = 1
	}
	if res.Attempted < minRecipients {
		return false
	}
	return float64(res.Failed)/float64(res.Attempted) > threshold
}
