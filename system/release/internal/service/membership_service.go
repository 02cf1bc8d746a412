package service

import (
	"context"

	errorc "deploymate/pkg/core/err"
	"deploymate/pkg/core/logger"
	"deploymate/system/release/internal/model"
)

// MemberReader 事务内的成员查询
type MemberReader interface {
	AppGroupMembers(ctx context.Context, groupIDs []string) ([]string, error)
	OrgGroupMembers(ctx context.Context, groupIDs []string) ([]string, error)
}

// MemberStore 提供只读快照事务与分发组归属查询，由 dao.GroupDao 实现
type MemberStore interface {
	InReadTx(ctx context.Context, fn func(r MemberReader) error) error

	// OwnedAppGroups 返回 groupIDs 中属于 appID 的应用级分发组
	OwnedAppGroups(ctx context.Context, appID string, groupIDs []string) ([]string, error)
	// OwnedOrgGroups 返回 groupIDs 中属于 orgID 的组织级分发组
	OwnedOrgGroups(ctx context.Context, orgID string, groupIDs []string) ([]string, error)
}

// MembershipService 将分发组解析为去重后的用户集合
type MembershipService struct {
	store MemberStore
	log   *logger.Log
	err   *errorc.ErrorBuilder
}

func NewMembershipService(store MemberStore, log *logger.Log) *MembershipService {
	return &MembershipService{
		store: store,
		log:   log.WithEntryName("MembershipService"),
		err:   errorc.NewErrorBuilder("MembershipService"),
	}
}

// FilterOwned 只保留属于该应用或其组织的分发组，其余记录日志后忽略
func (s *MembershipService) FilterOwned(ctx context.Context, app *model.App, refs []model.DistributionGroupRef) ([]model.DistributionGroupRef, error) {
	if len(refs) == 0 {
		return refs, nil
	}

	var appGroupIDs, orgGroupIDs []string
	for _, ref := range refs {
		switch ref.Type {
		case model.GroupTypeApp:
			appGroupIDs = append(appGroupIDs, ref.ID)
		case model.GroupTypeOrg:
			orgGroupIDs = append(orgGroupIDs, ref.ID)
		default:
			return nil, s.err.New("未知的分发组类型: "+string(ref.Type), nil).ValidWithCtx()
		}
	}

	owned := make(map[model.DistributionGroupRef]struct{}, len(refs))
	if len(appGroupIDs) > 0 {
		ids, err := s.store.OwnedAppGroups(ctx, app.ID, appGroupIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			owned[model.DistributionGroupRef{ID: id, Type: model.GroupTypeApp}] = struct{}{}
		}
	}
	if len(orgGroupIDs) > 0 && app.OrgID != "" {
		ids, err := s.store.OwnedOrgGroups(ctx, app.OrgID, orgGroupIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			owned[model.DistributionGroupRef{ID: id, Type: model.GroupTypeOrg}] = struct{}{}
		}
	}

	out := make([]model.DistributionGroupRef, 0, len(refs))
	for _, ref := range refs {
		if _, ok := owned[ref]; !ok {
			s.log.WithTrace(ctx).WithFields(map[string]interface{}{
				"appId":     app.ID,
				"orgId":     app.OrgID,
				"groupId":   ref.ID,
				"groupType": ref.Type,
			}).Warn("分发组不属于该应用或其组织，已忽略")
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

// ResolveMembers 按类型分组，每类至多一次 IN 查询，两次查询在同一只读事务中完成
// 空输入直接返回空集合，不访问存储
func (s *MembershipService) ResolveMembers(ctx context.Context, refs []model.DistributionGroupRef) (map[string]struct{}, error) {
	members := make(map[string]struct{})
	if len(refs) == 0 {
		return members, nil
	}

	var appGroupIDs, orgGroupIDs []string
	for _, ref := range refs {
		switch ref.Type {
		case model.GroupTypeApp:
			appGroupIDs = append(appGroupIDs, ref.ID)
		case model.GroupTypeOrg:
			orgGroupIDs = append(orgGroupIDs, ref.ID)
		default:
			return nil, s.err.New("未知的分发组类型: "+string(ref.Type), nil).ValidWithCtx()
		}
	}

	err := s.store.InReadTx(ctx, func(r MemberReader) error {
		if len(appGroupIDs) > 0 {
			ids, err := r.AppGroupMembers(ctx, appGroupIDs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				members[id] = struct{}{}
			}
		}
		if len(orgGroupIDs) > 0 {
			ids, err := r.OrgGroupMembers(ctx, orgGroupIDs)
			if err != nil {
				return err
			}
			for _, id := range ids {
				members[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}
