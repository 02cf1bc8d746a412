package model

import (
	errorc "deploymate/pkg/core/err"
)

// ReleaseStatus 发布状态，只能前进或进入 FAILED
type ReleaseStatus string

const (
	ReleaseStatusUploading  ReleaseStatus = "UPLOADING"
	ReleaseStatusProcessing ReleaseStatus = "PROCESSING"
	ReleaseStatusReady      ReleaseStatus = "READY"
	ReleaseStatusFailed     ReleaseStatus = "FAILED"
)

var transitions = map[ReleaseStatus][]ReleaseStatus{
	ReleaseStatusUploading:  {ReleaseStatusProcessing, ReleaseStatusReady, ReleaseStatusFailed},
	ReleaseStatusProcessing: {ReleaseStatusReady, ReleaseStatusFailed},
}

// Terminal READY 与 FAILED 为终态
func (s ReleaseStatus) Terminal() bool {
	return s == ReleaseStatusReady || s == ReleaseStatusFailed
}

// Valid 是否为已定义的状态
func (s ReleaseStatus) Valid() bool {
	switch s {
	case ReleaseStatusUploading, ReleaseStatusProcessing, ReleaseStatusReady, ReleaseStatusFailed:
		return true
	}
	return false
}

// CanTransition 是否允许从 from 迁移到 to，相同状态视为允许（幂等重放）
func CanTransition(from, to ReleaseStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition 校验迁移，非法迁移返回 Conflict 错误
func Transition(from, to ReleaseStatus) error {
	if !CanTransition(from, to) {
		return errorc.New("非法的发布状态迁移: "+string(from)+" -> "+string(to), nil).Conflict()
	}
	return nil
}

// Predecessors 允许迁移到 to 的前驱状态（不含 to 自身），用于 CAS 更新条件
func Predecessors(to ReleaseStatus) []ReleaseStatus {
	var out []ReleaseStatus
	for _, from := range []ReleaseStatus{ReleaseStatusUploading, ReleaseStatusProcessing, ReleaseStatusReady, ReleaseStatusFailed} {
		if from != to && CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
