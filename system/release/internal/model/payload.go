package model

// ParsePayload binary-parsing 任务负载
type ParsePayload struct {
	ReleaseID string   `json:"releaseId" validate:"required,relid" comment:"发布ID"`
	FileKey   string   `json:"fileKey" validate:"required" comment:"存储key"`
	Platform  Platform `json:"platform" validate:"required,platform" comment:"平台"`
}

// NotifyPayload notifications 任务负载
type NotifyPayload struct {
	ReleaseID          string                 `json:"releaseId" validate:"required,relid" comment:"发布ID"`
	AppName            string                 `json:"appName" comment:"应用名称"`
	Version            string                 `json:"version" comment:"版本号"`
	DistributionGroups []DistributionGroupRef `json:"distributionGroups" validate:"dive" comment:"分发组"`
}

// NotifyDedupeKey 同一发布只扇出一次通知
func NotifyDedupeKey(releaseID string) string {
	return "notifications:" + releaseID
}

// ParseDedupeKey 同一发布同时只排队一个解析任务
func ParseDedupeKey(releaseID string) string {
	return "binary-parsing:" + releaseID
}
