package consts

type contextKey string

// TraceKey 请求链路追踪 ID 在 context 中的键
const TraceKey contextKey = "trace_id"

const (
	// EnvProd 生产环境标识
	EnvProd = "prod"
	// EnvDev 开发环境标识
	EnvDev = "dev"
)
