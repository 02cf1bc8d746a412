package ota

import (
	"github.com/valyala/fasthttp"
)

// RequestInfoFromFasthttp 从 fasthttp 请求中提取推导对外地址所需的信息
func RequestInfoFromFasthttp(ctx *fasthttp.RequestCtx) RequestInfo {
	scheme := "http"
	if ctx.IsTLS() {
		scheme = "https"
	}
	return RequestInfo{
		Scheme:         scheme,
		Host:           string(ctx.Host()),
		ForwardedProto: string(ctx.Request.Header.Peek("X-Forwarded-Proto")),
		ForwardedHost:  string(ctx.Request.Header.Peek("X-Forwarded-Host")),
	}
}
