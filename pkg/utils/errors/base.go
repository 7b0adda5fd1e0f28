package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

var (
	ErrInvalidParam = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "参数错误"))
	ErrBind         = Register(New(MakeCode(ServiceCommon, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "Error occurred while binding the request body", "请求体解析失败"))
	ErrNotFound     = Register(New(MakeCode(ServiceCommon, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "Resource not found", "资源不存在"))
	ErrInternal     = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误"))
	ErrTimeout      = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 1), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Request timeout", "请求超时"))

	ErrCacheUnavailable = Register(New(MakeCode(ServiceInfraCache, CategoryCache, 1), http.StatusServiceUnavailable, codes.Unavailable, "Cache unavailable", "缓存不可用"))
	ErrQueueUnavailable = Register(New(MakeCode(ServiceInfraMQ, CategoryNetwork, 1), http.StatusServiceUnavailable, codes.Unavailable, "Task queue unavailable", "任务队列不可用"))
)
