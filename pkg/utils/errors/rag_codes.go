package errors

import "google.golang.org/grpc/codes"

// RAG 服务错误码: 20
var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidRequest = Register(New(MakeCode(ServiceRAG, CategoryRequest, 1), 400, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))
	ErrRAGTooManyItems   = Register(New(MakeCode(ServiceRAG, CategoryRequest, 2), 400, codes.InvalidArgument, "Too many questions in batch", "批量问题数量超出限制"))
	ErrRAGInvalidJob     = Register(New(MakeCode(ServiceRAG, CategoryRequest, 3), 400, codes.InvalidArgument, "Invalid job specification", "任务参数无效"))

	// 资源错误 (类别 04)
	ErrRAGNoDocuments = Register(New(MakeCode(ServiceRAG, CategoryResource, 1), 404, codes.NotFound, "No documents found", "未找到文档"))

	// 超时 (类别 11)
	ErrRAGQueryTimeout = Register(New(MakeCode(ServiceRAG, CategoryTimeout, 1), 504, codes.DeadlineExceeded, "Query timeout", "查询超时"))

	// 内部错误 (类别 07)
	ErrRAGQueryFailed      = Register(New(MakeCode(ServiceRAG, CategoryInternal, 1), 500, codes.Internal, "Query failed", "查询失败"))
	ErrRAGIndexFailed      = Register(New(MakeCode(ServiceRAG, CategoryInternal, 2), 500, codes.Internal, "Document indexing failed", "文档索引失败"))
	ErrRAGInvalidDimension = Register(New(MakeCode(ServiceRAG, CategoryInternal, 3), 500, codes.FailedPrecondition, "Embedding dimension mismatch", "向量维度不匹配"))
	ErrRAGStatsUnavailable = Register(New(MakeCode(ServiceRAG, CategoryInternal, 4), 500, codes.Internal, "Statistics unavailable", "统计信息不可用"))
	ErrRAGTaskSubmit       = Register(New(MakeCode(ServiceRAG, CategoryInternal, 5), 500, codes.Internal, "Task submission failed", "任务提交失败"))
	ErrRAGTaskStatus       = Register(New(MakeCode(ServiceRAG, CategoryInternal, 6), 500, codes.Internal, "Task status unavailable", "任务状态不可用"))

	// 服务不可用 (类别 10)
	ErrRAGServiceUnavailable = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 1), 503, codes.Unavailable, "RAG service unavailable", "RAG 服务不可用"))
)
