package retrieval

import "errors"

// 统一的检索错误码，用于对齐可重试性与降级策略。
type ErrorCode string

const (
	ErrInvalidArgument      ErrorCode = "RETRIEVAL_INVALID_ARGUMENT"      // 参数错误（k <= 0、权重不合法等）
	ErrNotFound             ErrorCode = "RETRIEVAL_NOT_FOUND"             // 规则 ID 不存在
	ErrEmbeddingUnavailable ErrorCode = "RETRIEVAL_EMBEDDING_UNAVAILABLE" // 嵌入提供者失败或超时（可降级）
	ErrIndexCorruption      ErrorCode = "RETRIEVAL_INDEX_CORRUPTION"      // 稠密/稀疏索引失去同步（不可恢复）
)

type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Cause }

// NewInvalidArgument 构造参数错误，永不重试。
func NewInvalidArgument(msg string) *Error {
	return &Error{Code: ErrInvalidArgument, Message: msg}
}

// NewNotFound 构造规则缺失错误。
func NewNotFound(id string) *Error {
	return &Error{Code: ErrNotFound, Message: "rule " + id + " not found"}
}

// NewEmbeddingUnavailable 构造嵌入提供者失败错误；查询路径可降级为纯稀疏检索。
func NewEmbeddingUnavailable(msg string, cause error) *Error {
	return &Error{Code: ErrEmbeddingUnavailable, Message: msg, Retryable: true, Cause: cause}
}

// NewIndexCorruption 构造索引失步错误，表示变更顺序约束被破坏。
func NewIndexCorruption(msg string) *Error {
	return &Error{Code: ErrIndexCorruption, Message: msg}
}

// CodeOf 提取错误码；非本包错误返回空串。
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 判断错误链中是否包含指定错误码。
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
