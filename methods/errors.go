package methods

import (
	"log/slog"

	"github.com/samber/oops"
)

// 错误分类码
const (
	CodeNetwork    = "NETWORK_ERROR"
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeStorage    = "STORAGE_ERROR"
)

// NetworkError 网络或服务端错误（不可达、4xx、5xx）
func NetworkError() oops.OopsErrorBuilder {
	return oops.Code(CodeNetwork)
}

// ValidationError 本地校验失败，不会发起任何网络请求
func ValidationError() oops.OopsErrorBuilder {
	return oops.Code(CodeValidation)
}

// NotFoundError 记录不存在
func NotFoundError() oops.OopsErrorBuilder {
	return oops.Code(CodeNotFound)
}

// StorageError 数据库读写失败
func StorageError() oops.OopsErrorBuilder {
	return oops.Code(CodeStorage)
}

// HasCode 判断错误链上是否带有指定错误码
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	return ErrorCode(err) == code
}

// ErrorCode 错误链上的错误码，无则为空串
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

func IsNetwork(err error) bool    { return HasCode(err, CodeNetwork) }
func IsValidation(err error) bool { return HasCode(err, CodeValidation) }
func IsNotFound(err error) bool   { return HasCode(err, CodeNotFound) }

// ErrorContext oops错误携带的上下文
func ErrorContext(err error) map[string]any {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Context()
	}
	return nil
}

// LogError 输出结构化错误日志，oops错误附带code与上下文
func LogError(logger *slog.Logger, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{"error", oopsErr.Error()}
		if code, _ := oopsErr.Code().(string); code != "" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		logger.Error(msg, attrs...)
		return
	}
	logger.Error(msg, "error", err)
}
