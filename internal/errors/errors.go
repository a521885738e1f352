package errors

import (
	"fmt"
	"strings"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown      ErrorCode = 1000
	ErrInvalidParam ErrorCode = 1001
	ErrNotFound     ErrorCode = 1002
	ErrTimeout      ErrorCode = 1003
	ErrCanceled     ErrorCode = 1004

	// 连接错误 (2000-2999)
	ErrConnectFailed    ErrorCode = 2000
	ErrNotConnected     ErrorCode = 2001
	ErrConnectionClosed ErrorCode = 2002
	ErrAckTimeout       ErrorCode = 2003
	ErrHeartbeatLost    ErrorCode = 2004

	// 会话错误 (3000-3999)
	ErrSessionNotFound ErrorCode = 3000
	ErrSessionExpired  ErrorCode = 3001
	ErrSessionStore    ErrorCode = 3002
	ErrRejoinFailed    ErrorCode = 3003
	ErrRejoinTimeout   ErrorCode = 3004
	ErrRecoveryGivenUp ErrorCode = 3005

	// 同步错误 (4000-4999)
	ErrSyncRejected ErrorCode = 4000
	ErrSyncTimeout  ErrorCode = 4001
	ErrOutOfSync    ErrorCode = 4002

	// 协议错误 (5000-5999)
	ErrMessageFormat  ErrorCode = 5000
	ErrUnknownEvent   ErrorCode = 5001
	ErrServerRejected ErrorCode = 5002
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:      "未知错误",
	ErrInvalidParam: "无效的参数",
	ErrNotFound:     "资源未找到",
	ErrTimeout:      "操作超时",
	ErrCanceled:     "操作已取消",

	ErrConnectFailed:    "连接服务器失败",
	ErrNotConnected:     "当前未连接",
	ErrConnectionClosed: "连接已关闭",
	ErrAckTimeout:       "等待应答超时",
	ErrHeartbeatLost:    "心跳失联",

	ErrSessionNotFound: "会话不存在",
	ErrSessionExpired:  "会话已过期",
	ErrSessionStore:    "会话存储失败",
	ErrRejoinFailed:    "重入房间失败",
	ErrRejoinTimeout:   "重入房间超时",
	ErrRecoveryGivenUp: "多次恢复失败，已放弃自动重连",

	ErrSyncRejected: "服务端拒绝同步",
	ErrSyncTimeout:  "房间同步超时",
	ErrOutOfSync:    "房间状态失去同步",

	ErrMessageFormat:  "消息格式错误",
	ErrUnknownEvent:   "未知的事件类型",
	ErrServerRejected: "服务端返回错误",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode `json:"code"`    // 错误码
	Message string    `json:"message"` // 错误消息
	Details string    `json:"details"` // 详细信息
	Cause   error     `json:"-"`       // 原始错误
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrTimeout,
		ErrConnectFailed,
		ErrAckTimeout,
		ErrHeartbeatLost,
		ErrRejoinTimeout,
		ErrSyncTimeout:
		return true
	default:
		return false
	}
}

// IsTerminal 判断错误是否终结当前会话
// 终结性错误触发统一的清理三连：清持久化会话、清内存房间、导航回入口。
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}

	switch GetCode(err) {
	case ErrSessionExpired,
		ErrRejoinFailed,
		ErrRecoveryGivenUp,
		ErrOutOfSync:
		return true
	default:
		return false
	}
}
