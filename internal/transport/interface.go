package transport

import (
	"context"
	"encoding/json"
)

// 断线原因
const (
	// ReasonClientDisconnect 本地主动断开（不触发恢复）
	ReasonClientDisconnect = "client disconnect"
	// ReasonTransportClose 传输层连接被关闭
	ReasonTransportClose = "transport close"
	// ReasonTransportError 传输层读写错误
	ReasonTransportError = "transport error"
)

// EventHandler 服务端事件处理函数
type EventHandler func(data json.RawMessage)

// Connection 与游戏服务器的连接句柄
// connect/disconnect幂等；未连接时Emit静默丢弃（仅记日志）；
// 带应答的调用由调用方通过ctx自行限时。本层不做任何重试。
type Connection interface {
	// Connect 建立连接，已连接时直接返回
	Connect() error
	// Disconnect 主动断开连接，未连接时无操作
	Disconnect()
	// Connected 返回当前连接状态
	Connected() bool

	// Emit 发送事件，未连接时静默失败
	Emit(event string, payload interface{})
	// EmitWithAck 发送事件并等待服务端应答写入reply
	EmitWithAck(ctx context.Context, event string, payload interface{}, reply interface{}) error

	// On 订阅服务端事件，返回取消订阅函数
	On(event string, handler EventHandler) func()

	// OnConnect 订阅连接建立通知
	OnConnect(handler func()) func()
	// OnDisconnect 订阅断线通知，handler收到断线原因
	OnDisconnect(handler func(reason string)) func()
	// OnConnectError 订阅连接失败通知
	OnConnectError(handler func(err error)) func()
}
