package transport

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/wfunc/whoami-client/internal/errors"
)

// AckFunc 模拟应答函数，返回写入reply的载荷
type AckFunc func(event string, payload interface{}) (interface{}, error)

// EmittedEvent 记录的已发送事件
type EmittedEvent struct {
	Event   string
	Payload interface{}
}

// MockConn 模拟连接（测试用）
// 实现Connection接口，事件和生命周期通知由测试代码手动触发。
type MockConn struct {
	mu        sync.RWMutex
	connected bool

	// Emitted 记录所有Emit/EmitWithAck发出的事件
	Emitted []EmittedEvent

	// ConnectErr 非nil时Connect返回该错误
	ConnectErr error

	// Acks 按事件名注册的应答函数；未注册的事件一直等到ctx结束
	Acks map[string]AckFunc

	nextID       uint64
	handlers     map[string]map[uint64]EventHandler
	onConnect    map[uint64]func()
	onDisconnect map[uint64]func(string)
	onConnectErr map[uint64]func(error)
}

// NewMockConn 创建模拟连接
func NewMockConn() *MockConn {
	return &MockConn{
		Acks:         make(map[string]AckFunc),
		handlers:     make(map[string]map[uint64]EventHandler),
		onConnect:    make(map[uint64]func()),
		onDisconnect: make(map[uint64]func(string)),
		onConnectErr: make(map[uint64]func(error)),
	}
}

// Connect 模拟连接建立
func (m *MockConn) Connect() error {
	m.mu.Lock()
	if m.ConnectErr != nil {
		err := m.ConnectErr
		m.mu.Unlock()
		m.fireConnectError(err)
		return err
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.connected = true
	m.mu.Unlock()

	m.FireConnect()
	return nil
}

// Disconnect 模拟主动断开
func (m *MockConn) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.mu.Unlock()

	m.FireDisconnect(ReasonClientDisconnect)
}

// Connected 返回连接状态
func (m *MockConn) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// SetConnected 直接设置连接状态（不触发通知）
func (m *MockConn) SetConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// Emit 记录发送的事件
func (m *MockConn) Emit(event string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return
	}
	m.Emitted = append(m.Emitted, EmittedEvent{Event: event, Payload: payload})
}

// EmitWithAck 记录事件并执行注册的应答函数
func (m *MockConn) EmitWithAck(ctx context.Context, event string, payload interface{}, reply interface{}) error {
	m.mu.Lock()
	m.Emitted = append(m.Emitted, EmittedEvent{Event: event, Payload: payload})
	ack := m.Acks[event]
	m.mu.Unlock()

	if ack == nil {
		<-ctx.Done()
		return apperrors.New(apperrors.ErrAckTimeout, event).WithCause(ctx.Err())
	}

	result, err := ack(event, payload)
	if err != nil {
		return err
	}
	if reply != nil && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, reply)
	}
	return nil
}

// On 订阅事件
func (m *MockConn) On(event string, handler EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[uint64]EventHandler)
	}
	m.handlers[event][id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

// OnConnect 订阅连接建立通知
func (m *MockConn) OnConnect(handler func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.onConnect[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onConnect, id)
	}
}

// OnDisconnect 订阅断线通知
func (m *MockConn) OnDisconnect(handler func(string)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.onDisconnect[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onDisconnect, id)
	}
}

// OnConnectError 订阅连接失败通知
func (m *MockConn) OnConnectError(handler func(error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.onConnectErr[id] = handler

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.onConnectErr, id)
	}
}

// FireEvent 模拟服务端推送事件
func (m *MockConn) FireEvent(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.RLock()
	handlers := make([]EventHandler, 0, len(m.handlers[event]))
	for _, h := range m.handlers[event] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// FireConnect 模拟连接建立通知
func (m *MockConn) FireConnect() {
	m.mu.RLock()
	cbs := make([]func(), 0, len(m.onConnect))
	for _, cb := range m.onConnect {
		cbs = append(cbs, cb)
	}
	m.mu.RUnlock()

	for _, cb := range cbs {
		cb()
	}
}

// FireDisconnect 模拟断线通知
func (m *MockConn) FireDisconnect(reason string) {
	m.mu.Lock()
	m.connected = false
	cbs := make([]func(string), 0, len(m.onDisconnect))
	for _, cb := range m.onDisconnect {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(reason)
	}
}

// fireConnectError 通知连接失败
func (m *MockConn) fireConnectError(err error) {
	m.mu.RLock()
	cbs := make([]func(error), 0, len(m.onConnectErr))
	for _, cb := range m.onConnectErr {
		cbs = append(cbs, cb)
	}
	m.mu.RUnlock()

	for _, cb := range cbs {
		cb(err)
	}
}

// EmittedEvents 返回指定事件名的发送记录
func (m *MockConn) EmittedEvents(event string) []EmittedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []EmittedEvent
	for _, e := range m.Emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
