package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/whoami-client/internal/config"
	apperrors "github.com/wfunc/whoami-client/internal/errors"
	"go.uber.org/zap"
)

// WebSocket配置
const (
	// 发送缓冲区大小
	sendBufferSize = 256

	// 最大消息大小
	maxMessageSize = 512 * 1024 // 512KB
)

// Conn 基于WebSocket的连接实现
type Conn struct {
	ID     string
	url    string
	logger *zap.Logger

	dialTimeout  time.Duration
	writeTimeout time.Duration
	pongTimeout  time.Duration
	pingPeriod   time.Duration

	mu          sync.RWMutex
	ws          *websocket.Conn
	connected   bool
	intentional bool // 本次断开是否为本地主动发起
	stopCh      chan struct{}
	send        chan []byte

	handlerMu     sync.RWMutex
	nextHandlerID uint64
	handlers      map[string]map[uint64]EventHandler
	onConnect     map[uint64]func()
	onDisconnect  map[uint64]func(reason string)
	onConnectErr  map[uint64]func(err error)

	ackMu sync.Mutex
	acks  map[string]chan json.RawMessage
}

// NewConn 创建连接句柄
func NewConn(cfg *config.ServerConfig, logger *zap.Logger) *Conn {
	return &Conn{
		ID:           uuid.New().String(),
		url:          cfg.URL,
		logger:       logger,
		dialTimeout:  cfg.DialTimeout,
		writeTimeout: cfg.WriteTimeout,
		pongTimeout:  cfg.PongTimeout,
		pingPeriod:   cfg.PongTimeout * 9 / 10,
		handlers:     make(map[string]map[uint64]EventHandler),
		onConnect:    make(map[uint64]func()),
		onDisconnect: make(map[uint64]func(reason string)),
		onConnectErr: make(map[uint64]func(err error)),
		acks:         make(map[string]chan json.RawMessage),
	}
}

// Connect 建立连接（幂等）
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
	}

	ws, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Error("连接服务器失败",
			zap.String("url", c.url),
			zap.Error(err))
		c.fireConnectError(apperrors.Wrap(err, apperrors.ErrConnectFailed))
		return apperrors.Wrap(err, apperrors.ErrConnectFailed)
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.intentional = false
	c.stopCh = make(chan struct{})
	c.send = make(chan []byte, sendBufferSize)
	stopCh := c.stopCh
	c.mu.Unlock()

	go c.readPump(ws)
	go c.writePump(ws, stopCh)

	c.logger.Info("连接已建立",
		zap.String("conn_id", c.ID),
		zap.String("url", c.url))

	c.fireConnect()
	return nil
}

// Disconnect 主动断开连接（幂等）
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.intentional = true
	c.mu.Unlock()

	c.teardown(ReasonClientDisconnect)
}

// Connected 返回连接状态
func (c *Conn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Emit 发送事件，未连接时静默失败（仅记日志）
func (c *Conn) Emit(event string, payload interface{}) {
	c.mu.RLock()
	connected := c.connected
	send := c.send
	c.mu.RUnlock()

	if !connected {
		c.logger.Warn("未连接，丢弃待发送事件",
			zap.String("event", event))
		return
	}

	data, err := encodeEnvelope(event, payload, "")
	if err != nil {
		c.logger.Error("消息编码失败",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	select {
	case send <- data:
	default:
		c.logger.Warn("发送缓冲区已满，丢弃事件",
			zap.String("event", event))
	}
}

// EmitWithAck 发送事件并等待应答
// 未连接或应答丢失时一直等到ctx结束，调用方必须自带超时。
func (c *Conn) EmitWithAck(ctx context.Context, event string, payload interface{}, reply interface{}) error {
	ackID := uuid.New().String()
	ackCh := make(chan json.RawMessage, 1)

	c.ackMu.Lock()
	c.acks[ackID] = ackCh
	c.ackMu.Unlock()

	defer func() {
		c.ackMu.Lock()
		delete(c.acks, ackID)
		c.ackMu.Unlock()
	}()

	c.mu.RLock()
	connected := c.connected
	send := c.send
	c.mu.RUnlock()

	if connected {
		data, err := encodeEnvelope(event, payload, ackID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrMessageFormat)
		}
		select {
		case send <- data:
		default:
			c.logger.Warn("发送缓冲区已满，应答请求未发出",
				zap.String("event", event))
		}
	} else {
		c.logger.Warn("未连接，应答请求不会得到响应",
			zap.String("event", event))
	}

	select {
	case data := <-ackCh:
		if reply != nil {
			if err := json.Unmarshal(data, reply); err != nil {
				return apperrors.Wrap(err, apperrors.ErrMessageFormat)
			}
		}
		return nil
	case <-ctx.Done():
		return apperrors.New(apperrors.ErrAckTimeout, event).WithCause(ctx.Err())
	}
}

// On 订阅服务端事件
func (c *Conn) On(event string, handler EventHandler) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID

	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]EventHandler)
	}
	c.handlers[event][id] = handler

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.handlers[event], id)
	}
}

// OnConnect 订阅连接建立通知
func (c *Conn) OnConnect(handler func()) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID
	c.onConnect[id] = handler

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.onConnect, id)
	}
}

// OnDisconnect 订阅断线通知
func (c *Conn) OnDisconnect(handler func(reason string)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID
	c.onDisconnect[id] = handler

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.onDisconnect, id)
	}
}

// OnConnectError 订阅连接失败通知
func (c *Conn) OnConnectError(handler func(err error)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID
	c.onConnectErr[id] = handler

	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.onConnectErr, id)
	}
}

// readPump 读取消息并按到达顺序派发
func (c *Conn) readPump(ws *websocket.Conn) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			reason := ReasonTransportError
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				reason = ReasonTransportClose
			}
			c.teardown(reason)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("消息解析失败", zap.Error(err))
			continue
		}

		// 应答消息路由到等待方
		if env.Event == eventAck && env.AckID != "" {
			c.ackMu.Lock()
			ackCh, ok := c.acks[env.AckID]
			c.ackMu.Unlock()
			if ok {
				select {
				case ackCh <- env.Data:
				default:
				}
			}
			continue
		}

		c.dispatch(env.Event, env.Data)
	}
}

// writePump 写消息并定期发送传输层ping
func (c *Conn) writePump(ws *websocket.Conn, stopCh chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh():
			ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.teardown(ReasonTransportError)
				return
			}

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown(ReasonTransportError)
				return
			}

		case <-stopCh:
			return
		}
	}
}

// sendCh 获取当前发送通道
func (c *Conn) sendCh() chan []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.send
}

// dispatch 派发服务端事件
func (c *Conn) dispatch(event string, data json.RawMessage) {
	c.handlerMu.RLock()
	entries := make([]EventHandler, 0, len(c.handlers[event]))
	for _, h := range c.handlers[event] {
		entries = append(entries, h)
	}
	c.handlerMu.RUnlock()

	if len(entries) == 0 {
		c.logger.Debug("事件无订阅者",
			zap.String("event", event))
		return
	}

	for _, h := range entries {
		h(data)
	}
}

// teardown 关闭连接并通知订阅者（每次连接只执行一次）
func (c *Conn) teardown(reason string) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.intentional {
		reason = ReasonClientDisconnect
	}
	ws := c.ws
	c.ws = nil
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}

	c.logger.Info("连接已断开",
		zap.String("conn_id", c.ID),
		zap.String("reason", reason))

	c.fireDisconnect(reason)
}

// fireConnect 通知连接建立
func (c *Conn) fireConnect() {
	c.handlerMu.RLock()
	cbs := make([]func(), 0, len(c.onConnect))
	for _, cb := range c.onConnect {
		cbs = append(cbs, cb)
	}
	c.handlerMu.RUnlock()

	for _, cb := range cbs {
		cb()
	}
}

// fireDisconnect 通知断线
func (c *Conn) fireDisconnect(reason string) {
	c.handlerMu.RLock()
	cbs := make([]func(string), 0, len(c.onDisconnect))
	for _, cb := range c.onDisconnect {
		cbs = append(cbs, cb)
	}
	c.handlerMu.RUnlock()

	for _, cb := range cbs {
		cb(reason)
	}
}

// fireConnectError 通知连接失败
func (c *Conn) fireConnectError(err error) {
	c.handlerMu.RLock()
	cbs := make([]func(error), 0, len(c.onConnectErr))
	for _, cb := range c.onConnectErr {
		cbs = append(cbs, cb)
	}
	c.handlerMu.RUnlock()

	for _, cb := range cbs {
		cb(err)
	}
}
