package recovery

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/wfunc/whoami-client/internal/config"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/room"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

// State 恢复控制器状态
type State string

const (
	StateIdle         State = "idle"         // 正常
	StateDisconnected State = "disconnected" // 已断线，等待下次尝试
	StateRecovering   State = "recovering"   // 恢复尝试进行中
)

// ConnectionState 对外暴露的连接状态快照（仅驱动UI）
type ConnectionState struct {
	IsDisconnected bool
	AttemptCount   int
	NextRetryIn    int // 秒
	IsRecovering   bool
	GaveUp         bool
}

// Controller 断线恢复控制器
// 状态机：Idle → Disconnected → Recovering → {Idle | Disconnected}。
// 所有退避调度由本层统一负责，传输层不做自动重连。
type Controller struct {
	conn      transport.Connection
	store     session.Store
	rooms     *room.Manager
	notifier  notify.Notifier
	logger    *zap.Logger
	cfg       config.RecoveryConfig

	mu           sync.Mutex
	state        State
	attemptCount int
	nextRetryIn  int
	gaveUp       bool

	retryTimer *time.Timer
	stopCh     chan struct{}
	unsubs     []func()

	rng *rand.Rand
}

// NewController 创建恢复控制器
func NewController(
	conn transport.Connection,
	store session.Store,
	rooms *room.Manager,
	notifier notify.Notifier,
	cfg config.RecoveryConfig,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		conn:     conn,
		store:    store,
		rooms:    rooms,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		state:    StateIdle,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start 订阅连接生命周期事件并启动倒计时
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopCh != nil {
		return
	}
	c.stopCh = make(chan struct{})

	c.unsubs = []func(){
		c.conn.OnDisconnect(c.handleDisconnect),
		c.conn.OnConnect(c.handleConnect),
		c.conn.OnConnectError(c.handleConnectError),
	}

	go c.countdownLoop(c.stopCh)
}

// Stop 解除订阅并释放全部定时器
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil

	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// State 返回连接状态快照
func (c *Controller) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionState{
		IsDisconnected: c.state != StateIdle,
		AttemptCount:   c.attemptCount,
		NextRetryIn:    c.nextRetryIn,
		IsRecovering:   c.state == StateRecovering,
		GaveUp:         c.gaveUp,
	}
}

// RetryNow 手动立即重试（绕过退避计划）
func (c *Controller) RetryNow() {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.gaveUp = false
	c.mu.Unlock()

	go c.runAttempt()
}

// Backoff 计算第n次尝试的退避延迟
// clamp(base * 2^n, base, cap) * (1 ± jitter)，结果再收敛到[base, cap]。
func (c *Controller) Backoff(attempt int) time.Duration {
	base := float64(c.cfg.BaseDelay)
	max := float64(c.cfg.MaxDelay)

	delay := base * float64(uint64(1)<<uint(attempt))
	if delay > max {
		delay = max
	}

	// 抖动：±jitterRatio/2（默认±10%）
	jitter := delay * c.cfg.JitterRatio * (c.rng.Float64() - 0.5)
	delay += jitter

	if delay < base {
		delay = base
	}
	if delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// handleDisconnect 断线通知
// 本地主动断开不触发恢复，其余原因进入Disconnected并安排首次尝试。
func (c *Controller) handleDisconnect(reason string) {
	if reason == transport.ReasonClientDisconnect {
		c.logger.Info("本地主动断开，不做恢复")
		c.mu.Lock()
		c.state = StateIdle
		c.attemptCount = 0
		c.nextRetryIn = 0
		if c.retryTimer != nil {
			c.retryTimer.Stop()
			c.retryTimer = nil
		}
		c.mu.Unlock()
		return
	}

	c.logger.Error("连接丢失", zap.String("reason", reason))

	// 断线瞬间把当前房间快照写入会话，供恢复后比对
	if r := c.rooms.Room(); r != nil {
		if err := c.store.UpdateRoom(r); err != nil {
			c.logger.Warn("保存断线快照失败", zap.Error(err))
		}
	}

	delay := c.Backoff(0)

	c.mu.Lock()
	c.state = StateDisconnected
	c.attemptCount = 0
	c.gaveUp = false
	c.nextRetryIn = int(delay / time.Second)
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		c.runAttempt()
	})
	c.mu.Unlock()

	c.notifier.Notify(notify.KindError, "Conexão perdida. Tentando reconectar...")
}

// handleConnect 传输层恢复连接
// 非Idle状态下这是网络可用的证据，立即尝试恢复而不等退避计时。
func (c *Controller) handleConnect() {
	c.mu.Lock()
	pending := c.state != StateIdle
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	if pending {
		c.logger.Info("传输层已重连，立即尝试恢复")
		go c.runAttempt()
	}
}

// handleConnectError 连接失败通知，仅记录
func (c *Controller) handleConnectError(err error) {
	c.logger.Error("连接失败", zap.Error(err))
}

// runAttempt 执行一次恢复尝试
// 传输层未连接时先重新拨号（传输层自身不做重连），拨号失败计为
// 一次失败尝试。拨号成功后发出rejoin，让10秒超时与下一条
// room-updated赛跑，先到者定胜负。
func (c *Controller) runAttempt() {
	c.mu.Lock()
	if c.state == StateRecovering {
		c.mu.Unlock()
		return
	}
	attempt := c.attemptCount
	c.state = StateRecovering
	stopCh := c.stopCh
	c.mu.Unlock()

	s, err := c.store.Restore()
	if err != nil || s == nil {
		c.logger.Warn("无可恢复的会话，放弃恢复")
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}

	c.logger.Info("开始恢复尝试",
		zap.Int("attempt", attempt+1),
		zap.String("room_id", s.RoomID))

	if !c.conn.Connected() {
		if err := c.conn.Connect(); err != nil {
			c.logger.Warn("重连拨号失败", zap.Error(err))
			c.onAttemptFailed()
			return
		}
	}

	// 竞速：room-updated先到为成功，超时先到为失败。
	// 迟到的一方只是被忽略，不强制中止。
	won := make(chan struct{}, 1)
	unsub := c.conn.On(protocol.EventRoomUpdated, func(json.RawMessage) {
		select {
		case won <- struct{}{}:
		default:
		}
	})
	defer unsub()

	c.rooms.BeginRejoin()
	c.conn.Emit(protocol.EventRejoinRoom, protocol.RejoinRequest{
		RoomID:   s.RoomID,
		PlayerID: s.PlayerID,
	})

	timer := time.NewTimer(c.cfg.RejoinTimeout)
	defer timer.Stop()

	select {
	case <-won:
		c.onRecovered()
	case <-timer.C:
		c.onAttemptFailed()
	case <-stopCh:
		c.mu.Lock()
		if c.state == StateRecovering {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
	}
}

// onRecovered 恢复成功
func (c *Controller) onRecovered() {
	c.mu.Lock()
	c.state = StateIdle
	c.attemptCount = 0
	c.nextRetryIn = 0
	c.gaveUp = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.mu.Unlock()

	if err := c.store.Touch(); err != nil {
		c.logger.Warn("刷新存活时间戳失败", zap.Error(err))
	}

	c.logger.Info("恢复成功")
	c.notifier.Notify(notify.KindSuccess, "Reconectado com sucesso")
}

// onAttemptFailed 恢复失败，按退避计划安排下一次或放弃
func (c *Controller) onAttemptFailed() {
	c.mu.Lock()
	c.attemptCount++
	attempt := c.attemptCount
	c.state = StateDisconnected

	if attempt >= c.cfg.MaxAttempts {
		c.gaveUp = true
		c.nextRetryIn = 0
		if c.retryTimer != nil {
			c.retryTimer.Stop()
			c.retryTimer = nil
		}
		c.mu.Unlock()

		c.logger.Error("恢复尝试次数耗尽，等待手动重试",
			zap.Int("attempts", attempt))
		c.notifier.Notify(notify.KindError,
			"Falha persistente na reconexão. Tente recarregar a página.")
		return
	}

	delay := c.Backoff(attempt)
	secs := int(delay / time.Second)
	c.nextRetryIn = secs
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(delay, func() {
		c.runAttempt()
	})
	c.mu.Unlock()

	c.logger.Warn("恢复失败，已安排重试",
		zap.Int("attempt", attempt),
		zap.Duration("next_delay", delay))
	c.notifier.Notify(notify.KindWarning,
		fmt.Sprintf("Reconexão falhou. Tentando novamente em %ds...", secs))
}

// countdownLoop 每秒递减nextRetryIn，供UI展示
func (c *Controller) countdownLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			if c.state == StateDisconnected && c.nextRetryIn > 0 {
				c.nextRetryIn--
			}
			c.mu.Unlock()
		case <-stopCh:
			return
		}
	}
}
