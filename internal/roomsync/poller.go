package roomsync

import (
	"context"
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

// Poller 房间定时同步器
// 仅在进行中的游戏状态下工作：逐事件更新可能在后台被静默丢失
// （比如错过一条player-left），定期向服务端做权威校验兜底。
// 连续失败达到阈值视为会话不可恢复。
type Poller struct {
	conn      transport.Connection
	store     session.Store
	rooms     *room.Manager
	notifier  notify.Notifier
	navigator notify.Navigator
	logger    *zap.Logger
	cfg       config.SyncConfig

	mu         sync.Mutex
	lastSync   time.Time
	inFlight   bool // 单发守卫，定时器重叠不会并发发送
	failures   int
	terminated bool // 终结通知去重

	stopCh chan struct{}
}

// NewPoller 创建同步器
func NewPoller(
	conn transport.Connection,
	store session.Store,
	rooms *room.Manager,
	notifier notify.Notifier,
	navigator notify.Navigator,
	cfg config.SyncConfig,
	logger *zap.Logger,
) *Poller {
	return &Poller{
		conn:      conn,
		store:     store,
		rooms:     rooms,
		notifier:  notifier,
		navigator: navigator,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start 启动同步循环
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})

	go p.loop(p.stopCh)
}

// Stop 停止同步循环
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	p.inFlight = false
}

// Failures 当前连续失败计数（测试用）
func (p *Poller) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// loop 初始延迟后按固定间隔触发同步
func (p *Poller) loop(stopCh chan struct{}) {
	initial := time.NewTimer(p.cfg.InitialDelay)
	defer initial.Stop()

	select {
	case <-initial.C:
	case <-stopCh:
		return
	}

	p.Sync()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Sync()
		case <-stopCh:
			return
		}
	}
}

// Sync 执行一次同步校验
// 守卫：仅活动游戏状态、最小发送间隔、单发防重入。
func (p *Poller) Sync() {
	r := p.rooms.Room()
	if r == nil || !r.GameState.IsActive() {
		return
	}

	s, err := p.store.Restore()
	if err != nil || s == nil {
		return
	}

	now := time.Now()

	p.mu.Lock()
	if p.terminated || p.inFlight || now.Sub(p.lastSync) < p.cfg.MinSpacing {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.lastSync = now
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AckTimeout)
	defer cancel()

	var ack protocol.SyncAck
	err = p.conn.EmitWithAck(ctx, protocol.EventSyncRoom, r.ID, &ack)

	p.mu.Lock()
	p.inFlight = false
	p.mu.Unlock()

	if err != nil {
		p.recordFailure("ack timeout")
		return
	}
	if !ack.IsSynced {
		p.recordFailure(ack.Error)
		return
	}

	p.mu.Lock()
	p.failures = 0
	p.mu.Unlock()

	p.logger.Debug("房间同步正常",
		zap.String("player_id", s.PlayerID),
		zap.String("room_id", r.ID))
}

// recordFailure 记录一次失败，达到阈值后终结会话
func (p *Poller) recordFailure(cause string) {
	p.mu.Lock()
	p.failures++
	failures := p.failures
	terminal := failures >= p.cfg.MaxFailures && !p.terminated
	if terminal {
		p.terminated = true
	}
	p.mu.Unlock()

	if !terminal {
		p.logger.Warn("房间同步失败",
			zap.String("cause", cause),
			zap.Int("failures", failures))
		return
	}

	p.logger.Warn("房间同步连续失败，清除会话",
		zap.String("cause", cause),
		zap.Int("failures", failures))

	// 会话终结三连：清持久化会话、清内存状态、回入口（通知只发一次）
	p.store.Clear()
	p.rooms.ClearLocal()
	p.notifier.Notify(notify.KindError, "Sua sessão expirou. Retornando ao início...")
	p.navigator.NavigateHome()
}

// Reset 重新允许同步（新会话建立后调用）
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	p.terminated = false
}
