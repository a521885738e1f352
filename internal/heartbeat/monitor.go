package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/wfunc/whoami-client/internal/config"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

// HeartbeatState 心跳状态快照
type HeartbeatState struct {
	LastHeartbeatAt time.Time
	MissedCount     int
	IsHealthy       bool
}

// Monitor 应用层心跳监视器
// 传输层报告"已连接"不代表应用层请求响应回路还活着（如半开连接），
// 本监视器定期发送带应答的ping独立验证。连续丢失达到阈值后强制
// 断开重连一轮。
type Monitor struct {
	conn   transport.Connection
	store  session.Store
	logger *zap.Logger
	cfg    config.HeartbeatConfig

	mu            sync.Mutex
	lastHeartbeat time.Time
	missedCount   int
	inFlight      bool // 单发守卫，避免重叠的ping
	cycling       bool // 强制重连进行中

	cycleTimer *time.Timer
	stopCh     chan struct{}
	unsubs     []func()
}

// NewMonitor 创建心跳监视器
func NewMonitor(
	conn transport.Connection,
	store session.Store,
	cfg config.HeartbeatConfig,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		conn:   conn,
		store:  store,
		logger: logger,
		cfg:    cfg,
	}
}

// Start 启动心跳循环
func (m *Monitor) Start() {
	if !m.cfg.Enabled {
		m.logger.Info("心跳已禁用")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})

	// 重连成功后清零计数
	m.unsubs = []func(){
		m.conn.OnConnect(m.handleConnect),
	}

	go m.loop(m.stopCh)
}

// Stop 停止心跳循环
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil

	if m.cycleTimer != nil {
		m.cycleTimer.Stop()
		m.cycleTimer = nil
	}
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

// State 返回心跳状态快照
func (m *Monitor) State() HeartbeatState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HeartbeatState{
		LastHeartbeatAt: m.lastHeartbeat,
		MissedCount:     m.missedCount,
		IsHealthy:       m.missedCount < m.cfg.MaxMissed,
	}
}

// handleConnect 重连成功，计数清零并取消待执行的拨号
func (m *Monitor) handleConnect() {
	m.mu.Lock()
	m.missedCount = 0
	m.cycling = false
	if m.cycleTimer != nil {
		m.cycleTimer.Stop()
		m.cycleTimer = nil
	}
	m.mu.Unlock()
}

// loop 心跳主循环：初始延迟后按固定间隔发送
func (m *Monitor) loop(stopCh chan struct{}) {
	initial := time.NewTimer(m.cfg.InitialDelay)
	defer initial.Stop()

	select {
	case <-initial.C:
	case <-stopCh:
		return
	}

	m.beat()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.beat()
		case <-stopCh:
			return
		}
	}
}

// beat 发送一次带应答的ping
// 应答在timeout内到达则计数清零；超时则累计丢失，
// 达到阈值后执行一次强制断开重连。
func (m *Monitor) beat() {
	if !m.conn.Connected() {
		return
	}

	m.mu.Lock()
	if m.inFlight || m.cycling {
		m.mu.Unlock()
		return
	}
	m.inFlight = true
	m.lastHeartbeat = time.Now()
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	err := m.conn.EmitWithAck(ctx, protocol.EventPing, nil, nil)

	m.mu.Lock()
	m.inFlight = false

	if err == nil {
		m.missedCount = 0
		m.mu.Unlock()

		m.logger.Debug("心跳正常")
		if err := m.store.Touch(); err != nil {
			m.logger.Warn("刷新存活时间戳失败", zap.Error(err))
		}
		return
	}

	m.missedCount++
	missed := m.missedCount
	shouldCycle := missed >= m.cfg.MaxMissed && !m.cycling
	if shouldCycle {
		m.cycling = true
	}
	m.mu.Unlock()

	m.logger.Warn("心跳超时",
		zap.Int("missed", missed))

	if shouldCycle {
		m.forceCycle()
	}
}

// forceCycle 服务端失去响应，强制断开后延迟重连
// 本地主动断开不会触发恢复控制器，拨号失败时由本监视器按同样
// 延迟继续重拨，直到成功、连接从别处恢复或Stop。
func (m *Monitor) forceCycle() {
	m.logger.Error("服务端连续无响应，强制重连",
		zap.Int("missed", m.cfg.MaxMissed))

	m.conn.Disconnect()
	m.scheduleRedial()
}

// scheduleRedial 安排一次延迟拨号
func (m *Monitor) scheduleRedial() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh == nil {
		m.cycling = false
		return
	}
	if m.cycleTimer != nil {
		m.cycleTimer.Stop()
	}
	m.cycleTimer = time.AfterFunc(m.cfg.CycleDelay, m.redial)
}

// redial 执行拨号，失败则重新安排
func (m *Monitor) redial() {
	m.mu.Lock()
	stopped := m.stopCh == nil
	m.mu.Unlock()
	if stopped {
		return
	}

	if err := m.conn.Connect(); err != nil {
		m.logger.Error("强制重连失败，稍后重拨", zap.Error(err))
		m.scheduleRedial()
		return
	}

	m.mu.Lock()
	m.cycling = false
	m.mu.Unlock()
}
