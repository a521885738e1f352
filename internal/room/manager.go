package room

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

// 自动重入的兜底超时：超过该时间仍未收到房间状态则视为会话失效
const rejoinFallbackTimeout = 12 * time.Second

// Manager 房间状态管理器
// 订阅服务端房间事件并维护归一化的本地房间模型。
// 房间与玩家视图对外只读，所有变更都由服务端事件驱动。
type Manager struct {
	conn      transport.Connection
	store     session.Store
	notifier  notify.Notifier
	navigator notify.Navigator
	logger    *zap.Logger

	mu        sync.RWMutex
	room      *protocol.Room
	view      *protocol.PlayerView
	rejoining bool // 重入尝试进行中

	rejoinFallback *time.Timer
	unsubs         []func()
}

// NewManager 创建房间状态管理器
func NewManager(
	conn transport.Connection,
	store session.Store,
	notifier notify.Notifier,
	navigator notify.Navigator,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		conn:      conn,
		store:     store,
		notifier:  notifier,
		navigator: navigator,
		logger:    logger,
	}
}

// Start 建立事件订阅表（每个管理器生命周期只建一次）
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.unsubs) > 0 {
		return
	}

	m.unsubs = []func(){
		m.conn.On(protocol.EventRoomCreated, m.handleRoomCreated),
		m.conn.On(protocol.EventRoomUpdated, m.handleRoomUpdated),
		m.conn.On(protocol.EventPlayerJoined, m.handlePlayerJoined),
		m.conn.On(protocol.EventPlayerLeft, m.handlePlayerLeft),
		m.conn.On(protocol.EventGameStarted, m.handleGameStarted),
		m.conn.On(protocol.EventRoundEnded, m.handleRoundEnded),
		m.conn.On(protocol.EventInfo, m.handleInfo),
		m.conn.On(protocol.EventError, m.handleError),
		m.conn.OnConnect(m.handleConnect),
	}
}

// Stop 对称解除全部订阅并释放定时器
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil

	if m.rejoinFallback != nil {
		m.rejoinFallback.Stop()
		m.rejoinFallback = nil
	}
}

// Room 当前房间（深拷贝，只读）
func (m *Manager) Room() *protocol.Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.room.Clone()
}

// PlayerView 当前玩家视图（深拷贝，只读）
func (m *Manager) PlayerView() *protocol.PlayerView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.view.Clone()
}

// RejoinInFlight 是否有重入尝试进行中
func (m *Manager) RejoinInFlight() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rejoining
}

// BeginRejoin 标记重入尝试开始（由恢复控制器调用）
func (m *Manager) BeginRejoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejoining = true
}

// handleConnect 连接建立后自动重入：存在会话但尚未加载房间时发起rejoin
func (m *Manager) handleConnect() {
	m.mu.Lock()
	if m.room != nil {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	s, err := m.store.Restore()
	if err != nil || s == nil || s.RoomID == "" {
		return
	}

	m.logger.Info("自动重入房间",
		zap.String("room_id", s.RoomID),
		zap.String("player_id", s.PlayerID))

	m.mu.Lock()
	m.rejoining = true
	if m.rejoinFallback != nil {
		m.rejoinFallback.Stop()
	}
	m.rejoinFallback = time.AfterFunc(rejoinFallbackTimeout, m.rejoinFallbackFired)
	m.mu.Unlock()

	m.conn.Emit(protocol.EventRejoinRoom, protocol.RejoinRequest{
		RoomID:   s.RoomID,
		PlayerID: s.PlayerID,
	})
}

// rejoinFallbackFired 重入兜底超时：仍无房间则清会话回入口
func (m *Manager) rejoinFallbackFired() {
	m.mu.Lock()
	if !m.rejoining || m.room != nil {
		m.mu.Unlock()
		return
	}
	m.rejoining = false
	m.room = nil
	m.view = nil
	m.mu.Unlock()

	m.logger.Warn("重入超时，清除会话并返回入口")
	m.store.Clear()
	m.navigator.NavigateHome()
}

// applyRoom 替换本地房间并持久化快照
func (m *Manager) applyRoom(incoming *protocol.Room) *protocol.Room {
	normalized := protocol.NormalizeRoom(incoming)

	m.mu.Lock()
	m.room = normalized
	m.rejoining = false
	if m.rejoinFallback != nil {
		m.rejoinFallback.Stop()
		m.rejoinFallback = nil
	}
	m.mu.Unlock()

	if err := m.store.UpdateRoom(normalized); err != nil {
		m.logger.Warn("保存房间快照失败", zap.Error(err))
	}
	return normalized
}

// ClearLocal 仅清除内存中的房间与视图（持久化会话由调用方处理）
func (m *Manager) ClearLocal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.room = nil
	m.view = nil
	m.rejoining = false
	if m.rejoinFallback != nil {
		m.rejoinFallback.Stop()
		m.rejoinFallback = nil
	}
}

// clearAll 会话终结三连：清持久化会话、清内存状态、回入口
func (m *Manager) clearAll() {
	m.ClearLocal()
	m.store.Clear()
	m.navigator.NavigateHome()
}

// handleRoomCreated 房间创建
func (m *Manager) handleRoomCreated(data json.RawMessage) {
	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		m.logger.Warn("room-created载荷解析失败", zap.Error(err))
		return
	}

	normalized := m.applyRoom(&incoming)
	m.logger.Info("房间已创建",
		zap.String("room_id", normalized.ID),
		zap.Int("players", len(normalized.Players)))
}

// handleRoomUpdated 房间整体更新
func (m *Manager) handleRoomUpdated(data json.RawMessage) {
	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		m.logger.Warn("room-updated载荷解析失败", zap.Error(err))
		return
	}

	m.applyRoom(&incoming)
}

// handlePlayerJoined 新玩家进入
func (m *Manager) handlePlayerJoined(data json.RawMessage) {
	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		m.logger.Warn("player-joined载荷解析失败", zap.Error(err))
		return
	}

	normalized := m.applyRoom(&incoming)

	if len(normalized.Players) == 0 {
		return
	}
	last := normalized.Players[len(normalized.Players)-1]

	// 本地身份未确立时无法区分新玩家是否本人（自己刚加入、身份
	// 还没从同一事件里采纳），不做提示
	s, _ := m.store.Restore()
	if s == nil {
		return
	}
	if s.PlayerID != last.ID {
		m.notifier.Notify(notify.KindJoin, fmt.Sprintf("%s entrou na sala", last.Name))
	}
}

// handlePlayerLeft 玩家离开
// 本地玩家不在新名单中时视为会话终结，而不是普通更新。
func (m *Manager) handlePlayerLeft(data json.RawMessage) {
	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		m.logger.Warn("player-left载荷解析失败", zap.Error(err))
		return
	}

	m.mu.RLock()
	previous := m.room.Clone()
	m.mu.RUnlock()

	// 对比前后名单找出离开的玩家（用于通知）
	var left *protocol.Player
	if previous != nil {
		for i := range previous.Players {
			if !(&incoming).HasPlayer(previous.Players[i].ID) {
				left = &previous.Players[i]
				break
			}
		}
	}

	s, _ := m.store.Restore()

	leftName := "unknown"
	if left != nil {
		leftName = left.Name
	}
	m.logger.Info("玩家离开",
		zap.String("player", leftName),
		zap.String("game_state", string(incoming.GameState)),
		zap.Int("players", len(incoming.Players)))

	if s != nil && !(&incoming).HasPlayer(s.PlayerID) {
		// 本地玩家已不在权威名单中
		m.clearAll()
		return
	}

	m.applyRoom(&incoming)

	if left != nil && (s == nil || s.PlayerID != left.ID) {
		m.notifier.Notify(notify.KindLeave, fmt.Sprintf("%s saiu da sala", left.Name))
	}
}

// handleGameStarted 对局开始：玩家视图整体替换，分配结果合并回房间名单
// 视图是分配结果的权威来源，房间是成员关系的权威来源。
func (m *Manager) handleGameStarted(data json.RawMessage) {
	var view protocol.PlayerView
	if err := json.Unmarshal(data, &view); err != nil {
		m.logger.Warn("game-started载荷解析失败", zap.Error(err))
		return
	}

	m.logger.Info("对局开始",
		zap.String("room_id", view.RoomID),
		zap.Int("round", view.CurrentRound))

	m.mu.Lock()
	m.view = view.Clone()
	current := m.room
	if current != nil {
		merged := current.Clone()
		for i := range merged.Players {
			for _, vp := range view.Players {
				if vp.ID == merged.Players[i].ID && vp.AssignedItem != "" {
					merged.Players[i].AssignedItem = vp.AssignedItem
				}
			}
		}
		if view.GameState != "" {
			merged.GameState = view.GameState
		}
		if view.CurrentRound > 0 {
			merged.CurrentRound = view.CurrentRound
		}
		m.room = protocol.NormalizeRoom(merged)
		current = m.room
	}
	m.mu.Unlock()

	if err := m.store.UpdatePlayerView(&view); err != nil {
		m.logger.Warn("保存玩家视图快照失败", zap.Error(err))
	}
	if current != nil {
		if err := m.store.UpdateRoom(current); err != nil {
			m.logger.Warn("保存房间快照失败", zap.Error(err))
		}
	}
}

// handleRoundEnded 回合结束：房间整体替换，已有视图只切换到finished
func (m *Manager) handleRoundEnded(data json.RawMessage) {
	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		m.logger.Warn("round-ended载荷解析失败", zap.Error(err))
		return
	}

	m.applyRoom(&incoming)

	m.mu.Lock()
	var updated *protocol.PlayerView
	if m.view != nil {
		m.view.GameState = protocol.StateFinished
		updated = m.view.Clone()
	}
	m.mu.Unlock()

	if updated != nil {
		if err := m.store.UpdatePlayerView(updated); err != nil {
			m.logger.Warn("保存玩家视图快照失败", zap.Error(err))
		}
	}
}

// handleInfo 服务端提示，仅展示不改状态
func (m *Manager) handleInfo(data json.RawMessage) {
	var info protocol.ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		m.logger.Warn("info载荷解析失败", zap.Error(err))
		return
	}

	m.logger.Info("服务端提示",
		zap.String("message", info.Message),
		zap.String("reason", info.Reason))

	if info.Reason == protocol.ReasonDisconnectedDuringAssignment ||
		info.Reason == protocol.ReasonLeftDuringAssignment {
		m.notifier.Notify(notify.KindLeave, info.Message)
	}
}

// handleError 服务端错误
// 重入进行中收到"not found"类错误视为重入彻底失败；其余错误留给上层展示。
func (m *Manager) handleError(data json.RawMessage) {
	var message string
	if err := json.Unmarshal(data, &message); err != nil {
		m.logger.Warn("error载荷解析失败", zap.Error(err))
		return
	}

	m.mu.RLock()
	rejoining := m.rejoining
	m.mu.RUnlock()

	if rejoining && protocol.IsTerminalRejoinError(message) {
		m.logger.Warn("重入失败", zap.String("message", message))
		m.notifier.Notify(notify.KindError, "Sua sessão expirou. Retornando ao início...")
		m.clearAll()
		return
	}
}
