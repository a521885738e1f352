package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wfunc/whoami-client/internal/config"
	apperrors "github.com/wfunc/whoami-client/internal/errors"
	"github.com/wfunc/whoami-client/internal/guard"
	"github.com/wfunc/whoami-client/internal/heartbeat"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/recovery"
	"github.com/wfunc/whoami-client/internal/room"
	"github.com/wfunc/whoami-client/internal/roomsync"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

// 服务端错误报文的本地化映射，未命中的报文原样展示
var errorMessageMap = map[string]string{
	"Room not found":           "Sala não encontrada",
	"Game already started":     "O jogo já foi iniciado nesta sala",
	"Invalid room code format": "Código da sala inválido",
	"Invalid player name":      "Nome do jogador inválido",
	"Player not found in room": "Jogador não encontrado na sala",
	"Failed to join room":      "Erro ao entrar na sala",
	"Failed to create room":    "Erro ao criar sala",
}

// Client 游戏客户端门面
// 组装连接、会话存储与各控制器，并提供全部客户端到服务端的请求入口。
type Client struct {
	cfg       *config.Config
	logger    *zap.Logger
	conn      transport.Connection
	store     session.Store
	notifier  notify.Notifier
	navigator notify.Navigator

	Rooms     *room.Manager
	Recovery  *recovery.Controller
	Heartbeat *heartbeat.Monitor
	Sync      *roomsync.Poller
	Guard     *guard.Guard

	mu              sync.Mutex
	pendingJoinName string // join流程中等待身份确认的昵称
	unsubs          []func()
}

// New 创建客户端
func New(
	cfg *config.Config,
	conn transport.Connection,
	store session.Store,
	notifier notify.Notifier,
	navigator notify.Navigator,
	logger *zap.Logger,
) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		store:     store,
		notifier:  notifier,
		navigator: navigator,
	}

	c.Rooms = room.NewManager(conn, store, notifier, navigator,
		logger.With(zap.String("module", "room")))
	c.Recovery = recovery.NewController(conn, store, c.Rooms, notifier,
		cfg.Recovery, logger.With(zap.String("module", "recovery")))
	c.Heartbeat = heartbeat.NewMonitor(conn, store,
		cfg.Heartbeat, logger.With(zap.String("module", "heartbeat")))
	c.Sync = roomsync.NewPoller(conn, store, c.Rooms, notifier, navigator,
		cfg.Sync, logger.With(zap.String("module", "sync")))
	c.Guard = guard.NewGuard(store, c.Rooms, notifier, navigator,
		logger.With(zap.String("module", "guard")))

	return c
}

// Start 启动全部控制器并建立连接
func (c *Client) Start() error {
	c.Rooms.Start()
	c.Recovery.Start()
	c.Heartbeat.Start()
	c.Sync.Start()

	c.mu.Lock()
	c.unsubs = []func(){
		c.conn.On(protocol.EventRoomCreated, c.handleIdentityFromCreate),
		c.conn.On(protocol.EventPlayerJoined, c.handleIdentityFromJoin),
		c.conn.On(protocol.EventError, c.handleServerError),
	}
	c.mu.Unlock()

	return c.conn.Connect()
}

// Stop 停机：断开连接、停掉控制器、解除订阅
func (c *Client) Stop() {
	c.conn.Disconnect()

	c.Sync.Stop()
	c.Heartbeat.Stop()
	c.Recovery.Stop()
	c.Rooms.Stop()

	c.mu.Lock()
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
	c.mu.Unlock()
}

// CreateRoom 创建房间
func (c *Client) CreateRoom(playerName string, mode protocol.GameMode, category protocol.PresetCategory) error {
	if !protocol.IsValidPlayerName(playerName) {
		return apperrors.New(apperrors.ErrInvalidParam, "nome do jogador inválido")
	}
	if mode == protocol.ModePreset && !protocol.IsValidPresetCategory(category) {
		return apperrors.New(apperrors.ErrInvalidParam, "categoria inválida")
	}

	c.mu.Lock()
	c.pendingJoinName = playerName
	c.mu.Unlock()

	c.conn.Emit(protocol.EventCreateRoom, protocol.CreateRoomRequest{
		PlayerName:     playerName,
		GameMode:       mode,
		PresetCategory: category,
	})
	return nil
}

// JoinRoom 加入房间
func (c *Client) JoinRoom(roomID, playerName string) error {
	if !protocol.IsValidRoomID(roomID) {
		return apperrors.New(apperrors.ErrInvalidParam, "código da sala inválido")
	}
	if !protocol.IsValidPlayerName(playerName) {
		return apperrors.New(apperrors.ErrInvalidParam, "nome do jogador inválido")
	}

	c.mu.Lock()
	c.pendingJoinName = playerName
	c.mu.Unlock()

	c.conn.Emit(protocol.EventJoinRoom, protocol.JoinRoomRequest{
		RoomID:     roomID,
		PlayerName: playerName,
	})
	return nil
}

// RejoinRoom 手动重入房间
func (c *Client) RejoinRoom(roomID, playerID string) {
	c.Rooms.BeginRejoin()
	c.conn.Emit(protocol.EventRejoinRoom, protocol.RejoinRequest{
		RoomID:   roomID,
		PlayerID: playerID,
	})
}

// LeaveRoom 主动离开房间（显式离开即销毁本地会话）
func (c *Client) LeaveRoom() {
	r := c.Rooms.Room()
	if r == nil {
		return
	}

	c.conn.Emit(protocol.EventLeaveRoom, r.ID)

	c.Rooms.ClearLocal()
	c.store.Clear()
	c.navigator.NavigateHome()
}

// StartGame 开始对局（仅房主）
func (c *Client) StartGame() {
	if r := c.Rooms.Room(); r != nil {
		c.conn.Emit(protocol.EventStartGame, r.ID)
	}
}

// AssignCharacter 给目标玩家出题
func (c *Client) AssignCharacter(targetPlayerID, character string) error {
	if !protocol.IsValidCharacter(character) {
		return apperrors.New(apperrors.ErrInvalidParam, "personagem inválido")
	}

	r := c.Rooms.Room()
	if r == nil {
		return apperrors.New(apperrors.ErrNotFound, "sem sala ativa")
	}

	c.conn.Emit(protocol.EventAssignCharacter, protocol.AssignCharacterRequest{
		RoomID:         r.ID,
		TargetPlayerID: targetPlayerID,
		Character:      character,
	})
	return nil
}

// EndRound 结束回合（带应答）
func (c *Client) EndRound(ctx context.Context) error {
	r := c.Rooms.Room()
	if r == nil {
		return apperrors.New(apperrors.ErrNotFound, "sem sala ativa")
	}

	var ack protocol.EndRoundAck
	err := c.conn.EmitWithAck(ctx, protocol.EventEndRound,
		protocol.EndRoundRequest{RoomID: r.ID}, &ack)
	if err != nil {
		return err
	}
	if !ack.Success {
		return apperrors.New(apperrors.ErrServerRejected, ack.Error)
	}
	return nil
}

// StartNewRound 开始新回合
func (c *Client) StartNewRound() {
	if r := c.Rooms.Room(); r != nil {
		c.conn.Emit(protocol.EventStartNewRound, r.ID)
	}
}

// SyncRoom 立即发起一次房间状态同步
func (c *Client) SyncRoom() {
	c.Sync.Sync()
}

// handleIdentityFromCreate 房间创建后确立本地身份
// 服务端分配玩家ID，创建者是名单中的第一个玩家。
func (c *Client) handleIdentityFromCreate(data json.RawMessage) {
	if c.store.IsActive() {
		return
	}

	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		return
	}
	if len(incoming.Players) == 0 {
		return
	}

	me := incoming.Players[0]
	c.adoptIdentity(&incoming, me.ID, me.Name)
}

// handleIdentityFromJoin 加入房间后确立本地身份
// 刚加入的玩家是名单中最后一个匹配待确认昵称的条目。
func (c *Client) handleIdentityFromJoin(data json.RawMessage) {
	if c.store.IsActive() {
		return
	}

	c.mu.Lock()
	pending := c.pendingJoinName
	c.mu.Unlock()
	if pending == "" {
		return
	}

	var incoming protocol.Room
	if err := json.Unmarshal(data, &incoming); err != nil {
		return
	}

	for i := len(incoming.Players) - 1; i >= 0; i-- {
		if incoming.Players[i].Name == pending {
			c.adoptIdentity(&incoming, incoming.Players[i].ID, pending)
			return
		}
	}
}

// adoptIdentity 保存新会话并复位守卫与同步器
func (c *Client) adoptIdentity(incoming *protocol.Room, playerID, playerName string) {
	normalized := protocol.NormalizeRoom(incoming)

	s := &session.Session{
		RoomID:       normalized.ID,
		PlayerID:     playerID,
		PlayerName:   playerName,
		Room:         normalized,
		GameState:    normalized.GameState,
		IsGameActive: normalized.GameState.IsActive(),
	}
	if err := c.store.Save(s); err != nil {
		c.logger.Error("保存会话失败", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.pendingJoinName = ""
	c.mu.Unlock()

	c.Guard.ResetShown()
	c.Sync.Reset()

	c.logger.Info("会话已建立",
		zap.String("room_id", normalized.ID),
		zap.String("player_id", playerID),
		zap.String("player_name", playerName))
}

// handleServerError 展示未知的服务端错误
// 重入失败的报文由房间管理器处理，这里只负责界面提示。
func (c *Client) handleServerError(data json.RawMessage) {
	var message string
	if err := json.Unmarshal(data, &message); err != nil {
		return
	}

	if c.Rooms.RejoinInFlight() && protocol.IsTerminalRejoinError(message) {
		return
	}

	translated, ok := errorMessageMap[message]
	if !ok {
		translated = message
	}
	c.notifier.Notify(notify.KindError, translated)
}

// ConnectionState 连接状态快照
func (c *Client) ConnectionState() recovery.ConnectionState {
	return c.Recovery.State()
}

// HeartbeatState 心跳状态快照
func (c *Client) HeartbeatState() heartbeat.HeartbeatState {
	return c.Heartbeat.State()
}
