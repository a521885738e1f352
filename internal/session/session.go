package session

import (
	"time"

	"github.com/wfunc/whoami-client/internal/protocol"
)

// Session 本地持久化的玩家会话
// 记录"我是谁、在哪个房间"，在页面重载后依然可恢复。
type Session struct {
	RoomID     string `json:"roomId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	// Timestamp 最后一次保存的时间（epoch毫秒）
	Timestamp int64 `json:"timestamp"`

	Room         *protocol.Room       `json:"roomSnapshot,omitempty"`
	PlayerView   *protocol.PlayerView `json:"playerViewSnapshot,omitempty"`
	GameState    protocol.GameState   `json:"gameState,omitempty"`
	IsGameActive bool                 `json:"isGameActive,omitempty"`
}

// Age 距上次保存经过的时间
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.Timestamp))
}

// Store 会话存储接口
// Restore对过期会话返回nil（视同不存在）。
type Store interface {
	// Save 保存会话并刷新时间戳
	Save(s *Session) error
	// Restore 恢复会话，不存在或过期时返回nil
	Restore() (*Session, error)
	// UpdateRoom 刷新会话中的房间快照
	UpdateRoom(room *protocol.Room) error
	// UpdatePlayerView 刷新会话中的玩家视图快照
	UpdatePlayerView(view *protocol.PlayerView) error
	// Touch 刷新独立的存活时间戳
	Touch() error
	// LastAlive 读取独立的存活时间戳
	LastAlive() (time.Time, error)
	// Clear 删除会话
	Clear() error
	// IsActive 判断是否存在未过期会话
	IsActive() bool
}
