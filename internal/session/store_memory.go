package session

import (
	"sync"
	"time"

	"github.com/wfunc/whoami-client/internal/protocol"
)

// MemoryStore 内存会话存储（用于测试）
type MemoryStore struct {
	mu        sync.RWMutex
	session   *Session
	lastAlive time.Time
	ttl       time.Duration

	// 时间源，测试可替换
	now func() time.Time
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl: ttl,
		now: time.Now,
	}
}

// SetClock 替换时间源（测试用）
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Save 保存会话并刷新时间戳
func (m *MemoryStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dup := *s
	dup.Timestamp = m.now().UnixMilli()
	dup.Room = s.Room.Clone()
	dup.PlayerView = s.PlayerView.Clone()
	m.session = &dup
	return nil
}

// Restore 恢复会话，过期视同不存在
func (m *MemoryStore) Restore() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, nil
	}
	if m.session.Age(m.now()) > m.ttl {
		m.session = nil
		return nil, nil
	}

	dup := *m.session
	dup.Room = m.session.Room.Clone()
	dup.PlayerView = m.session.PlayerView.Clone()
	return &dup, nil
}

// UpdateRoom 刷新房间快照
func (m *MemoryStore) UpdateRoom(room *protocol.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.session.Room = room.Clone()
	if room != nil {
		m.session.RoomID = room.ID
		m.session.GameState = room.GameState
		m.session.IsGameActive = room.GameState.IsActive()
	}
	m.session.Timestamp = m.now().UnixMilli()
	return nil
}

// UpdatePlayerView 刷新玩家视图快照
func (m *MemoryStore) UpdatePlayerView(view *protocol.PlayerView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.session.PlayerView = view.Clone()
	m.session.Timestamp = m.now().UnixMilli()
	return nil
}

// Touch 刷新存活时间戳
func (m *MemoryStore) Touch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAlive = m.now()
	return nil
}

// LastAlive 读取存活时间戳
func (m *MemoryStore) LastAlive() (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAlive, nil
}

// Clear 删除会话
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// IsActive 判断是否存在未过期会话
func (m *MemoryStore) IsActive() bool {
	s, _ := m.Restore()
	return s != nil
}
