package session

import (
	"encoding/json"
	"strconv"
	"time"

	apperrors "github.com/wfunc/whoami-client/internal/errors"
	"github.com/wfunc/whoami-client/internal/models"
	"github.com/wfunc/whoami-client/internal/protocol"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DatabaseStore 数据库会话存储
// 单行键值记录：一条完整会话blob，一条独立的存活时间戳。
type DatabaseStore struct {
	db     *gorm.DB
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewDatabaseStore 创建数据库存储
func NewDatabaseStore(db *gorm.DB, ttl time.Duration, logger *zap.Logger) *DatabaseStore {
	return &DatabaseStore{
		db:     db,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock 替换时间源（测试用）
func (d *DatabaseStore) SetClock(now func() time.Time) {
	d.now = now
}

// Save 保存会话并刷新时间戳
func (d *DatabaseStore) Save(s *Session) error {
	dup := *s
	dup.Timestamp = d.now().UnixMilli()

	data, err := json.Marshal(&dup)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrSessionStore)
	}

	if err := d.upsert(models.KeySession, string(data)); err != nil {
		return err
	}

	d.logger.Debug("会话已保存",
		zap.String("room_id", dup.RoomID),
		zap.String("player_id", dup.PlayerID))
	return nil
}

// Restore 恢复会话，不存在或过期时返回nil
func (d *DatabaseStore) Restore() (*Session, error) {
	var record models.SessionRecord
	result := d.db.Where("key = ?", models.KeySession).First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, apperrors.Wrap(result.Error, apperrors.ErrSessionStore)
	}

	var s Session
	if err := json.Unmarshal([]byte(record.Data), &s); err != nil {
		d.logger.Warn("会话数据损坏，已清除", zap.Error(err))
		d.Clear()
		return nil, nil
	}

	// 过期会话视同不存在并顺手删除
	if s.Age(d.now()) > d.ttl {
		d.logger.Warn("会话已过期",
			zap.String("room_id", s.RoomID),
			zap.Duration("age", s.Age(d.now())),
			zap.Duration("ttl", d.ttl))
		d.Clear()
		return nil, nil
	}

	return &s, nil
}

// UpdateRoom 刷新会话中的房间快照
func (d *DatabaseStore) UpdateRoom(room *protocol.Room) error {
	s, err := d.Restore()
	if err != nil || s == nil {
		return err
	}

	s.Room = room.Clone()
	if room != nil {
		s.RoomID = room.ID
		s.GameState = room.GameState
		s.IsGameActive = room.GameState.IsActive()
	}
	return d.Save(s)
}

// UpdatePlayerView 刷新会话中的玩家视图快照
func (d *DatabaseStore) UpdatePlayerView(view *protocol.PlayerView) error {
	s, err := d.Restore()
	if err != nil || s == nil {
		return err
	}

	s.PlayerView = view.Clone()
	return d.Save(s)
}

// Touch 刷新独立的存活时间戳
func (d *DatabaseStore) Touch() error {
	ms := strconv.FormatInt(d.now().UnixMilli(), 10)
	return d.upsert(models.KeyLiveness, ms)
}

// LastAlive 读取独立的存活时间戳
func (d *DatabaseStore) LastAlive() (time.Time, error) {
	var record models.SessionRecord
	result := d.db.Where("key = ?", models.KeyLiveness).First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, apperrors.Wrap(result.Error, apperrors.ErrSessionStore)
	}

	ms, err := strconv.ParseInt(record.Data, 10, 64)
	if err != nil {
		return time.Time{}, apperrors.Wrap(err, apperrors.ErrSessionStore)
	}
	return time.UnixMilli(ms), nil
}

// Clear 删除会话（存活时间戳保留）
func (d *DatabaseStore) Clear() error {
	result := d.db.Where("key = ?", models.KeySession).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrSessionStore)
	}

	d.logger.Debug("会话已清除")
	return nil
}

// IsActive 判断是否存在未过期会话
func (d *DatabaseStore) IsActive() bool {
	s, err := d.Restore()
	return err == nil && s != nil
}

// Prune 删除过期或损坏的会话记录（存活时间戳保留）
func (d *DatabaseStore) Prune() error {
	var record models.SessionRecord
	result := d.db.Where("key = ?", models.KeySession).First(&record)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil
		}
		return apperrors.Wrap(result.Error, apperrors.ErrSessionStore)
	}

	var s Session
	if err := json.Unmarshal([]byte(record.Data), &s); err != nil {
		d.logger.Warn("清理损坏的会话记录", zap.Error(err))
		return d.Clear()
	}

	if s.Age(d.now()) > d.ttl {
		d.logger.Info("清理过期会话",
			zap.String("room_id", s.RoomID),
			zap.Duration("age", s.Age(d.now())))
		return d.Clear()
	}
	return nil
}

// upsert 存在则更新，不存在则插入
func (d *DatabaseStore) upsert(key, data string) error {
	record := models.SessionRecord{
		Key:       key,
		Data:      data,
		UpdatedAt: d.now(),
	}

	result := d.db.Where("key = ?", key).
		Assign(models.SessionRecord{
			Data:      record.Data,
			UpdatedAt: record.UpdatedAt,
		}).
		FirstOrCreate(&record)

	if result.Error != nil {
		return apperrors.Wrap(result.Error, apperrors.ErrSessionStore)
	}
	return nil
}
