package models

import (
	"time"
)

// 存储键定义：完整会话blob与独立的存活时间戳各占一条记录
const (
	KeySession  = "session"
	KeyLiveness = "liveness"
)

// SessionRecord 会话持久化模型（键值存储）
type SessionRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;size:32;not null" json:"key"`
	Data      string    `gorm:"type:text" json:"data"` // JSON格式的会话数据
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (SessionRecord) TableName() string {
	return "session_records"
}
