package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Kind 通知类型
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
	KindJoin    Kind = "join"  // 玩家进入房间
	KindLeave   Kind = "leave" // 玩家离开房间
)

// Notifier 用户通知能力
// 核心逻辑只负责调用，渲染方式由上层实现决定。
type Notifier interface {
	Notify(kind Kind, text string)
}

// Navigator 页面导航能力
type Navigator interface {
	// NavigateHome 导航回入口页
	NavigateHome()
}

// LogNotifier 把通知写入日志的默认实现
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify 输出通知日志
func (n *LogNotifier) Notify(kind Kind, text string) {
	switch kind {
	case KindError:
		n.logger.Error("用户通知",
			zap.String("kind", string(kind)),
			zap.String("text", text))
	case KindWarning:
		n.logger.Warn("用户通知",
			zap.String("kind", string(kind)),
			zap.String("text", text))
	default:
		n.logger.Info("用户通知",
			zap.String("kind", string(kind)),
			zap.String("text", text))
	}
}

// NopNavigator 空导航实现
type NopNavigator struct{}

// NavigateHome 无操作
func (NopNavigator) NavigateHome() {}

// Recorded 记录的一条通知
type Recorded struct {
	Kind Kind
	Text string
}

// Recorder 记录通知与导航调用（测试用）
type Recorder struct {
	mu            sync.Mutex
	Notifications []Recorded
	HomeCount     int
}

// Notify 记录通知
func (r *Recorder) Notify(kind Kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, Recorded{Kind: kind, Text: text})
}

// NavigateHome 记录导航
func (r *Recorder) NavigateHome() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HomeCount++
}

// Count 统计指定类型的通知数
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.Notifications {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

// Navigations 返回导航次数
func (r *Recorder) Navigations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.HomeCount
}
