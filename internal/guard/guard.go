package guard

import (
	"fmt"
	"sync"

	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/room"
	"github.com/wfunc/whoami-client/internal/session"
	"go.uber.org/zap"
)

// Decision 访问判定结果
type Decision struct {
	Allowed  bool
	Loading  bool   // 房间尚未加载，允许渲染等待态
	Redirect bool   // 需要导航回入口
	Reason   string // 拒绝原因（用于日志与去重）
}

// 拒绝原因
const (
	ReasonNoIdentity   = "no-identity"
	ReasonRoomMismatch = "room-mismatch"
	ReasonNotInRoster  = "not-in-roster"
)

// Guard 房间访问守卫
// 由身份、房间模型与要求的游戏状态推导"当前界面是否允许渲染"。
// 每种违规只通知一次，重复求值不会刷屏。
type Guard struct {
	store     session.Store
	rooms     *room.Manager
	notifier  notify.Notifier
	navigator notify.Navigator
	logger    *zap.Logger

	mu    sync.Mutex
	shown map[string]bool // 已通知过的违规
}

// NewGuard 创建访问守卫
func NewGuard(
	store session.Store,
	rooms *room.Manager,
	notifier notify.Notifier,
	navigator notify.Navigator,
	logger *zap.Logger,
) *Guard {
	return &Guard{
		store:     store,
		rooms:     rooms,
		notifier:  notifier,
		navigator: navigator,
		logger:    logger,
		shown:     make(map[string]bool),
	}
}

// Check 判定当前界面是否允许渲染
// routeRoomID为界面路由中的房间号；requiredStates非空时表示界面
// 只服务这些游戏状态，状态不符按软放行处理（由调用方自行导航）。
func (g *Guard) Check(routeRoomID string, requiredStates ...protocol.GameState) Decision {
	s, err := g.store.Restore()
	if err != nil || s == nil || s.PlayerID == "" {
		g.deny(ReasonNoIdentity, "Sessão expirada. Redirecionando para início...")
		return Decision{Redirect: true, Reason: ReasonNoIdentity}
	}

	r := g.rooms.Room()
	if r == nil {
		// 房间还在加载中，放行等待态
		g.logger.Debug("等待房间加载")
		return Decision{Allowed: true, Loading: true}
	}

	if r.ID != routeRoomID {
		g.deny(
			fmt.Sprintf("%s:%s", ReasonRoomMismatch, routeRoomID),
			"Sala não encontrada. Redirecionando...",
		)
		g.logger.Warn("房间号不匹配",
			zap.String("route", routeRoomID),
			zap.String("room", r.ID))
		return Decision{Redirect: true, Reason: ReasonRoomMismatch}
	}

	if !r.HasPlayer(s.PlayerID) {
		g.deny(ReasonNotInRoster, "Você não está nesta sala. Redirecionando...")
		g.logger.Warn("玩家不在房间名单中",
			zap.String("player_id", s.PlayerID),
			zap.String("room_id", r.ID))
		return Decision{Redirect: true, Reason: ReasonNotInRoster}
	}

	if len(requiredStates) > 0 && !stateIn(r.GameState, requiredStates) {
		// 状态不符不是拒绝：调用方应按状态把用户导航到别处
		g.logger.Debug("游戏状态不在要求范围",
			zap.String("state", string(r.GameState)))
		return Decision{Allowed: true, Reason: string(r.GameState)}
	}

	return Decision{Allowed: true}
}

// ResetShown 清空违规通知去重记录（进入新房间时调用）
func (g *Guard) ResetShown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shown = make(map[string]bool)
}

// deny 拒绝访问：同一违规只通知并导航一次
func (g *Guard) deny(key, text string) {
	g.mu.Lock()
	already := g.shown[key]
	g.shown[key] = true
	g.mu.Unlock()

	if already {
		return
	}

	g.notifier.Notify(notify.KindError, text)
	g.navigator.NavigateHome()
}

// stateIn 判断状态是否在集合内
func stateIn(state protocol.GameState, states []protocol.GameState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
