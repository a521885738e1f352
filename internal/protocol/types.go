package protocol

// GameState 房间游戏状态枚举
type GameState string

const (
	StateWaiting   GameState = "waiting"   // 等待玩家
	StateAssigning GameState = "assigning" // 分配角色中
	StatePlaying   GameState = "playing"   // 游戏进行中
	StateFinished  GameState = "finished"  // 回合结束
)

// IsActive 判断是否为进行中的游戏状态（需要定时同步的状态）
func (s GameState) IsActive() bool {
	switch s {
	case StateAssigning, StatePlaying, StateFinished:
		return true
	default:
		return false
	}
}

// GameMode 游戏模式
type GameMode string

const (
	ModePreset GameMode = "preset" // 预设题库
	ModeCustom GameMode = "custom" // 自定义出题
)

// PresetCategory 预设题库分类
type PresetCategory string

const (
	CategoryAnimals     PresetCategory = "animals"
	CategoryCelebrities PresetCategory = "celebrities"
	CategoryFoods       PresetCategory = "foods"
	CategoryMovies      PresetCategory = "movies"
	CategoryCountries   PresetCategory = "countries"
)

// PresetCategories 所有可用的预设分类
var PresetCategories = []PresetCategory{
	CategoryAnimals,
	CategoryCelebrities,
	CategoryFoods,
	CategoryMovies,
	CategoryCountries,
}

// Player 房间内的玩家
type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsOwner      bool   `json:"isOwner"`
	AssignedItem string `json:"assignedItem,omitempty"`
}

// Assignment 角色分配记录
type Assignment struct {
	TargetPlayerID string `json:"targetPlayerId"`
	Item           string `json:"item"`
	AssignedBy     string `json:"assignedBy,omitempty"`
}

// Room 服务端权威的房间状态
type Room struct {
	ID             string                `json:"id"`
	OwnerID        string                `json:"ownerId"`
	Players        []Player              `json:"players"`
	GameState      GameState             `json:"gameState"`
	GameMode       GameMode              `json:"gameMode"`
	PresetCategory PresetCategory        `json:"presetCategory,omitempty"`
	Assignments    map[string]Assignment `json:"assignments,omitempty"`
	CurrentRound   int                   `json:"currentRound"`

	// 旧版服务端使用的轮次字段，仅用于归一化时兜底
	RoundNumber int `json:"roundNumber,omitempty"`
}

// HasPlayer 判断玩家是否在房间名单中
func (r *Room) HasPlayer(playerID string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// FindPlayer 按ID查找玩家
func (r *Room) FindPlayer(playerID string) (Player, bool) {
	if r == nil {
		return Player{}, false
	}
	for _, p := range r.Players {
		if p.ID == playerID {
			return p, true
		}
	}
	return Player{}, false
}

// Clone 深拷贝房间状态
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Players = make([]Player, len(r.Players))
	copy(dup.Players, r.Players)
	if r.Assignments != nil {
		dup.Assignments = make(map[string]Assignment, len(r.Assignments))
		for k, v := range r.Assignments {
			dup.Assignments[k] = v
		}
	}
	return &dup
}

// ViewPlayer 玩家视图中的玩家条目
type ViewPlayer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsOwner      bool   `json:"isOwner"`
	AssignedItem string `json:"assignedItem,omitempty"`
}

// PlayerView 单个玩家在对局中可见的房间投影
type PlayerView struct {
	RoomID       string            `json:"roomId"`
	GameState    GameState         `json:"gameState"`
	CurrentRound int               `json:"currentRound"`
	Pairings     map[string]string `json:"pairings,omitempty"`
	Players      []ViewPlayer      `json:"players"`
}

// Clone 深拷贝玩家视图
func (v *PlayerView) Clone() *PlayerView {
	if v == nil {
		return nil
	}
	dup := *v
	dup.Players = make([]ViewPlayer, len(v.Players))
	copy(dup.Players, v.Players)
	if v.Pairings != nil {
		dup.Pairings = make(map[string]string, len(v.Pairings))
		for k, p := range v.Pairings {
			dup.Pairings[k] = p
		}
	}
	return &dup
}

// ServerInfo 服务端info推送
type ServerInfo struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// info推送的reason取值
const (
	ReasonDisconnectedDuringAssignment = "player-disconnected-during-assignment"
	ReasonLeftDuringAssignment         = "player-left-during-assignment"
)

// SyncAck sync-room请求的应答
type SyncAck struct {
	IsSynced bool   `json:"isSynced"`
	Error    string `json:"error,omitempty"`
}

// EndRoundAck end-round请求的应答
type EndRoundAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CreateRoomRequest create-room请求载荷
type CreateRoomRequest struct {
	PlayerName     string         `json:"playerName"`
	GameMode       GameMode       `json:"gameMode"`
	PresetCategory PresetCategory `json:"presetCategory,omitempty"`
}

// JoinRoomRequest join-room请求载荷
type JoinRoomRequest struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

// AssignCharacterRequest assign-character请求载荷
type AssignCharacterRequest struct {
	RoomID         string `json:"roomId"`
	TargetPlayerID string `json:"targetPlayerId"`
	Character      string `json:"character"`
}

// RejoinRequest rejoin-room请求载荷
type RejoinRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

// EndRoundRequest end-round请求载荷
type EndRoundRequest struct {
	RoomID string `json:"roomId"`
}
