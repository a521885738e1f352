package protocol

// 客户端到服务端的事件
const (
	EventCreateRoom      = "create-room"
	EventJoinRoom        = "join-room"
	EventRejoinRoom      = "rejoin-room"
	EventLeaveRoom       = "leave-room"
	EventStartGame       = "start-game"
	EventAssignCharacter = "assign-character"
	EventEndRound        = "end-round"
	EventStartNewRound   = "start-new-round"
	EventSyncRoom        = "sync-room"
	EventPing            = "ping"
)

// 服务端到客户端的事件
const (
	EventRoomCreated   = "room-created"
	EventRoomUpdated   = "room-updated"
	EventPlayerJoined  = "player-joined"
	EventPlayerLeft    = "player-left"
	EventGameStarted   = "game-started"
	EventRoundEnded    = "round-ended"
	EventInfo          = "info"
	EventError         = "error"
)

// 服务端error推送中表示重入失败的报文（原样匹配）
const (
	ErrMsgPlayerNotFound = "Player not found in room"
	ErrMsgRoomNotFound   = "Room not found"
)

// IsTerminalRejoinError 判断error推送是否意味着重入彻底失败
func IsTerminalRejoinError(message string) bool {
	return message == ErrMsgPlayerNotFound || message == ErrMsgRoomNotFound
}
