package protocol

// NormalizeRoom 归一化服务端下发的房间载荷
// 轮次字段兜底链：currentRound → roundNumber（旧字段）→ 1；
// 每个玩家的isOwner一律按ownerId重新推导，不信任线上值。
func NormalizeRoom(incoming *Room) *Room {
	if incoming == nil {
		return nil
	}

	room := incoming.Clone()

	if room.CurrentRound <= 0 {
		if room.RoundNumber > 0 {
			room.CurrentRound = room.RoundNumber
		} else {
			room.CurrentRound = 1
		}
	}
	room.RoundNumber = 0

	if room.GameState == "" {
		room.GameState = StateWaiting
	}

	for i := range room.Players {
		room.Players[i].IsOwner = room.Players[i].ID == room.OwnerID
	}

	return room
}
