package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/whoami-client/internal/config"
	apperrors "github.com/wfunc/whoami-client/internal/errors"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Heartbeat: config.HeartbeatConfig{
			Enabled:      false,
			Interval:     15 * time.Second,
			Timeout:      5 * time.Second,
			InitialDelay: 5 * time.Second,
			MaxMissed:    3,
			CycleDelay:   time.Second,
		},
		Recovery: config.RecoveryConfig{
			BaseDelay:     2 * time.Second,
			MaxDelay:      30 * time.Second,
			JitterRatio:   0.2,
			MaxAttempts:   5,
			RejoinTimeout: 10 * time.Second,
		},
		Sync: config.SyncConfig{
			InitialDelay: time.Hour, // 测试内不触发定时同步
			Interval:     time.Hour,
			MinSpacing:   5 * time.Second,
			AckTimeout:   5 * time.Second,
			MaxFailures:  3,
		},
		Session: config.SessionConfig{
			TTL: 30 * time.Minute,
		},
	}
}

type fixture struct {
	conn     *transport.MockConn
	store    *session.MemoryStore
	recorder *notify.Recorder
	cli      *Client
}

func setup(t *testing.T) *fixture {
	conn := transport.NewMockConn()
	store := session.NewMemoryStore(30 * time.Minute)
	recorder := &notify.Recorder{}
	cli := New(testConfig(), conn, store, recorder, recorder, zap.NewNop())

	require.NoError(t, cli.Start())
	t.Cleanup(cli.Stop)

	return &fixture{conn: conn, store: store, recorder: recorder, cli: cli}
}

func TestClient_CreateRoomValidation(t *testing.T) {
	f := setup(t)

	err := f.cli.CreateRoom("A", protocol.ModeCustom, "")
	assert.Equal(t, apperrors.ErrInvalidParam, apperrors.GetCode(err))

	err = f.cli.CreateRoom("Ana", protocol.ModePreset, "dinosaurs")
	assert.Equal(t, apperrors.ErrInvalidParam, apperrors.GetCode(err))

	require.NoError(t, f.cli.CreateRoom("Ana", protocol.ModePreset, protocol.CategoryAnimals))
	emitted := f.conn.EmittedEvents(protocol.EventCreateRoom)
	require.Len(t, emitted, 1)
	req := emitted[0].Payload.(protocol.CreateRoomRequest)
	assert.Equal(t, "Ana", req.PlayerName)
	assert.Equal(t, protocol.ModePreset, req.GameMode)
}

func TestClient_JoinRoomValidation(t *testing.T) {
	f := setup(t)

	err := f.cli.JoinRoom("abc123", "Ana")
	assert.Equal(t, apperrors.ErrInvalidParam, apperrors.GetCode(err))

	err = f.cli.JoinRoom("ABC123", "A")
	assert.Equal(t, apperrors.ErrInvalidParam, apperrors.GetCode(err))

	require.NoError(t, f.cli.JoinRoom("ABC123", "Ana"))
	assert.Len(t, f.conn.EmittedEvents(protocol.EventJoinRoom), 1)
}

func TestClient_IdentityFromRoomCreated(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.cli.CreateRoom("Ana", protocol.ModeCustom, ""))

	// 服务端分配ID，创建者是名单中的第一个玩家
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomCreated, &protocol.Room{
		ID:      "ABC123",
		OwnerID: "srv-p1",
		Players: []protocol.Player{
			{ID: "srv-p1", Name: "Ana"},
		},
		GameState: protocol.StateWaiting,
	}))

	s, err := f.store.Restore()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "srv-p1", s.PlayerID)
	assert.Equal(t, "Ana", s.PlayerName)
	assert.Equal(t, "ABC123", s.RoomID)
}

func TestClient_IdentityFromPlayerJoined(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.cli.JoinRoom("ABC123", "Bruno"))

	// 刚加入的玩家是名单中最后一个匹配待确认昵称的条目
	require.NoError(t, f.conn.FireEvent(protocol.EventPlayerJoined, &protocol.Room{
		ID:      "ABC123",
		OwnerID: "srv-p1",
		Players: []protocol.Player{
			{ID: "srv-p1", Name: "Ana"},
			{ID: "srv-p2", Name: "Bruno"},
		},
		GameState: protocol.StateWaiting,
	}))

	s, err := f.store.Restore()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "srv-p2", s.PlayerID)
	assert.Equal(t, "Bruno", s.PlayerName)
}

func TestClient_ExistingIdentityNotOverwritten(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.store.Save(&session.Session{
		RoomID:   "ABC123",
		PlayerID: "srv-p1",
	}))

	// 已有会话时他人加入不抢占身份
	require.NoError(t, f.conn.FireEvent(protocol.EventPlayerJoined, &protocol.Room{
		ID:      "ABC123",
		OwnerID: "srv-p1",
		Players: []protocol.Player{
			{ID: "srv-p1", Name: "Ana"},
			{ID: "srv-p2", Name: "Bruno"},
		},
	}))

	s, err := f.store.Restore()
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "srv-p1", s.PlayerID)
}

func TestClient_ServerErrorTranslated(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.conn.FireEvent(protocol.EventError, "Game already started"))

	require.Equal(t, 1, f.recorder.Count(notify.KindError))
	assert.Equal(t, "O jogo já foi iniciado nesta sala",
		f.recorder.Notifications[0].Text)
}

func TestClient_UnknownServerErrorShownVerbatim(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.conn.FireEvent(protocol.EventError, "Something odd happened"))

	require.Equal(t, 1, f.recorder.Count(notify.KindError))
	assert.Equal(t, "Something odd happened", f.recorder.Notifications[0].Text)
}

func TestClient_LeaveRoomClearsEverything(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.store.Save(&session.Session{RoomID: "ABC123", PlayerID: "p1"}))
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:        "ABC123",
		OwnerID:   "p1",
		Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
		GameState: protocol.StateWaiting,
	}))

	f.cli.LeaveRoom()

	assert.Len(t, f.conn.EmittedEvents(protocol.EventLeaveRoom), 1)
	assert.False(t, f.store.IsActive())
	assert.Nil(t, f.cli.Rooms.Room())
	assert.Equal(t, 1, f.recorder.Navigations())
}

func TestClient_EndRoundAck(t *testing.T) {
	f := setup(t)

	require.NoError(t, f.store.Save(&session.Session{RoomID: "ABC123", PlayerID: "p1"}))
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:        "ABC123",
		OwnerID:   "p1",
		Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
		GameState: protocol.StatePlaying,
	}))

	f.conn.Acks[protocol.EventEndRound] = func(string, interface{}) (interface{}, error) {
		return &protocol.EndRoundAck{Success: true}, nil
	}
	require.NoError(t, f.cli.EndRound(context.Background()))

	f.conn.Acks[protocol.EventEndRound] = func(string, interface{}) (interface{}, error) {
		return &protocol.EndRoundAck{Error: "round not active"}, nil
	}
	err := f.cli.EndRound(context.Background())
	assert.Equal(t, apperrors.ErrServerRejected, apperrors.GetCode(err))
}

func TestClient_AssignCharacterValidation(t *testing.T) {
	f := setup(t)

	err := f.cli.AssignCharacter("p2", "E")
	assert.Equal(t, apperrors.ErrInvalidParam, apperrors.GetCode(err))

	// 无房间时拒绝
	err = f.cli.AssignCharacter("p2", "Einstein")
	assert.Equal(t, apperrors.ErrNotFound, apperrors.GetCode(err))
}

func TestClient_SyncRoomOnDemand(t *testing.T) {
	f := setup(t)

	// 无会话无房间时不发起同步
	f.cli.SyncRoom()
	assert.Empty(t, f.conn.EmittedEvents(protocol.EventSyncRoom))

	require.NoError(t, f.store.Save(&session.Session{RoomID: "ABC123", PlayerID: "p1"}))
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:        "ABC123",
		OwnerID:   "p1",
		Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
		GameState: protocol.StatePlaying,
	}))
	f.conn.Acks[protocol.EventSyncRoom] = func(string, interface{}) (interface{}, error) {
		return &protocol.SyncAck{IsSynced: true}, nil
	}

	f.cli.SyncRoom()
	require.Len(t, f.conn.EmittedEvents(protocol.EventSyncRoom), 1)
	assert.Equal(t, 0, f.cli.Sync.Failures())
}
