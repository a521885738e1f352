package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/room"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

type fixture struct {
	conn     *transport.MockConn
	store    *session.MemoryStore
	rooms    *room.Manager
	recorder *notify.Recorder
	guard    *Guard
}

func setup(t *testing.T) *fixture {
	logger := zap.NewNop()
	conn := transport.NewMockConn()
	store := session.NewMemoryStore(30 * time.Minute)
	recorder := &notify.Recorder{}
	rooms := room.NewManager(conn, store, recorder, recorder, logger)
	g := NewGuard(store, rooms, recorder, recorder, logger)

	rooms.Start()
	t.Cleanup(rooms.Stop)

	return &fixture{conn: conn, store: store, rooms: rooms, recorder: recorder, guard: g}
}

func (f *fixture) loadRoom(t *testing.T, state protocol.GameState) {
	f.conn.SetConnected(true)
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:      "ABC123",
		OwnerID: "p1",
		Players: []protocol.Player{
			{ID: "p1", Name: "Ana"},
			{ID: "p2", Name: "Bruno"},
		},
		GameState:    state,
		CurrentRound: 1,
	}))
}

func (f *fixture) saveSession(t *testing.T, playerID string) {
	require.NoError(t, f.store.Save(&session.Session{
		RoomID:   "ABC123",
		PlayerID: playerID,
	}))
}

func TestGuard_NoIdentityRedirects(t *testing.T) {
	f := setup(t)

	d := f.guard.Check("ABC123")
	assert.False(t, d.Allowed)
	assert.True(t, d.Redirect)
	assert.Equal(t, ReasonNoIdentity, d.Reason)
	assert.Equal(t, 1, f.recorder.Navigations())
}

func TestGuard_RoomLoadingAllowsWaitState(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p1")

	// 有会话但房间还没到达：放行等待态，不导航
	d := f.guard.Check("ABC123")
	assert.True(t, d.Allowed)
	assert.True(t, d.Loading)
	assert.Equal(t, 0, f.recorder.Navigations())
}

func TestGuard_RoomMismatchRedirects(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p1")
	f.loadRoom(t, protocol.StateWaiting)

	d := f.guard.Check("XYZ999")
	assert.False(t, d.Allowed)
	assert.True(t, d.Redirect)
	assert.Equal(t, ReasonRoomMismatch, d.Reason)
}

func TestGuard_NotInRosterRedirects(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p9")
	f.loadRoom(t, protocol.StateWaiting)

	d := f.guard.Check("ABC123")
	assert.False(t, d.Allowed)
	assert.True(t, d.Redirect)
	assert.Equal(t, ReasonNotInRoster, d.Reason)
}

func TestGuard_AllowedInRequiredState(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p1")
	f.loadRoom(t, protocol.StatePlaying)

	d := f.guard.Check("ABC123", protocol.StateAssigning, protocol.StatePlaying, protocol.StateFinished)
	assert.True(t, d.Allowed)
	assert.False(t, d.Loading)
	assert.Empty(t, d.Reason)
}

func TestGuard_WrongStateSoftAllows(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p1")
	f.loadRoom(t, protocol.StateWaiting)

	// 状态不符是软放行：调用方按状态自行导航，不算违规
	d := f.guard.Check("ABC123", protocol.StatePlaying)
	assert.True(t, d.Allowed)
	assert.Equal(t, string(protocol.StateWaiting), d.Reason)
	assert.Equal(t, 0, f.recorder.Navigations())
}

func TestGuard_ViolationNotifiedOnce(t *testing.T) {
	f := setup(t)

	f.guard.Check("ABC123")
	f.guard.Check("ABC123")
	f.guard.Check("ABC123")

	// 同一违规重复求值只通知并导航一次
	assert.Equal(t, 1, f.recorder.Count(notify.KindError))
	assert.Equal(t, 1, f.recorder.Navigations())

	// 清空去重记录后重新通知
	f.guard.ResetShown()
	f.guard.Check("ABC123")
	assert.Equal(t, 2, f.recorder.Count(notify.KindError))
}

func TestGuard_DistinctViolationsNotifiedSeparately(t *testing.T) {
	f := setup(t)
	f.saveSession(t, "p1")
	f.loadRoom(t, protocol.StateWaiting)

	// 不同房间号的mismatch是不同的违规
	f.guard.Check("XYZ999")
	f.guard.Check("XYZ999")
	f.guard.Check("QWE111")

	assert.Equal(t, 2, f.recorder.Count(notify.KindError))
}
