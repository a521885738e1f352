package recovery

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/whoami-client/internal/config"
	"github.com/wfunc/whoami-client/internal/notify"
	"github.com/wfunc/whoami-client/internal/protocol"
	"github.com/wfunc/whoami-client/internal/room"
	"github.com/wfunc/whoami-client/internal/session"
	"github.com/wfunc/whoami-client/internal/transport"
	"go.uber.org/zap"
)

// testConfig 缩短全部时间参数，让测试在毫秒级完成
func testConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		BaseDelay:     10 * time.Millisecond,
		MaxDelay:      80 * time.Millisecond,
		JitterRatio:   0.2,
		MaxAttempts:   5,
		RejoinTimeout: 50 * time.Millisecond,
	}
}

type fixture struct {
	conn     *transport.MockConn
	store    *session.MemoryStore
	rooms    *room.Manager
	recorder *notify.Recorder
	ctrl     *Controller
}

func setup(t *testing.T, cfg config.RecoveryConfig) *fixture {
	logger := zap.NewNop()
	conn := transport.NewMockConn()
	store := session.NewMemoryStore(30 * time.Minute)
	recorder := &notify.Recorder{}
	rooms := room.NewManager(conn, store, recorder, recorder, logger)
	ctrl := NewController(conn, store, rooms, recorder, cfg, logger)

	t.Cleanup(ctrl.Stop)
	return &fixture{
		conn:     conn,
		store:    store,
		rooms:    rooms,
		recorder: recorder,
		ctrl:     ctrl,
	}
}

func saveSession(t *testing.T, store session.Store) {
	err := store.Save(&session.Session{
		RoomID:   "ABC123",
		PlayerID: "p1",
		Room: &protocol.Room{
			ID:        "ABC123",
			OwnerID:   "p1",
			Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
			GameState: protocol.StatePlaying,
		},
	})
	require.NoError(t, err)
}

func TestBackoff_Bounds(t *testing.T) {
	f := setup(t, config.RecoveryConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0.2,
		MaxAttempts: 5,
	})

	// 抖动后仍必须落在[base, cap]区间内
	for attempt := 0; attempt < 10; attempt++ {
		for i := 0; i < 50; i++ {
			d := f.ctrl.Backoff(attempt)
			assert.GreaterOrEqual(t, d, 2*time.Second,
				"attempt %d below base", attempt)
			assert.LessOrEqual(t, d, 30*time.Second,
				"attempt %d above cap", attempt)
		}
	}

	// 高次尝试应贴近上限（抖动±10%）
	d := f.ctrl.Backoff(9)
	assert.GreaterOrEqual(t, d, 27*time.Second)
}

func TestBackoff_GrowsWithAttempt(t *testing.T) {
	f := setup(t, config.RecoveryConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		JitterRatio: 0, // 去掉抖动看裸曲线
		MaxAttempts: 5,
	})

	assert.Equal(t, 2*time.Second, f.ctrl.Backoff(0))
	assert.Equal(t, 4*time.Second, f.ctrl.Backoff(1))
	assert.Equal(t, 8*time.Second, f.ctrl.Backoff(2))
	assert.Equal(t, 16*time.Second, f.ctrl.Backoff(3))
	assert.Equal(t, 30*time.Second, f.ctrl.Backoff(4)) // 32s被上限截断
	assert.Equal(t, 30*time.Second, f.ctrl.Backoff(8))
}

func TestController_IntentionalDisconnectNoRecovery(t *testing.T) {
	f := setup(t, testConfig())
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonClientDisconnect)

	// 主动断开不进入恢复流程
	time.Sleep(100 * time.Millisecond)
	st := f.ctrl.State()
	assert.False(t, st.IsDisconnected)
	assert.Equal(t, 0, st.AttemptCount)
	assert.Empty(t, f.conn.EmittedEvents(protocol.EventRejoinRoom))
	assert.Equal(t, 0, f.recorder.Count(notify.KindError))
}

func TestController_DisconnectSchedulesRecovery(t *testing.T) {
	f := setup(t, testConfig())
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)

	st := f.ctrl.State()
	assert.True(t, st.IsDisconnected)
	assert.Equal(t, 1, f.recorder.Count(notify.KindError))
	assert.Equal(t, "Conexão perdida. Tentando reconectar...",
		f.recorder.Notifications[0].Text)

	// 退避到期后发出rejoin
	f.conn.SetConnected(true)
	assert.Eventually(t, func() bool {
		return len(f.conn.EmittedEvents(protocol.EventRejoinRoom)) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestController_RecoverySucceedsOnRoomUpdated(t *testing.T) {
	f := setup(t, testConfig())
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)

	// 传输层恢复连接，立即触发恢复尝试
	require.NoError(t, f.conn.Connect())

	assert.Eventually(t, func() bool {
		return len(f.conn.EmittedEvents(protocol.EventRejoinRoom)) > 0
	}, time.Second, 5*time.Millisecond)

	// 服务端以room-updated确认重入
	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:        "ABC123",
		OwnerID:   "p1",
		Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
		GameState: protocol.StatePlaying,
	}))

	assert.Eventually(t, func() bool {
		st := f.ctrl.State()
		return !st.IsDisconnected && st.AttemptCount == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.recorder.Count(notify.KindSuccess))
}

func TestController_AttemptTimeoutSchedulesNext(t *testing.T) {
	f := setup(t, testConfig())
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)
	require.NoError(t, f.conn.Connect())

	// 不回room-updated，等待超时失败
	assert.Eventually(t, func() bool {
		return f.ctrl.State().AttemptCount >= 1
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, f.recorder.Count(notify.KindWarning), 1)
}

func TestController_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	f := setup(t, cfg)
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)
	f.conn.SetConnected(true)

	assert.Eventually(t, func() bool {
		return f.ctrl.State().GaveUp
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.State()
	assert.Equal(t, 2, st.AttemptCount)
	assert.True(t, st.IsDisconnected)

	last := f.recorder.Notifications[len(f.recorder.Notifications)-1]
	assert.Equal(t, notify.KindError, last.Kind)
	assert.Equal(t, "Falha persistente na reconexão. Tente recarregar a página.", last.Text)

	// 放弃后不再安排自动尝试
	before := len(f.conn.EmittedEvents(protocol.EventRejoinRoom))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, before, len(f.conn.EmittedEvents(protocol.EventRejoinRoom)))
}

func TestController_RetryNowAfterGiveUp(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	f := setup(t, cfg)
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)
	f.conn.SetConnected(true)

	assert.Eventually(t, func() bool {
		return f.ctrl.State().GaveUp
	}, 2*time.Second, 5*time.Millisecond)

	before := len(f.conn.EmittedEvents(protocol.EventRejoinRoom))
	f.ctrl.RetryNow()

	assert.Eventually(t, func() bool {
		return len(f.conn.EmittedEvents(protocol.EventRejoinRoom)) > before
	}, time.Second, 5*time.Millisecond)
	assert.False(t, f.ctrl.State().GaveUp)
}

func TestController_RedialsBeforeRejoin(t *testing.T) {
	f := setup(t, testConfig())
	saveSession(t, f.store)
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)

	// 不从外部恢复连接，控制器必须自己重新拨号后再发rejoin
	assert.Eventually(t, func() bool {
		return f.conn.Connected() &&
			len(f.conn.EmittedEvents(protocol.EventRejoinRoom)) > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.conn.FireEvent(protocol.EventRoomUpdated, &protocol.Room{
		ID:        "ABC123",
		OwnerID:   "p1",
		Players:   []protocol.Player{{ID: "p1", Name: "Ana"}},
		GameState: protocol.StatePlaying,
	}))

	assert.Eventually(t, func() bool {
		st := f.ctrl.State()
		return !st.IsDisconnected && st.AttemptCount == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.recorder.Count(notify.KindSuccess))
}

func TestController_DialFailureCountsAsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	f := setup(t, cfg)
	saveSession(t, f.store)
	f.conn.ConnectErr = errors.New("connection refused")
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)

	// 每次拨号失败都消耗一次尝试，耗尽后放弃
	assert.Eventually(t, func() bool {
		return f.ctrl.State().GaveUp
	}, 2*time.Second, 5*time.Millisecond)

	st := f.ctrl.State()
	assert.Equal(t, 2, st.AttemptCount)
	assert.False(t, f.conn.Connected())
	assert.Empty(t, f.conn.EmittedEvents(protocol.EventRejoinRoom))
}

func TestController_NoSessionAbortsAttempt(t *testing.T) {
	f := setup(t, testConfig())
	f.ctrl.Start()

	f.conn.SetConnected(true)
	f.conn.FireDisconnect(transport.ReasonTransportError)
	require.NoError(t, f.conn.Connect())

	// 无会话可恢复，直接回到Idle
	assert.Eventually(t, func() bool {
		return !f.ctrl.State().IsDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.conn.EmittedEvents(protocol.EventRejoinRoom))
}
