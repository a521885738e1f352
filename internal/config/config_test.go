package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_Defaults(t *testing.T) {
	require.NoError(t, Init(""))

	cfg := Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "ws://localhost:3000/ws", cfg.Server.URL)
	assert.Equal(t, 20*time.Second, cfg.Server.DialTimeout)

	assert.True(t, cfg.Heartbeat.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 3, cfg.Heartbeat.MaxMissed)

	assert.Equal(t, 2*time.Second, cfg.Recovery.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Recovery.MaxDelay)
	assert.InDelta(t, 0.2, cfg.Recovery.JitterRatio, 0.001)
	assert.Equal(t, 5, cfg.Recovery.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Recovery.RejoinTimeout)

	assert.Equal(t, 2*time.Second, cfg.Sync.InitialDelay)
	assert.Equal(t, 8*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 5*time.Second, cfg.Sync.MinSpacing)
	assert.Equal(t, 3, cfg.Sync.MaxFailures)

	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestConfigAccessors(t *testing.T) {
	require.NoError(t, Init(""))

	assert.Equal(t, "30m", GetString("session.ttl"))
	assert.Equal(t, 8*time.Second, GetDuration("sync.interval"))
	assert.True(t, IsSet("recovery.max_attempts"))
	assert.False(t, IsSet("recovery.nonexistent"))
}
