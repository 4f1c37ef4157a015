package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"P2P_PORT", "P2P_PEERS", "HELLO_TEXT", "LOG_LEVEL", "REDIS_URL", "ADMIN_PORT"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Empty(t, cfg.Peers)
	assert.Equal(t, "Hello from me", cfg.HelloText)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 1024, cfg.InboundQueueSize)
	assert.Equal(t, 0, cfg.AdminPort)
	assert.False(t, cfg.RedisEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("P2P_PORT", "4000")
	t.Setenv("P2P_PEERS", " 127.0.0.1:4001, ,127.0.0.1:4002 ")
	t.Setenv("HANDSHAKE_TIMEOUT", "250ms")
	t.Setenv("PEER_RATE_LIMIT", "2.5")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, []string{"127.0.0.1:4001", "127.0.0.1:4002"}, cfg.Peers)
	assert.Equal(t, 250*time.Millisecond, cfg.HandshakeTimeout)
	assert.Equal(t, 2.5, cfg.PeerRateLimit)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr())
}

func TestLoadConfigInvalidValues(t *testing.T) {
	t.Run("Port", func(t *testing.T) {
		t.Setenv("P2P_PORT", "abc")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "P2P_PORT")
	})
	t.Run("Duration", func(t *testing.T) {
		t.Setenv("DIAL_TIMEOUT", "soon")
		_, err := LoadConfig()
		assert.ErrorContains(t, err, "DIAL_TIMEOUT")
	})
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Port:             70000,
		Peers:            []string{"127.0.0.1", "localhost:1"},
		InboundQueueSize: 0,
		MaxFrameSize:     1024,
		PeerRateLimit:    5,
		LogLevel:         "loud",
		LogFormat:        "text",
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "P2P_PORT")
	assert.Contains(t, err.Error(), `invalid peer address "127.0.0.1"`)
	assert.NotContains(t, err.Error(), "localhost:1")
	assert.Contains(t, err.Error(), "INBOUND_QUEUE_SIZE")
	assert.Contains(t, err.Error(), "PEER_RATE_BURST")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestListenAddrIPv6(t *testing.T) {
	cfg := &Config{Host: "::1", Port: 4000}
	assert.Equal(t, "[::1]:4000", cfg.ListenAddr())

	cfg.Host = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:4000", cfg.ListenAddr())
}

func TestValidatePeerAddresses(t *testing.T) {
	base := Config{
		Port:             12345,
		InboundQueueSize: 1,
		MaxFrameSize:     1024,
		LogLevel:         "info",
		LogFormat:        "text",
	}

	for _, good := range []string{"[::1]:4001", "127.0.0.1:4001", "localhost:1"} {
		cfg := base
		cfg.Peers = []string{good}
		assert.NoError(t, cfg.Validate(), good)
	}
	for _, bad := range []string{"::1:4001", "127.0.0.1", "127.0.0.1:0", "host:port"} {
		cfg := base
		cfg.Peers = []string{bad}
		assert.Error(t, cfg.Validate(), bad)
	}
}
