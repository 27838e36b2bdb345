package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_ABS_TTL_MIN", "")
	t.Setenv("SESSION_IDLE_TTL_MIN", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()
	assert.Equal(t, 120*time.Minute, cfg.SessionAbsTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 4, cfg.TxRetries)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SESSION_ABS_TTL_MIN", "90")
	t.Setenv("SESSION_IDLE_TTL_MIN", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("JWT_EXPIRES_IN", "15m")
	t.Setenv("FE_BASE_URL", "https://order.example.com/")

	cfg := Load()
	assert.Equal(t, 90*time.Minute, cfg.SessionAbsTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.JWTExpiresIn)
	assert.Equal(t, "https://order.example.com", cfg.FrontendBaseURL)
}

func TestInitDBSQLite(t *testing.T) {
	db, err := InitDB(&Config{DBDriver: "sqlite", DBDSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Exec("SELECT 1").Error)

	_, err = InitDB(&Config{DBDriver: "oracle"})
	assert.Error(t, err)
}
