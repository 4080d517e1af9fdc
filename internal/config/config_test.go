package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizsim/internal/game"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "BIZSIM_API_ADDR", "DATABASE_URL", "REDIS_URL", "BIZSIM_DB_MAX_CONNS",
		"BIZSIM_CACHE_TTL", "BIZSIM_AUTO_MIGRATE",
		"BIZSIM_DISCORD_TOKEN", "BIZSIM_DISCORD_CHANNEL_ID",
		"BIZSIM_TELEGRAM_TOKEN", "BIZSIM_TELEGRAM_CHAT_ID",
		"BIZSIM_API_BASE_URL", "BIZSIM_ADMIN_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAPIFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIZSIM_CACHE_TTL", "not-a-duration")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, int32(20), cfg.DBMaxConns)
	assert.True(t, cfg.AutoMigrate)
}

func TestLoadAPIFromEnvPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
}

func TestLoadAPIFromEnvRejectsHalfConfiguredNotifiers(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIZSIM_DISCORD_TOKEN", "token")
	_, err := LoadAPIFromEnv()
	assert.Error(t, err)
}

func TestLoadAPIFromEnvRedisNeedsDatabase(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err := LoadAPIFromEnv()
	assert.Error(t, err)
}

func TestLoadEngineParams(t *testing.T) {
	params, err := LoadEngineParams("")
	require.NoError(t, err)
	assert.Equal(t, game.DefaultParams(), params)

	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shock_probability: 0.5\nreference_wage: 15\nshift_premiums: [1, 1.4, 1.8]\n"), 0o600))

	params, err = LoadEngineParams(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, params.ShockProbability)
	assert.Equal(t, 15.0, params.ReferenceWage)
	assert.Equal(t, [3]float64{1, 1.4, 1.8}, params.ShiftPremiums)
	assert.Equal(t, game.DefaultParams().UnitsPerMachine, params.UnitsPerMachine)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("shock_probability: 2\n"), 0o600))
	_, err = LoadEngineParams(bad)
	assert.Error(t, err)
}

func TestLoadCLI(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.APIBaseURL)
	assert.Empty(t, cfg.AdminKey)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_base_url: https://sim.example.com/\nadmin_key: from-file\n"), 0o600))
	cfg, err = LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "https://sim.example.com", cfg.APIBaseURL)
	assert.Equal(t, "from-file", cfg.AdminKey)

	t.Setenv("BIZSIM_ADMIN_KEY", "from-env")
	cfg, err = LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AdminKey)
}
