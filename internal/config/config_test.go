package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 20, cfg.DBMaxConnections())
	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Presence.OnlineThreshold)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.MinLead)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.ViewTick)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("PRESENCE_ONLINE_THRESHOLD_SECONDS", "45")
	t.Setenv("SCHEDULE_MIN_LEAD_SECONDS", "60")
	t.Setenv("VIEW_TICK_SECONDS", "2")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, 45*time.Second, cfg.Presence.OnlineThreshold)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.MinLead)
	assert.Equal(t, 2*time.Second, cfg.ViewTick)
	assert.Equal(t, "redis://cache:6379", cfg.Redis.URL)
}

func TestEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server_addr: \":7000\"\nupload_dir: /data/uploads\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":7777")

	cfg := Load()
	assert.Equal(t, ":7777", cfg.ServerAddr, "env важнее YAML")
	assert.Equal(t, "/data/uploads", cfg.UploadDir, "YAML важнее значений по умолчанию")
}

func TestDatabaseConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "database.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://u:p@db:5432/chitchat\ndb_max_connections: 50\n"), 0o644))
	t.Setenv("DATABASE_CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "postgres://u:p@db:5432/chitchat", cfg.DatabaseURL())
	assert.Equal(t, 50, cfg.DBMaxConnections())
}

func TestEnvIntBadValueFallsBack(t *testing.T) {
	t.Setenv("DB_MAX_CONNECTIONS", "не число")
	cfg := Load()
	assert.Equal(t, 20, cfg.DBMaxConnections())
}
