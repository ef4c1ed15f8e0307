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
	t.Setenv("HOUND_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMattn, cfg.DatabaseDriver)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Zero(t, cfg.EscalationDelay)
	assert.Equal(t, "0 4 * * *", cfg.PurgeSchedule)
	assert.False(t, cfg.CalDAVEnabled())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hound.yaml")
	yml := `
database:
  driver: sqlite
  path: /tmp/from-file.db
server:
  port: "9000"
log:
  level: debug
  json: true
scheduler:
  escalation_delay: 15m
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverModernc, cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/from-file.db", cfg.DatabasePath)
	assert.Equal(t, "9100", cfg.ServerPort, "env wins over file")
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 15*time.Minute, cfg.EscalationDelay)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name, env, value string
	}{
		{"driver", "DATABASE_DRIVER", "postgres"},
		{"timezone", "TIMEZONE", "Mars/Olympus"},
		{"duration", "DISPATCH_TIMEOUT", "soon"},
		{"cron", "PURGE_SCHEDULE", "every night"},
		{"log json", "LOG_JSON", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOUND_CONFIG", "")
			t.Setenv(tt.env, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestValidateCalDAV(t *testing.T) {
	t.Setenv("HOUND_CONFIG", "")
	t.Setenv("CALDAV_URL", "https://dav.example.com")
	_, err := Load("")
	assert.ErrorContains(t, err, "CALDAV_CALENDAR")
}
