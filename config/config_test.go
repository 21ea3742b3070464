package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "ledger.db", cfg.DBDSN)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
	assert.True(t, cfg.RequireIdempotencyKey)
	assert.Equal(t, "general-review", cfg.DefaultProgram)
	assert.Equal(t, 10000, cfg.ExportLimit)
	assert.True(t, cfg.AuditEnabled)
	assert.Equal(t, "@every 1h", cfg.AuditSchedule)
	assert.False(t, cfg.ScenariosEnabled, "demo endpoints that reset the database are opt-in")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGER_PORT", "9090")
	t.Setenv("LEDGER_DB_DRIVER", "POSTGRES")
	t.Setenv("LEDGER_DB_DSN", "postgres://ledger@localhost/ledger?sslmode=disable")
	t.Setenv("LEDGER_REQUIRE_IDEMPOTENCY_KEY", "false")
	t.Setenv("LEDGER_CORS_ORIGINS", "https://admin.example.com, https://ops.example.com")
	t.Setenv("LEDGER_TIMEZONE", "Asia/Manila")
	t.Setenv("LEDGER_PUBLIC_BASE_URL", "https://ledger.example.com/")
	t.Setenv("LEDGER_SCENARIOS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.False(t, cfg.RequireIdempotencyKey)
	assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, "https://ledger.example.com", cfg.PublicBaseURL)
	assert.True(t, cfg.ScenariosEnabled)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Manila", loc.String())
}

func TestLoad_DotEnvFile(t *testing.T) {
	// GIVEN: A .env file setting the port and log level
	// WHEN: LEDGER_LOG_LEVEL is also set in the process environment
	// THEN: The file fills the port, the environment wins for the level

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_PORT=7070\nLEDGER_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LEDGER_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("LEDGER_PORT") })

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"driver", "LEDGER_DB_DRIVER", "mysql"},
		{"port", "LEDGER_PORT", "70000"},
		{"log level", "LEDGER_LOG_LEVEL", "verbose"},
		{"timezone", "LEDGER_TIMEZONE", "Mars/Olympus"},
		{"node id", "LEDGER_NODE_ID", "2048"},
		{"enrollment amount", "LEDGER_DEFAULT_ENROLLMENT_AMOUNT", "lots"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
