/*
Package config loads server configuration from the environment.

PURPOSE:
  One place for every tunable of the ledger server. Values come from, in
  increasing priority:
    1. Defaults below
    2. A .env file (optional, loaded with godotenv)
    3. LEDGER_* environment variables (viper AutomaticEnv)
    4. Command-line flags applied by cmd/server

KEYS (env name = LEDGER_ + upper-case key):
  port                       HTTP port (8080)
  db_driver                  sqlite3 | postgres (sqlite3)
  db_dsn                     SQLite path or PostgreSQL URL (ledger.db)
  log_level                  debug | info | warn | error (info)
  cors_origins               Comma-separated allowed origins
  require_idempotency_key    Reject payment creation without a key (true)
  timezone                   IANA zone for "this month" and date filters (UTC)
  default_program            Program of implicitly created enrollments
  default_enrollment_amount  Owed amount of implicit enrollments ("" = payment amount)
  export_limit               Max rows per export (10000)
  node_id                    Snowflake node of this instance (1)
  audit_enabled              Run the balance audit on a schedule (true)
  audit_schedule             Cron spec of the balance audit (@every 1h)
  audit_repair               Repair drifted enrollments (true)
  public_base_url            Base URL encoded in receipt QR codes
  scenarios_enabled          Expose demo scenario endpoints, which can reset
                             the database (false)

SEE ALSO:
  - logger.go: zap logger built from log_level
  - cmd/server/main.go: Flag overrides
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "LEDGER"

// Config is the resolved server configuration.
type Config struct {
	Port        int      `validate:"min=1,max=65535"`
	DBDriver    string   `validate:"oneof=sqlite3 postgres"`
	DBDSN       string   `validate:"required"`
	LogLevel    string   `validate:"oneof=debug info warn error"`
	CORSOrigins []string `validate:"dive,required"`

	RequireIdempotencyKey   bool
	Timezone                string `validate:"required"`
	DefaultProgram          string `validate:"required"`
	DefaultEnrollmentAmount string `validate:"omitempty,numeric"`
	ExportLimit             int    `validate:"min=1"`
	NodeID                  int64  `validate:"min=0,max=1023"`

	AuditEnabled  bool
	AuditSchedule string `validate:"required_if=AuditEnabled true"`
	AuditRepair   bool

	PublicBaseURL    string `validate:"required,url"`
	ScenariosEnabled bool
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db_driver", "sqlite3")
	v.SetDefault("db_dsn", "ledger.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", "http://localhost:5173,http://localhost:8080")
	v.SetDefault("require_idempotency_key", true)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("default_program", "general-review")
	v.SetDefault("default_enrollment_amount", "")
	v.SetDefault("export_limit", 10000)
	v.SetDefault("node_id", 1)
	v.SetDefault("audit_enabled", true)
	v.SetDefault("audit_schedule", "@every 1h")
	v.SetDefault("audit_repair", true)
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("scenarios_enabled", false)
}

// Load reads configuration. envFile is loaded first when it exists; a
// missing file is not an error. Variables already set in the process
// environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return Config{}, fmt.Errorf("config.godotenv(%s): %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config.os.Stat(%s): %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := Config{
		Port:                    v.GetInt("port"),
		DBDriver:                strings.ToLower(v.GetString("db_driver")),
		DBDSN:                   v.GetString("db_dsn"),
		LogLevel:                strings.ToLower(v.GetString("log_level")),
		CORSOrigins:             splitList(v.GetString("cors_origins")),
		RequireIdempotencyKey:   v.GetBool("require_idempotency_key"),
		Timezone:                v.GetString("timezone"),
		DefaultProgram:          v.GetString("default_program"),
		DefaultEnrollmentAmount: v.GetString("default_enrollment_amount"),
		ExportLimit:             v.GetInt("export_limit"),
		NodeID:                  v.GetInt64("node_id"),
		AuditEnabled:            v.GetBool("audit_enabled"),
		AuditSchedule:           v.GetString("audit_schedule"),
		AuditRepair:             v.GetBool("audit_repair"),
		PublicBaseURL:           strings.TrimRight(v.GetString("public_base_url"), "/"),
		ScenariosEnabled:        v.GetBool("scenarios_enabled"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and that Timezone names a known zone.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid configuration: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
