// Package config provides configuration types and loading for crewclaw.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/scheduler"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig      `json:"paths"`
	Gateway   GatewayConfig    `json:"gateway"`
	Scheduler scheduler.Config `json:"scheduler"`
	Notify    NotifyConfig     `json:"notify"`
	HTTP      HTTPConfig       `json:"http"`
}

// PathsConfig groups filesystem locations.
type PathsConfig struct {
	DataDir     string `json:"dataDir" envconfig:"DATA_DIR"`
	SessionsDir string `json:"sessionsDir" envconfig:"SESSIONS_DIR"`
}

// DatabasePath returns the SQLite file inside the data directory.
func (p PathsConfig) DatabasePath() string {
	return filepath.Join(p.DataDir, "crewclaw.db")
}

// GatewayConfig tunes command routing.
type GatewayConfig struct {
	Sigil          string `json:"sigil" envconfig:"SIGIL"`
	VersionRetries int    `json:"versionRetries" envconfig:"VERSION_RETRIES"`
	HistoryLimit   int    `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
}

// NotifyConfig tunes the delivery loop.
type NotifyConfig struct {
	Interval time.Duration `json:"interval" envconfig:"INTERVAL"`
	// RetentionDays 0 keeps delivered notifications forever.
	RetentionDays int `json:"retentionDays" envconfig:"RETENTION_DAYS"`
}

// HTTPConfig configures the local HTTP API.
type HTTPConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".crewclaw")
	return &Config{
		Paths: PathsConfig{
			DataDir:     base,
			SessionsDir: filepath.Join(base, "sessions"),
		},
		Gateway: GatewayConfig{
			Sigil:          "/",
			VersionRetries: 3,
			HistoryLimit:   50,
		},
		Scheduler: scheduler.DefaultConfig(),
		Notify: NotifyConfig{
			Interval:      5 * time.Second,
			RetentionDays: 0,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7420",
		},
	}
}
