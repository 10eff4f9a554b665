// Package config holds the bridge's process configuration. Configuration is
// read once at startup: struct defaults first, then THINGS_MCP_* environment
// overrides. There is no file watcher; the environment contract is read-once.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Config is the root configuration for the bridge process.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Things ThingsConfig `koanf:"things"`
	Cache  CacheConfig  `koanf:"cache"`
	Queue  QueueConfig  `koanf:"queue"`
	Reads  ReadsConfig  `koanf:"reads"`
	Bulk   BulkConfig   `koanf:"bulk"`
	Tags   TagsConfig   `koanf:"tags"`
	Shaper ShaperConfig `koanf:"shaper"`
}

// ServerConfig controls how the MCP surface is exposed.
type ServerConfig struct {
	// Transport is "stdio" or "http".
	Transport string `koanf:"transport" validate:"oneof=stdio http"`
	Host      string `koanf:"host"      validate:"required_if=Transport http"`
	Port      int    `koanf:"port"      validate:"min=0,max=65535"`
	// ShutdownTimeout bounds graceful drain on stop.
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON   bool   `koanf:"json"`
	Source bool   `koanf:"source"`
}

// ThingsConfig describes how to reach the Things application.
type ThingsConfig struct {
	// DBPath points at Things' on-disk SQLite store. Opened read-only.
	DBPath string `koanf:"db_path"`
	// AuthToken is the Things URL-scheme auth token. Empty disables the
	// URL-scheme scheduling strategy and reminder support.
	AuthToken string `koanf:"auth_token"`
	// OsascriptBin is the automation interpreter binary.
	OsascriptBin string `koanf:"osascript_bin"`
	// OpenBin launches things:/// URLs.
	OpenBin string `koanf:"open_bin"`
}

type CacheConfig struct {
	TTL        string            `koanf:"ttl"`
	MaxEntries int64             `koanf:"max_entries" validate:"min=1"`
	PerOpTTL   map[string]string `koanf:"per_op_ttl"`
}

type QueueConfig struct {
	MaxDepth    int    `koanf:"max_depth"    validate:"min=1"`
	MaxAttempts int    `koanf:"max_attempts" validate:"min=1,max=10"`
	Timeout     string `koanf:"timeout"`
	MaxWait     string `koanf:"max_wait"`
	HistorySize int    `koanf:"history_size" validate:"min=1"`
}

type ReadsConfig struct {
	PoolSize int64 `koanf:"pool_size" validate:"min=1"`
}

type BulkConfig struct {
	MaxInFlight int64 `koanf:"max_in_flight" validate:"min=1"`
}

type TagsConfig struct {
	// Policy applied when a write references an unknown tag.
	Policy string `koanf:"policy" validate:"oneof=allow_all filter_unknown warn_unknown reject_unknown"`
}

type ShaperConfig struct {
	MaxResponseBytes int `koanf:"max_response_bytes" validate:"min=1024"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:       "stdio",
			Host:            "127.0.0.1",
			Port:            8787,
			ShutdownTimeout: "10s",
		},
		Log: LogConfig{Level: "info"},
		Things: ThingsConfig{
			DBPath:       defaultDBPath(),
			OsascriptBin: "/usr/bin/osascript",
			OpenBin:      "/usr/bin/open",
		},
		Cache: CacheConfig{
			TTL:        "30s",
			MaxEntries: 4096,
			PerOpTTL: map[string]string{
				"get_tags": "5m",
			},
		},
		Queue: QueueConfig{
			MaxDepth:    256,
			MaxAttempts: 3,
			Timeout:     "30s",
			MaxWait:     "2m",
			HistorySize: 64,
		},
		Reads:  ReadsConfig{PoolSize: 10},
		Bulk:   BulkConfig{MaxInFlight: 5},
		Tags:   TagsConfig{Policy: "warn_unknown"},
		Shaper: ShaperConfig{MaxResponseBytes: 80 * 1024},
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home,
		"Library", "Group Containers", "JLMPQHK86H.com.culturedcode.ThingsMac",
		"ThingsData-Default", "Things Database.thingsdatabase", "main.sqlite")
}

// Validate checks structural rules and that every duration field parses.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	durations := map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"cache.ttl":               c.Cache.TTL,
		"queue.timeout":           c.Queue.Timeout,
		"queue.max_wait":          c.Queue.MaxWait,
	}
	for key, raw := range durations {
		if _, err := str2duration.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", key, raw, err)
		}
	}
	for op, raw := range c.Cache.PerOpTTL {
		if _, err := str2duration.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid cache ttl for op %s: %q: %w", op, raw, err)
		}
	}
	return nil
}

// Duration helpers. Validate has already checked these parse; a zero value is
// returned on a raw string that slipped past validation.

func parseDur(raw string) time.Duration {
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

func (c *ServerConfig) ShutdownTimeoutDuration() time.Duration { return parseDur(c.ShutdownTimeout) }
func (c *CacheConfig) TTLDuration() time.Duration              { return parseDur(c.TTL) }
func (c *QueueConfig) TimeoutDuration() time.Duration          { return parseDur(c.Timeout) }
func (c *QueueConfig) MaxWaitDuration() time.Duration          { return parseDur(c.MaxWait) }

// PerOpTTLDurations resolves the per-op TTL override table.
func (c *CacheConfig) PerOpTTLDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.PerOpTTL))
	for op, raw := range c.PerOpTTL {
		out[op] = parseDur(raw)
	}
	return out
}
