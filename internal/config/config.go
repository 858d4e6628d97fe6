package config

import (
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Config is the root configuration for a dashsync instance.
type Config struct {
	Instance      InstanceConfig       `yaml:"instance"`
	API           APIConfig            `yaml:"api"`
	Connection    ConnectionConfig     `yaml:"connection"`
	Events        EventsConfig         `yaml:"events"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Archive       ArchiveConfig        `yaml:"archive"`
	HTTP          HTTPConfig           `yaml:"http"`
	Log           LogConfig            `yaml:"log"`
}

// InstanceConfig identifies this instance in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds request/response API settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	TokenFile    string        `yaml:"token_file"` // Persisted bearer token, re-read per request
	Token        string        `yaml:"token"`      // Literal bearer token, used when the file has none
}

// ConnectionConfig holds push connection settings.
type ConnectionConfig struct {
	URL                  string        `yaml:"url"`
	Disabled             bool          `yaml:"disabled"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	LiveEventTypes       []string      `yaml:"live_event_types"`
}

// EventsConfig holds live event buffer settings.
type EventsConfig struct {
	Capacity int `yaml:"capacity"`
}

// SubscriptionConfig declares one fetch subscription.
type SubscriptionConfig struct {
	Endpoint        string            `yaml:"endpoint"`
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
	Method          string            `yaml:"method"`
	Body            map[string]any    `yaml:"body"`
	Params          map[string]string `yaml:"params"`
	Skip            bool              `yaml:"skip"`
}

// QueryParams converts Params to url.Values.
func (s SubscriptionConfig) QueryParams() url.Values {
	if len(s.Params) == 0 {
		return nil
	}
	v := make(url.Values, len(s.Params))
	for k, val := range s.Params {
		v.Set(k, val)
	}
	return v
}

// ArchiveConfig holds the optional live event archive settings.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	RecentIDs     int           `yaml:"recent_ids"` // Negative disables replay skipping
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HTTPConfig holds the health/state/metrics server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SlogLevel maps Level to a slog.Level. Unknown values map to Info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
