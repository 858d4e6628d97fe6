package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "dashsync"
	DefaultBaseURL              = "http://localhost:8080/api/v1"
	DefaultWSURL                = "ws://localhost:8080/ws"
	DefaultAPITimeout           = 30 * time.Second
	DefaultRetryBackoff         = 1 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultEventCapacity        = 50
	DefaultMetricsEndpoint      = "/dashboard/metrics"
	DefaultRefreshInterval      = 30 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultArchiveBufferSize    = 1000
	DefaultRecentIDs            = 4096
	DefaultHTTPPort             = 8090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// DefaultLiveEventTypes are the message types copied into the live event buffer.
var DefaultLiveEventTypes = []string{"high_risk_transaction"}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// Connection defaults
	if c.Connection.URL == "" && !c.Connection.Disabled {
		c.Connection.URL = DefaultWSURL
	}
	if c.Connection.HeartbeatInterval == 0 {
		c.Connection.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.MaxReconnectAttempts == 0 {
		c.Connection.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if len(c.Connection.LiveEventTypes) == 0 {
		c.Connection.LiveEventTypes = append([]string(nil), DefaultLiveEventTypes...)
	}

	// Events defaults
	if c.Events.Capacity == 0 {
		c.Events.Capacity = DefaultEventCapacity
	}

	// A missing list gets the dashboard metrics subscription; an explicit
	// empty list stays empty.
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{
			{Endpoint: DefaultMetricsEndpoint, RefreshInterval: DefaultRefreshInterval},
		}
	}
	for i := range c.Subscriptions {
		if c.Subscriptions[i].Method == "" {
			c.Subscriptions[i].Method = "GET"
		}
	}

	// Archive defaults
	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}
	if c.Archive.RecentIDs == 0 {
		c.Archive.RecentIDs = DefaultRecentIDs
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
