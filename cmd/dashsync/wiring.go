package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/fraudwatch-sync/internal/archive"
	"github.com/rickgao/fraudwatch-sync/internal/auth"
	"github.com/rickgao/fraudwatch-sync/internal/backoff"
	"github.com/rickgao/fraudwatch-sync/internal/config"
	"github.com/rickgao/fraudwatch-sync/internal/connection"
	"github.com/rickgao/fraudwatch-sync/internal/facade"
	"github.com/rickgao/fraudwatch-sync/internal/fetch"
)

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newTokenSource prefers the token file and falls back to the literal token.
// Returns nil when neither is configured.
func newTokenSource(cfg config.APIConfig) auth.TokenSource {
	var chain auth.Chain
	if cfg.TokenFile != "" {
		chain = append(chain, auth.NewFileTokenSource(cfg.TokenFile))
	}
	if cfg.Token != "" {
		chain = append(chain, auth.StaticToken(cfg.Token))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// websocketConfig maps connection settings onto the dialer.
func websocketConfig(cfg config.ConnectionConfig) connection.WebsocketConfig {
	return connection.WebsocketConfig{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadTimeout:      cfg.ReadTimeout,
	}
}

// facadeConfig maps the file configuration onto the facade.
func facadeConfig(cfg *config.Config) facade.Config {
	fc := facade.Config{
		Connection: connection.ManagerConfig{
			HeartbeatInterval: cfg.Connection.HeartbeatInterval,
			Backoff: backoff.Policy{
				Base:        cfg.Connection.ReconnectBaseDelay,
				Cap:         cfg.Connection.ReconnectMaxDelay,
				MaxAttempts: cfg.Connection.MaxReconnectAttempts,
			},
			LiveEventTypes: cfg.Connection.LiveEventTypes,
			SendBufferSize: connection.DefaultManagerConfig().SendBufferSize,
		},
		BufferCapacity: cfg.Events.Capacity,
	}
	if !cfg.Connection.Disabled {
		fc.URL = cfg.Connection.URL
	}

	for _, sc := range cfg.Subscriptions {
		opts := fetch.Options{
			RefreshInterval: sc.RefreshInterval,
			Skip:            sc.Skip,
			Method:          sc.Method,
			Params:          sc.QueryParams(),
		}
		if len(sc.Body) > 0 {
			opts.Body = sc.Body
		}
		fc.Subscriptions = append(fc.Subscriptions, facade.SubscriptionConfig{
			Endpoint: sc.Endpoint,
			Options:  opts,
		})
	}
	return fc
}

// archiveConfig maps archive settings onto the writer.
func archiveConfig(cfg config.ArchiveConfig) archive.Config {
	return archive.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
		RecentIDs:     cfg.RecentIDs,
	}
}
