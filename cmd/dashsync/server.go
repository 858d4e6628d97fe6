package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/fraudwatch-sync/internal/archive"
	"github.com/rickgao/fraudwatch-sync/internal/connection"
	"github.com/rickgao/fraudwatch-sync/internal/facade"
	"github.com/rickgao/fraudwatch-sync/internal/fetch"
	"github.com/rickgao/fraudwatch-sync/internal/model"
	"github.com/rickgao/fraudwatch-sync/internal/version"
)

// stateSource is the slice of the facade the HTTP server needs.
type stateSource interface {
	State() facade.State
	Refetch(endpoint string, params url.Values) error
}

// pinger checks a dependency. *pgxpool.Pool implements it.
type pinger interface {
	Ping(ctx context.Context) error
}

// archiveStats reports archive writer counters.
type archiveStats interface {
	Stats() archive.Stats
}

// serverDeps wires the HTTP handler.
type serverDeps struct {
	state       stateSource
	db          pinger       // nil when the archive is disabled
	archive     archiveStats // nil when the archive is disabled
	gatherer    prometheus.Gatherer
	metricsPath string
	logger      *slog.Logger
}

// stateView is the JSON form of facade.State. Errors are rendered as
// strings since error values do not marshal.
type stateView struct {
	Connection  connectionView        `json:"connection"`
	LastMessage *model.InboundMessage `json:"last_message,omitempty"`
	LiveEvents  []liveEventView       `json:"live_events"`
	Fetches     map[string]fetchView  `json:"fetches"`
	LastError   string                `json:"last_error,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

type connectionView struct {
	connection.Status
	Error string `json:"error,omitempty"`
}

type liveEventView struct {
	model.LiveEvent
	RiskLevel string `json:"risk_level"`
}

type fetchView struct {
	fetch.State
	Error string `json:"error,omitempty"`
}

func newStateView(st facade.State) stateView {
	view := stateView{
		Connection:  connectionView{Status: st.ConnectionStatus},
		LastMessage: st.LastMessage,
		LiveEvents:  make([]liveEventView, 0, len(st.LiveEvents)),
		Fetches:     make(map[string]fetchView, len(st.FetchStates)),
		UpdatedAt:   st.UpdatedAt,
	}
	if err := st.ConnectionStatus.Err; err != nil {
		view.Connection.Error = err.Error()
	}
	for _, ev := range st.LiveEvents {
		view.LiveEvents = append(view.LiveEvents, liveEventView{
			LiveEvent: ev,
			RiskLevel: model.RiskLevel(ev.Score),
		})
	}
	for endpoint, fs := range st.FetchStates {
		fv := fetchView{State: fs}
		if fs.Err != nil {
			fv.Error = fs.Err.Error()
		}
		view.Fetches[endpoint] = fv
	}
	if st.LastError != nil {
		view.LastError = st.LastError.Error()
	}
	return view
}

// newHandler creates the HTTP handler for health, state and metrics.
func newHandler(deps serverDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		// Check push connection
		status := deps.state.State().ConnectionStatus
		health.Components["connection"] = map[string]any{
			"state":   status.State.String(),
			"attempt": status.Attempt,
		}
		if status.State == connection.StateFailed {
			health.Status = "degraded"
		}

		// Check archive database
		if deps.db != nil {
			if err := deps.db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["archive"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				stats := deps.archive.Stats()
				health.Components["archive"] = map[string]any{
					"status":  "connected",
					"inserts": stats.Inserts,
					"dropped": stats.Dropped,
					"errors":  stats.Errors,
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newStateView(deps.state.State()))
	})

	// POST /refetch?endpoint=/dashboard/metrics&hours=24
	mux.HandleFunc("POST /refetch", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		endpoint := query.Get("endpoint")
		if endpoint == "" {
			http.Error(w, "endpoint is required", http.StatusBadRequest)
			return
		}
		query.Del("endpoint")

		var params url.Values
		if len(query) > 0 {
			params = query
		}

		if err := deps.state.Refetch(endpoint, params); err != nil {
			code := http.StatusServiceUnavailable
			if errors.Is(err, facade.ErrUnknownEndpoint) {
				code = http.StatusNotFound
			}
			deps.logger.Warn("refetch rejected", "endpoint", endpoint, "error", err)
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	if deps.gatherer != nil {
		mux.Handle("GET "+deps.metricsPath, promhttp.HandlerFor(deps.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}
