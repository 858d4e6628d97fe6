package facade

import (
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/rickgao/fraudwatch-sync/internal/connection"
	"github.com/rickgao/fraudwatch-sync/internal/events"
	"github.com/rickgao/fraudwatch-sync/internal/fetch"
	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// Errors
var (
	ErrUnknownEndpoint = errors.New("no subscription for endpoint")
	ErrStarted         = errors.New("facade already started")
	ErrStopped         = errors.New("facade stopped")
)

// SubscriptionConfig declares one default fetch subscription.
type SubscriptionConfig struct {
	Endpoint string
	Options  fetch.Options
}

// Config configures a Facade.
type Config struct {
	URL            string                   // Push endpoint; empty leaves the connection idle
	Connection     connection.ManagerConfig // URL field is ignored in favor of URL
	Subscriptions  []SubscriptionConfig     // Opened on Start
	BufferCapacity int                      // Live events retained
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:        "ws://localhost:8080/ws",
		Connection: connection.DefaultManagerConfig(),
		Subscriptions: []SubscriptionConfig{
			{Endpoint: "/dashboard/metrics", Options: fetch.Options{RefreshInterval: 30 * time.Second}},
		},
		BufferCapacity: events.DefaultCapacity,
	}
}

// State is the snapshot consumed by presentation.
type State struct {
	ConnectionStatus connection.Status      `json:"connection"`
	LastMessage      *model.InboundMessage  `json:"last_message,omitempty"`
	LiveEvents       []model.LiveEvent      `json:"live_events"`
	FetchStates      map[string]fetch.State `json:"fetch_states"`
	LastError        error                  `json:"-"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// clone deep-copies payloads, reasons, params and the fetch map so callers
// cannot alias facade state.
func (s State) clone() State {
	out := s
	out.LiveEvents = make([]model.LiveEvent, len(s.LiveEvents))
	for i, ev := range s.LiveEvents {
		if ev.Reasons != nil {
			ev.Reasons = append([]model.Reason(nil), ev.Reasons...)
		}
		out.LiveEvents[i] = ev
	}
	out.FetchStates = make(map[string]fetch.State, len(s.FetchStates))
	for k, v := range s.FetchStates {
		v.Payload = cloneRaw(v.Payload)
		v.Params = cloneValues(v.Params)
		out.FetchStates[k] = v
	}
	if s.LastMessage != nil {
		msg := *s.LastMessage
		msg.Payload = cloneRaw(msg.Payload)
		out.LastMessage = &msg
	}
	return out
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = cloneStrings(vs)
	}
	return out
}

// EventSink receives each live event after it has been buffered.
type EventSink interface {
	HandleLiveEvent(ev model.LiveEvent) error
}

// EventSinkFunc is a function adapter for EventSink.
type EventSinkFunc func(model.LiveEvent) error

func (f EventSinkFunc) HandleLiveEvent(ev model.LiveEvent) error {
	return f(ev)
}
