package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/rickgao/fraudwatch-sync/internal/api"
)

// ErrClosed is the state error of a subscription opened on a closed manager.
var ErrClosed = errors.New("fetch manager closed")

// Fetcher performs a single request. *api.Client implements it.
type Fetcher interface {
	Do(ctx context.Context, req api.Request) (json.RawMessage, error)
}

// FetcherFunc is a function adapter for Fetcher.
type FetcherFunc func(ctx context.Context, req api.Request) (json.RawMessage, error)

func (f FetcherFunc) Do(ctx context.Context, req api.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// Options configures one subscription.
type Options struct {
	RefreshInterval time.Duration // Re-fetch cadence; 0 disables
	Dependencies    []any         // Changing these re-triggers a fetch
	Skip            bool          // Suspend fetching, keep state
	Method          string        // Defaults to GET
	Body            any           // Request body, JSON encoded
	Params          url.Values    // Initial query parameters
}

// State is the per-subscription fetch state. It is replaced wholesale on
// every transition.
type State struct {
	Payload    json.RawMessage `json:"payload"`          // Last successful payload, kept across failures
	Loading    bool            `json:"loading"`          // A fetch is in flight
	Err        error           `json:"-"`                // Last fetch error, nil on success
	Params     url.Values      `json:"params,omitempty"` // Parameters of the latest fetch
	UpdatedAt  time.Time       `json:"updated_at"`       // Time of the last successful fetch
	Generation uint64          `json:"generation"`       // Fetch that produced this state
}

// Listener observes state changes. It runs on the dispatch queue.
type Listener func(sub *Subscription, state State)
