package fetch

import (
	"context"
	"encoding/json"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/api"
)

// Subscription binds one endpoint to a periodically or on-demand refreshed
// State.
type Subscription struct {
	id       uuid.UUID
	endpoint string
	m        *Manager

	ctx    context.Context // cancelled on Close
	cancel context.CancelFunc

	// Fields below are only touched on the queue goroutine, except closed
	// which is also set before the subscription is published.
	opts       Options
	params     url.Values
	generation uint64
	timer      clockwork.Timer
	timerGen   uint64
	closed     bool

	stateMu sync.RWMutex
	state   State
}

// ID returns the subscription handle.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// Endpoint returns the request path.
func (s *Subscription) Endpoint() string {
	return s.endpoint
}

// State returns the current fetch state.
func (s *Subscription) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Refetch starts a fetch with params. nil params reuse the last-used ones.
// It supersedes any fetch in flight. No-op while skipped.
func (s *Subscription) Refetch(params url.Values) {
	params = cloneParams(params)
	s.m.queue.Post(func() {
		if params != nil {
			s.params = params
		}
		s.fetch()
	})
}

// SetDependencies re-fetches when deps differ from the current set.
func (s *Subscription) SetDependencies(deps ...any) {
	s.m.queue.Post(func() {
		if reflect.DeepEqual(deps, s.opts.Dependencies) {
			return
		}
		s.opts.Dependencies = deps
		s.fetch()
	})
}

// SetSkip suspends or resumes fetching. Resuming fetches immediately and
// re-arms the refresh timer.
func (s *Subscription) SetSkip(skip bool) {
	s.m.queue.Post(func() {
		if s.closed || s.opts.Skip == skip {
			return
		}
		s.opts.Skip = skip
		if skip {
			s.stopTimer()
			return
		}
		s.fetch()
		s.armTimer()
	})
}

// SetRefreshInterval changes the refresh cadence. 0 disables it.
func (s *Subscription) SetRefreshInterval(d time.Duration) {
	s.m.queue.Post(func() {
		if s.closed || s.opts.RefreshInterval == d {
			return
		}
		s.opts.RefreshInterval = d
		s.armTimer()
	})
}

// Close cancels the refresh timer and any request in flight. Results that
// arrive later are ignored.
func (s *Subscription) Close() {
	s.m.remove(s)
	s.cancel()
	s.m.queue.Post(s.close)
}

func (s *Subscription) activate() {
	if s.closed {
		return
	}
	s.fetch()
	s.armTimer()
}

func (s *Subscription) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.generation++
	s.stopTimer()

	s.m.logger.Info("fetch subscription closed", "endpoint", s.endpoint, "subscription", s.id)
}

// fetch marks the state loading and issues the request.
func (s *Subscription) fetch() {
	if s.closed || s.opts.Skip {
		return
	}

	s.generation++
	gen := s.generation

	prev := s.State()
	s.publish(State{
		Payload:    prev.Payload,
		Loading:    true,
		Params:     s.params,
		UpdatedAt:  prev.UpdatedAt,
		Generation: gen,
	})

	req := api.Request{
		Method: s.opts.Method,
		Path:   s.endpoint,
		Params: s.params,
		Body:   s.opts.Body,
	}
	start := s.m.clock.Now()

	go func() {
		ctx := s.ctx
		if s.m.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.m.requestTimeout)
			defer cancel()
		}

		payload, err := s.m.fetcher.Do(ctx, req)
		s.m.queue.Post(func() { s.complete(gen, req.Params, payload, err, start) })
	}()
}

// complete applies a result if it belongs to the latest fetch.
func (s *Subscription) complete(gen uint64, params url.Values, payload json.RawMessage, err error, start time.Time) {
	if s.closed || gen != s.generation {
		s.m.metrics.StaleResults.WithLabelValues(s.endpoint).Inc()
		s.m.logger.Debug("discarding superseded fetch result",
			"endpoint", s.endpoint,
			"generation", gen,
			"latest", s.generation,
		)
		return
	}

	s.m.metrics.FetchDuration.WithLabelValues(s.endpoint).Observe(s.m.clock.Since(start).Seconds())

	prev := s.State()
	next := State{
		Loading:    false,
		Params:     params,
		Generation: gen,
	}

	if err != nil {
		next.Payload = prev.Payload
		next.UpdatedAt = prev.UpdatedAt
		next.Err = err
		s.m.metrics.Fetches.WithLabelValues(s.endpoint, "error").Inc()
		s.m.logger.Warn("fetch failed",
			"endpoint", s.endpoint,
			"generation", gen,
			"error", err,
		)
	} else {
		next.Payload = payload
		next.UpdatedAt = s.m.clock.Now()
		s.m.metrics.Fetches.WithLabelValues(s.endpoint, "success").Inc()
	}

	s.publish(next)
}

func (s *Subscription) publish(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()

	s.m.notify(s, st)
}

// armTimer (re)starts the refresh timer if the subscription wants one.
func (s *Subscription) armTimer() {
	s.stopTimer()
	if s.closed || s.opts.Skip || s.opts.RefreshInterval <= 0 {
		return
	}

	gen := s.timerGen
	s.timer = s.m.clock.AfterFunc(s.opts.RefreshInterval, func() {
		s.m.queue.Post(func() { s.tick(gen) })
	})
}

func (s *Subscription) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Subscription) tick(gen uint64) {
	if s.closed || gen != s.timerGen {
		return
	}
	s.timer = nil
	s.fetch()
	s.armTimer()
}
