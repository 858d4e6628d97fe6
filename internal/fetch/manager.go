package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/dispatch"
	"github.com/rickgao/fraudwatch-sync/internal/metrics"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for refresh timers.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRequestTimeout bounds each request. 0 leaves it to the Fetcher.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.requestTimeout = d
	}
}

// Manager owns fetch subscriptions.
type Manager struct {
	fetcher        Fetcher
	queue          *dispatch.Queue
	clock          clockwork.Clock
	metrics        *metrics.Metrics
	logger         *slog.Logger
	requestTimeout time.Duration

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	listenersMu  sync.RWMutex
	listeners    []listener
	nextListener int
}

type listener struct {
	id int
	fn Listener
}

// NewManager creates a Fetch Manager. All state changes run on queue.
func NewManager(fetcher Fetcher, queue *dispatch.Queue, opts ...Option) *Manager {
	m := &Manager{
		fetcher: fetcher,
		queue:   queue,
		subs:    make(map[uuid.UUID]*Subscription),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	return m
}

// Subscribe creates a subscription to endpoint. Unless opts.Skip is set,
// the first fetch starts immediately. On a closed manager the returned
// subscription is inert and its state carries ErrClosed.
func (m *Manager) Subscribe(endpoint string, opts Options) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Subscription{
		id:       uuid.New(),
		endpoint: endpoint,
		m:        m,
		opts:     opts,
		params:   cloneParams(opts.Params),
		ctx:      ctx,
		cancel:   cancel,
		state: State{
			Loading: !opts.Skip,
			Params:  cloneParams(opts.Params),
		},
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.closed = true
		s.state.Loading = false
		s.state.Err = ErrClosed
		cancel()
		return s
	}
	m.subs[s.id] = s
	m.mu.Unlock()

	if !m.queue.Post(s.activate) {
		s.Close()
	}

	m.logger.Info("fetch subscription opened",
		"endpoint", endpoint,
		"subscription", s.id,
		"refresh_interval", opts.RefreshInterval,
		"skip", opts.Skip,
	)

	return s
}

// OnChange registers fn for every subscription state change. The returned
// func removes it.
func (m *Manager) OnChange(fn Listener) func() {
	m.listenersMu.Lock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.listenersMu.Lock()
			defer m.listenersMu.Unlock()
			for i, l := range m.listeners {
				if l.id == id {
					m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscriptions returns the active subscriptions ordered by endpoint.
func (m *Manager) Subscriptions() []*Subscription {
	m.mu.RLock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].endpoint != subs[j].endpoint {
			return subs[i].endpoint < subs[j].endpoint
		}
		return subs[i].id.String() < subs[j].id.String()
	})
	return subs
}

// Close tears down every subscription. Late results are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}

	m.logger.Info("fetch manager closed", "subscriptions", len(subs))
	return nil
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	delete(m.subs, s.id)
	m.mu.Unlock()
}

func (m *Manager) notify(s *Subscription, st State) {
	m.listenersMu.RLock()
	ls := make([]listener, len(m.listeners))
	copy(ls, m.listeners)
	m.listenersMu.RUnlock()

	for _, l := range ls {
		m.deliver(l, s, st)
	}
}

func (m *Manager) deliver(l listener, s *Subscription, st State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fetch listener panicked", "endpoint", s.endpoint, "panic", fmt.Sprint(r))
		}
	}()
	l.fn(s, st)
}

func cloneParams(p url.Values) url.Values {
	if p == nil {
		return nil
	}
	out := make(url.Values, len(p))
	for k, v := range p {
		out[k] = append([]string(nil), v...)
	}
	return out
}
