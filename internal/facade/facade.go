package facade

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/connection"
	"github.com/rickgao/fraudwatch-sync/internal/dispatch"
	"github.com/rickgao/fraudwatch-sync/internal/events"
	"github.com/rickgao/fraudwatch-sync/internal/fetch"
	"github.com/rickgao/fraudwatch-sync/internal/metrics"
	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// Option configures a Facade.
type Option func(*Facade)

// WithClock sets the clock shared by all timers.
func WithClock(clock clockwork.Clock) Option {
	return func(f *Facade) {
		f.clock = clock
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(met *metrics.Metrics) Option {
	return func(f *Facade) {
		f.metrics = met
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

// WithEventSink forwards every buffered live event to sink.
func WithEventSink(sink EventSink) Option {
	return func(f *Facade) {
		f.sink = sink
	}
}

// Facade is one synchronization instance.
type Facade struct {
	cfg     Config
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
	sink    EventSink

	queue   *dispatch.Queue
	buffer  *events.Buffer
	conn    *connection.Manager
	fetches *fetch.Manager

	mu      sync.RWMutex
	url     string
	subs    map[string]*fetch.Subscription
	started bool
	stopped bool

	// Owned by the queue goroutine.
	current State

	stateMu sync.RWMutex
	state   State

	listenersMu  sync.RWMutex
	listeners    []listener
	nextListener int
}

type listener struct {
	id int
	fn func(State)
}

// New creates a Facade. Nothing connects or fetches until Start.
func New(cfg Config, dialer connection.Dialer, fetcher fetch.Fetcher, opts ...Option) *Facade {
	f := &Facade{
		cfg:  cfg,
		url:  cfg.URL,
		subs: make(map[string]*fetch.Subscription),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.clock == nil {
		f.clock = clockwork.NewRealClock()
	}
	if f.metrics == nil {
		f.metrics = metrics.New(nil)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}

	f.queue = dispatch.NewQueue(f.logger.With("component", "dispatch"))
	f.buffer = events.NewBuffer(cfg.BufferCapacity)

	connCfg := cfg.Connection
	connCfg.URL = cfg.URL
	f.conn = connection.NewManager(connCfg, dialer, f.queue,
		connection.WithClock(f.clock),
		connection.WithBuffer(f.buffer),
		connection.WithMetrics(f.metrics),
		connection.WithLogger(f.logger.With("component", "connection")),
	)
	f.fetches = fetch.NewManager(fetcher, f.queue,
		fetch.WithClock(f.clock),
		fetch.WithMetrics(f.metrics),
		fetch.WithLogger(f.logger.With("component", "fetch")),
	)

	f.current = State{
		ConnectionStatus: f.conn.Status(),
		LiveEvents:       []model.LiveEvent{},
		FetchStates:      make(map[string]fetch.State),
		UpdatedAt:        f.clock.Now(),
	}
	f.state = f.current.clone()

	f.conn.Subscribe(f.onConnection)
	f.fetches.OnChange(f.onFetch)

	return f
}

// Start opens the connection, if an address is configured, and the default
// fetch subscriptions.
func (f *Facade) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if f.started {
		f.mu.Unlock()
		return ErrStarted
	}
	f.started = true
	addr := f.url

	for _, sc := range f.cfg.Subscriptions {
		if _, dup := f.subs[sc.Endpoint]; dup {
			f.logger.Warn("duplicate subscription ignored", "endpoint", sc.Endpoint)
			continue
		}
		f.subs[sc.Endpoint] = f.fetches.Subscribe(sc.Endpoint, sc.Options)
	}
	f.mu.Unlock()

	if addr != "" {
		if err := f.conn.Open(addr); err != nil {
			return fmt.Errorf("open connection: %w", err)
		}
	} else {
		f.logger.Info("no connection address configured, push channel disabled")
	}

	f.logger.Info("facade started",
		"url", addr,
		"subscriptions", len(f.cfg.Subscriptions),
	)

	return f.queue.Flush(ctx)
}

// Stop closes the connection, cancels every fetch subscription and waits for
// pending work to drain.
func (f *Facade) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	f.conn.Close()
	f.fetches.Close()

	err := f.queue.Flush(ctx)

	done := make(chan struct{})
	go func() {
		f.queue.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	f.logger.Info("facade stopped")
	return err
}

// State returns the latest published snapshot.
func (f *Facade) State() State {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.state.clone()
}

// Subscribe registers fn for every republished State. fn runs on the
// dispatch queue and must not block. The returned func removes it.
func (f *Facade) Subscribe(fn func(State)) func() {
	f.listenersMu.Lock()
	f.nextListener++
	id := f.nextListener
	f.listeners = append(f.listeners, listener{id: id, fn: fn})
	f.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.listenersMu.Lock()
			defer f.listenersMu.Unlock()
			for i, l := range f.listeners {
				if l.id == id {
					f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Refetch re-fetches endpoint with params. nil params reuse the last-used
// ones.
func (f *Facade) Refetch(endpoint string, params url.Values) error {
	f.mu.RLock()
	sub, ok := f.subs[endpoint]
	stopped := f.stopped
	f.mu.RUnlock()

	if stopped {
		return ErrStopped
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}

	sub.Refetch(params)
	return nil
}

// SendMessage sends v over the push connection if it is open. Messages are
// dropped silently otherwise.
func (f *Facade) SendMessage(v any) error {
	return f.conn.Send(v)
}

// SetURL changes the push endpoint. The old connection is closed; a
// non-empty address opens a new one once started.
func (f *Facade) SetURL(address string) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return ErrStopped
	}
	if address == f.url {
		f.mu.Unlock()
		return nil
	}
	f.url = address
	started := f.started
	f.mu.Unlock()

	f.logger.Info("connection address changed", "url", address)

	if !started {
		return nil
	}
	if address == "" {
		return f.conn.Close()
	}
	return f.conn.Open(address)
}

// Buffer exposes the live event buffer for read-only use.
func (f *Facade) Buffer() *events.Buffer {
	return f.buffer
}

// QueueStats reports dispatch queue statistics.
func (f *Facade) QueueStats() dispatch.Stats {
	return f.queue.Stats()
}

func (f *Facade) onConnection(n connection.Notification) {
	switch n.Kind {
	case connection.KindStatus:
		f.current.ConnectionStatus = n.Status
		if n.Status.Err != nil {
			f.current.LastError = n.Status.Err
		}

	case connection.KindMessage:
		f.current.LastMessage = n.Message
		if n.Event != nil && f.sink != nil {
			if err := f.sink.HandleLiveEvent(*n.Event); err != nil {
				f.logger.Warn("event sink rejected live event", "id", n.Event.ID, "error", err)
			}
		}

	case connection.KindDecodeError:
		f.current.LastError = n.Err
	}

	f.republish()
}

func (f *Facade) onFetch(sub *fetch.Subscription, st fetch.State) {
	f.current.FetchStates[sub.Endpoint()] = st
	if st.Err != nil {
		f.current.LastError = fmt.Errorf("%s: %w", sub.Endpoint(), st.Err)
	}
	f.republish()
}

// republish snapshots the composed state and notifies listeners.
func (f *Facade) republish() {
	f.current.LiveEvents = f.buffer.Snapshot()
	f.current.UpdatedAt = f.clock.Now()

	snapshot := f.current.clone()
	f.stateMu.Lock()
	f.state = snapshot
	f.stateMu.Unlock()

	f.listenersMu.RLock()
	ls := make([]listener, len(f.listeners))
	copy(ls, f.listeners)
	f.listenersMu.RUnlock()

	for _, l := range ls {
		f.deliver(l, snapshot.clone())
	}
}

func (f *Facade) deliver(l listener, st State) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("state subscriber panicked", "panic", fmt.Sprint(r))
		}
	}()
	l.fn(st)
}
