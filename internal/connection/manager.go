package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/dispatch"
	"github.com/rickgao/fraudwatch-sync/internal/events"
	"github.com/rickgao/fraudwatch-sync/internal/metrics"
	"github.com/rickgao/fraudwatch-sync/internal/model"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for heartbeat and reconnect timers.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithBuffer sets the live event buffer.
func WithBuffer(buf *events.Buffer) Option {
	return func(m *Manager) {
		m.buffer = buf
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

// Manager owns one persistent connection and its recovery state machine.
type Manager struct {
	cfg     ManagerConfig
	dialer  Dialer
	queue   *dispatch.Queue
	clock   clockwork.Clock
	buffer  *events.Buffer
	metrics *metrics.Metrics
	logger  *slog.Logger
	live    map[string]struct{}

	// Fields below are only touched on the queue goroutine.
	state        State
	url          string
	session      uuid.UUID
	attempt      int
	conn         Conn
	outbound     chan []byte
	cancelDial   context.CancelFunc
	heartbeat    clockwork.Ticker
	stopBeat     chan struct{}
	reconnect    clockwork.Timer
	reconnectGen uint64

	subsMu  sync.RWMutex
	subs    []subscriber
	nextSub int

	statusMu sync.RWMutex
	status   Status
}

type subscriber struct {
	id      int
	handler Handler
}

// NewManager creates a Connection Manager in the Idle state. All state
// transitions run on queue.
func NewManager(cfg ManagerConfig, dialer Dialer, queue *dispatch.Queue, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		queue:  queue,
		live:   make(map[string]struct{}),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.buffer == nil {
		m.buffer = events.NewBuffer(events.DefaultCapacity)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.cfg.SendBufferSize < 1 {
		m.cfg.SendBufferSize = 1
	}
	for _, t := range cfg.LiveEventTypes {
		m.live[t] = struct{}{}
	}

	m.status = Status{State: StateIdle, URL: cfg.URL, Since: m.clock.Now()}
	return m
}

// Open starts a connection attempt to url, tearing down any existing
// connection first. It resets the reconnect attempt counter, so it is also
// the way out of StateFailed.
func (m *Manager) Open(url string) error {
	if url == "" {
		return ErrNoAddress
	}
	if !m.queue.Post(func() { m.open(url) }) {
		return ErrClosed
	}
	return nil
}

// Close tears down the connection and cancels every pending timer.
// Closing an idle or closed manager is a no-op.
func (m *Manager) Close() error {
	m.queue.Post(m.close)
	return nil
}

// Send transmits v if and only if the connection is open; otherwise the
// message is dropped. []byte and string values are sent verbatim, anything
// else is JSON encoded.
func (m *Manager) Send(v any) error {
	var data []byte
	switch msg := v.(type) {
	case []byte:
		data = append([]byte(nil), msg...)
	case string:
		data = []byte(msg)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		data = encoded
	}

	m.queue.Post(func() { m.send(data) })
	return nil
}

// Subscribe registers h for every notification. The returned func removes it.
func (m *Manager) Subscribe(h Handler) func() {
	m.subsMu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, handler: h})
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Status returns the latest published status.
func (m *Manager) Status() Status {
	m.statusMu.RLock()
	defer m.statusMu.RUnlock()
	return m.status
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return m.Status().State
}

// Attempts returns the number of automatic reconnects scheduled since the
// last successful open.
func (m *Manager) Attempts() int {
	return m.Status().Attempt
}

// Buffer returns the live event buffer fed by this manager.
func (m *Manager) Buffer() *events.Buffer {
	return m.buffer
}

// open handles Idle|Closed|Failed -> Connecting, and address changes.
func (m *Manager) open(url string) {
	switch m.state {
	case StateConnecting, StateOpen, StateReconnecting:
		m.logger.Info("replacing connection", "old_url", m.url, "new_url", url)
		m.teardown()
	}

	m.url = url
	m.attempt = 0
	m.connect()
}

// connect enters Connecting and dials off the queue.
func (m *Manager) connect() {
	session := uuid.New()
	m.session = session

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	m.publish(StateConnecting, nil, 0, false)

	url := m.url
	go func() {
		conn, err := m.dialer.Dial(ctx, url)
		posted := m.queue.Post(func() { m.handleDial(session, conn, err) })
		if !posted && conn != nil {
			conn.Close()
		}
	}()
}

// handleDial handles Connecting -> Open and Connecting -> Reconnecting.
func (m *Manager) handleDial(session uuid.UUID, conn Conn, err error) {
	if session != m.session || m.state != StateConnecting {
		// Superseded by close or a newer open.
		if conn != nil {
			go conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("connection attempt failed",
			"url", m.url,
			"session", session,
			"attempt", m.attempt,
			"error", err,
		)
		m.cancelDial()
		m.cancelDial = nil
		m.scheduleReconnect(err)
		return
	}

	m.conn = conn
	m.attempt = 0
	m.outbound = make(chan []byte, m.cfg.SendBufferSize)

	go m.readLoop(session, conn)
	go m.writeLoop(session, conn, m.outbound)
	m.startHeartbeat(session)

	m.logger.Info("connection open", "url", m.url, "session", session)
	m.publish(StateOpen, nil, 0, false)
}

// handleDrop handles Open -> Reconnecting on an unexpected close.
func (m *Manager) handleDrop(session uuid.UUID, err error) {
	if session != m.session || m.state != StateOpen {
		return
	}

	m.logger.Warn("connection lost", "url", m.url, "session", session, "error", err)
	m.releaseTransport()
	m.scheduleReconnect(err)
}

// scheduleReconnect arms the backoff timer, or gives up once the attempt
// limit is reached.
func (m *Manager) scheduleReconnect(cause error) {
	m.stopHeartbeat()

	if m.cfg.Backoff.Exhausted(m.attempt) {
		m.logger.Warn("reconnect attempts exhausted",
			"url", m.url,
			"attempts", m.attempt,
			"error", cause,
		)
		m.session = uuid.Nil
		m.publish(StateFailed, cause, 0, true)
		return
	}

	delay := m.cfg.Backoff.Delay(m.attempt)
	m.attempt++
	m.reconnectGen++
	gen := m.reconnectGen

	m.reconnect = m.clock.AfterFunc(delay, func() {
		m.queue.Post(func() { m.fireReconnect(gen) })
	})
	m.metrics.ReconnectAttempts.Inc()

	m.logger.Info("reconnect scheduled",
		"url", m.url,
		"attempt", m.attempt,
		"delay", delay,
	)
	m.publish(StateReconnecting, cause, delay, false)
}

// fireReconnect handles Reconnecting -> Connecting.
func (m *Manager) fireReconnect(gen uint64) {
	if gen != m.reconnectGen || m.state != StateReconnecting {
		return
	}
	m.reconnect = nil
	m.connect()
}

// close handles any state -> Closing -> Closed.
func (m *Manager) close() {
	if m.state == StateIdle || m.state == StateClosed {
		return
	}

	m.publish(StateClosing, nil, 0, false)
	m.teardown()
	m.attempt = 0
	m.publish(StateClosed, nil, 0, false)
	m.logger.Info("connection closed", "url", m.url)
}

// teardown cancels every timer and releases the transport.
func (m *Manager) teardown() {
	m.session = uuid.Nil

	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	m.reconnectGen++

	m.releaseTransport()
}

// releaseTransport stops the heartbeat and closes the current transport.
func (m *Manager) releaseTransport() {
	m.stopHeartbeat()

	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.outbound != nil {
		close(m.outbound)
		m.outbound = nil
	}
	if m.conn != nil {
		conn := m.conn
		m.conn = nil
		// Close writes a close frame and may wait on the network.
		go conn.Close()
	}
}

func (m *Manager) startHeartbeat(session uuid.UUID) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}

	ticker := m.clock.NewTicker(m.cfg.HeartbeatInterval)
	stop := make(chan struct{})
	m.heartbeat = ticker
	m.stopBeat = stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				m.queue.Post(func() { m.sendHeartbeat(session) })
			}
		}
	}()
}

func (m *Manager) stopHeartbeat() {
	if m.heartbeat == nil {
		return
	}
	m.heartbeat.Stop()
	close(m.stopBeat)
	m.heartbeat = nil
	m.stopBeat = nil
}

func (m *Manager) sendHeartbeat(session uuid.UUID) {
	if session != m.session || m.state != StateOpen {
		return
	}

	data, _ := json.Marshal(model.Heartbeat())
	if m.send(data) {
		m.metrics.HeartbeatsSent.Inc()
		m.logger.Debug("heartbeat sent", "session", session)
	}
}

// send hands data to the session writer. Returns false if dropped.
func (m *Manager) send(data []byte) bool {
	if m.state != StateOpen {
		m.metrics.SendsDropped.Inc()
		m.logger.Debug("send dropped, connection not open", "state", m.state)
		return false
	}

	select {
	case m.outbound <- data:
		return true
	default:
		m.metrics.SendsDropped.Inc()
		m.logger.Warn("outbound buffer full, dropping message", "session", m.session)
		return false
	}
}

// readLoop reads frames and posts them to the queue.
func (m *Manager) readLoop(session uuid.UUID, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		receivedAt := m.clock.Now()

		if err != nil {
			m.queue.Post(func() { m.handleDrop(session, err) })
			return
		}

		if !m.queue.Post(func() { m.handleRaw(session, data, receivedAt) }) {
			return
		}
	}
}

// writeLoop drains the session's outbound channel.
func (m *Manager) writeLoop(session uuid.UUID, conn Conn, out <-chan []byte) {
	for data := range out {
		if err := conn.WriteMessage(data); err != nil {
			m.queue.Post(func() { m.handleDrop(session, fmt.Errorf("write: %w", err)) })
			// Keep draining so the channel can be closed without blocking.
			for range out {
			}
			return
		}
	}
}

// handleRaw decodes an inbound frame, buffers live events and dispatches.
func (m *Manager) handleRaw(session uuid.UUID, data []byte, receivedAt time.Time) {
	if session != m.session || m.state != StateOpen {
		return
	}

	msg, err := model.DecodeInbound(data, receivedAt)
	if err != nil {
		m.decodeFailed(data, receivedAt, err)
		return
	}
	m.metrics.MessagesReceived.WithLabelValues(msg.Type).Inc()

	n := Notification{Kind: KindMessage, Message: &msg, Status: m.Status()}

	if _, ok := m.live[msg.Type]; ok {
		ev, err := model.DecodeLiveEvent(msg)
		if err != nil {
			m.decodeFailed(data, receivedAt, err)
		} else {
			// Buffer first so subscribers observe a consistent buffer.
			m.buffer.Push(ev)
			m.metrics.LiveEvents.Inc()
			m.metrics.BufferLength.Set(float64(m.buffer.Len()))
			n.Event = &ev
		}
	}

	m.dispatch(n)
}

func (m *Manager) decodeFailed(data []byte, receivedAt time.Time, err error) {
	m.metrics.DecodeErrors.Inc()
	m.logger.Warn("inbound message decode failed", "session", m.session, "error", err, "bytes", len(data))

	m.dispatch(Notification{
		Kind:   KindDecodeError,
		Status: m.Status(),
		Err:    &DecodeError{Raw: data, ReceivedAt: receivedAt, Err: err},
	})
}

// publish records a state transition and notifies subscribers.
func (m *Manager) publish(state State, cause error, nextRetry time.Duration, terminal bool) {
	m.state = state

	status := Status{
		State:     state,
		URL:       m.url,
		Session:   m.session,
		Attempt:   m.attempt,
		NextRetry: nextRetry,
		Terminal:  terminal,
		Err:       cause,
		Since:     m.clock.Now(),
	}

	m.statusMu.Lock()
	m.status = status
	m.statusMu.Unlock()

	m.metrics.ConnectionState.Set(float64(state))
	m.logger.Debug("connection state", "state", state, "attempt", m.attempt)

	m.dispatch(Notification{Kind: KindStatus, Status: status})
}

// dispatch delivers n to every subscriber. A panicking subscriber is logged
// and skipped.
func (m *Manager) dispatch(n Notification) {
	m.subsMu.RLock()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.RUnlock()

	for _, s := range subs {
		m.deliver(s, n)
	}
}

func (m *Manager) deliver(s subscriber, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked", "subscriber", s.id, "kind", n.Kind, "panic", fmt.Sprint(r))
		}
	}()
	s.handler(n)
}
