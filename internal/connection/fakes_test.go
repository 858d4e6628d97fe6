package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/fraudwatch-sync/internal/dispatch"
	"github.com/rickgao/fraudwatch-sync/internal/events"
)

var errDialRefused = errors.New("connection refused")

// fakeClock is the subset of the clockwork fake clock used by the tests.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// fakeConn is an in-memory Conn.
type fakeConn struct {
	inbound chan []byte
	dropped chan struct{}
	closed  chan struct{}
	writes  chan []byte

	dropOnce  sync.Once
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		dropped: make(chan struct{}),
		closed:  make(chan struct{}),
		writes:  make(chan []byte, 16),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.dropped:
		return nil, errors.New("connection reset by peer")
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.writes <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.dropped) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out scripted results. With no script entries left it
// refuses the connection.
type fakeDialer struct {
	mu     sync.Mutex
	script []func(ctx context.Context) (Conn, error)
	urls   []string
	dials  atomic.Int32
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)

	d.mu.Lock()
	d.urls = append(d.urls, url)
	var next func(context.Context) (Conn, error)
	if len(d.script) > 0 {
		next = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if next == nil {
		return nil, errDialRefused
	}
	return next(ctx)
}

func (d *fakeDialer) succeed(conn *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, func(context.Context) (Conn, error) { return conn, nil })
}

func (d *fakeDialer) fail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, func(context.Context) (Conn, error) { return nil, errDialRefused })
}

// harness wires a Manager to a fake clock and a recorder.
type harness struct {
	t       *testing.T
	m       *Manager
	queue   *dispatch.Queue
	clock   fakeClock
	dialer  *fakeDialer
	buffer  *events.Buffer
	notices chan Notification
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		queue:   dispatch.NewQueue(nil),
		clock:   clockwork.NewFakeClock(),
		dialer:  &fakeDialer{},
		buffer:  events.NewBuffer(events.DefaultCapacity),
		notices: make(chan Notification, 256),
	}

	cfg := DefaultManagerConfig()
	cfg.URL = "ws://fraudwatch.test/ws"

	h.m = NewManager(cfg, h.dialer, h.queue,
		WithClock(h.clock),
		WithBuffer(h.buffer),
	)
	h.m.Subscribe(func(n Notification) {
		select {
		case h.notices <- n:
		default:
			t.Errorf("notification recorder full, dropping %v", n.Kind)
		}
	})

	t.Cleanup(func() {
		h.m.Close()
		h.queue.Close()
	})
	return h
}

// next returns the next notification of the given kind.
func (h *harness) next(kind Kind) Notification {
	h.t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notices:
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for %v notification", kind)
			return Notification{}
		}
	}
}

// waitState skips status notifications until one with the given state.
func (h *harness) waitState(state State) Status {
	h.t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notices:
			if n.Kind == KindStatus && n.Status.State == state {
				return n.Status
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for state %v (current %v)", state, h.m.State())
			return Status{}
		}
	}
}

// flush waits for everything posted so far to run.
func (h *harness) flush() {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.queue.Flush(ctx); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

// advance waits for n pending timers and moves the clock forward.
func (h *harness) advance(n int, d time.Duration) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		h.t.Fatalf("waiting for %d timers: %v", n, err)
	}
	h.clock.Advance(d)
}

func readWrite(t *testing.T, conn *fakeConn) []byte {
	t.Helper()

	select {
	case data := <-conn.writes:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return nil
	}
}
