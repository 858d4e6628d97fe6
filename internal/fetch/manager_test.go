package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/fraudwatch-sync/internal/api"
	"github.com/rickgao/fraudwatch-sync/internal/dispatch"
	"github.com/rickgao/fraudwatch-sync/internal/metrics"
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

type result struct {
	payload json.RawMessage
	err     error
}

// call is one request captured by fakeFetcher.
type call struct {
	ctx  context.Context
	req  api.Request
	resp chan result
}

func (c *call) reply(payload string) {
	c.resp <- result{payload: json.RawMessage(payload)}
}

func (c *call) fail(err error) {
	c.resp <- result{err: err}
}

// fakeFetcher hands every request to the test.
type fakeFetcher struct {
	calls chan *call
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan *call, 32)}
}

func (f *fakeFetcher) Do(ctx context.Context, req api.Request) (json.RawMessage, error) {
	c := &call{ctx: ctx, req: req, resp: make(chan result, 1)}
	f.calls <- c

	select {
	case r := <-c.resp:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type harness struct {
	t       *testing.T
	m       *Manager
	queue   *dispatch.Queue
	clock   fakeClock
	fetcher *fakeFetcher
	metrics *metrics.Metrics
	states  chan State
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		queue:   dispatch.NewQueue(nil),
		clock:   clockwork.NewFakeClock(),
		fetcher: newFakeFetcher(),
		metrics: metrics.New(prometheus.NewRegistry()),
		states:  make(chan State, 64),
	}
	h.m = NewManager(h.fetcher, h.queue,
		WithClock(h.clock),
		WithMetrics(h.metrics),
	)
	h.m.OnChange(func(_ *Subscription, st State) {
		h.states <- st
	})

	t.Cleanup(func() {
		h.m.Close()
		h.queue.Close()
	})
	return h
}

func (h *harness) nextCall() *call {
	h.t.Helper()

	select {
	case c := <-h.fetcher.calls:
		return c
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for request")
		return nil
	}
}

func (h *harness) noCall() {
	h.t.Helper()

	h.flush()
	select {
	case c := <-h.fetcher.calls:
		h.t.Fatalf("unexpected request %s %v", c.req.Path, c.req.Params)
	case <-time.After(20 * time.Millisecond):
	}
}

// settled waits for the next state with Loading false.
func (h *harness) settled() State {
	h.t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case st := <-h.states:
			if !st.Loading {
				return st
			}
		case <-timeout:
			h.t.Fatal("timed out waiting for settled state")
			return State{}
		}
	}
}

func (h *harness) flush() {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.queue.Flush(ctx); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) advance(n int, d time.Duration) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		h.t.Fatalf("waiting for %d timers: %v", n, err)
	}
	h.clock.Advance(d)
}

func TestSubscribe_InitialFetch(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/dashboard/metrics", Options{})
	if !sub.State().Loading {
		t.Error("expected loading state before the first result")
	}

	c := h.nextCall()
	if c.req.Path != "/dashboard/metrics" {
		t.Errorf("path = %q, want %q", c.req.Path, "/dashboard/metrics")
	}
	c.reply(`{"total_transactions":12}`)

	st := h.settled()
	if string(st.Payload) != `{"total_transactions":12}` {
		t.Errorf("payload = %s", st.Payload)
	}
	if st.Err != nil {
		t.Errorf("unexpected error %v", st.Err)
	}
	if st.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
	if got := testutil.ToFloat64(h.metrics.Fetches.WithLabelValues("/dashboard/metrics", "success")); got != 1 {
		t.Errorf("success fetches = %v, want 1", got)
	}
}

func TestSubscribe_RequestShape(t *testing.T) {
	h := newHarness(t)

	h.m.Subscribe("/alerts", Options{
		Method: "POST",
		Body:   map[string]int{"limit": 5},
		Params: url.Values{"timeRange": {"24h"}},
	})

	c := h.nextCall()
	want := api.Request{
		Method: "POST",
		Path:   "/alerts",
		Params: url.Values{"timeRange": {"24h"}},
		Body:   map[string]int{"limit": 5},
	}
	if diff := cmp.Diff(want, c.req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestFetch_LatestInitiatedWins(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/transactions", Options{})
	h.nextCall().reply(`"initial"`)
	h.settled()

	sub.Refetch(url.Values{"page": {"a"}})
	a := h.nextCall()
	sub.Refetch(url.Values{"page": {"b"}})
	b := h.nextCall()

	b.reply(`"b"`)
	st := h.settled()
	if string(st.Payload) != `"b"` {
		t.Fatalf("payload = %s, want b", st.Payload)
	}

	a.reply(`"a"`)
	h.flush()
	// Give the late request goroutine time to post its result.
	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(h.metrics.StaleResults.WithLabelValues("/transactions")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.flush()

	got := sub.State()
	if string(got.Payload) != `"b"` {
		t.Errorf("late result overwrote state: payload = %s", got.Payload)
	}
	if diff := cmp.Diff(url.Values{"page": {"b"}}, got.Params); diff != "" {
		t.Errorf("params mismatch (-want +got):\n%s", diff)
	}
	if got.Generation != st.Generation {
		t.Errorf("generation = %d, want %d", got.Generation, st.Generation)
	}
}

func TestFetch_ErrorRetainsPayload(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/dashboard/metrics", Options{})
	h.nextCall().reply(`{"ok":true}`)
	good := h.settled()

	sub.Refetch(nil)
	h.nextCall().fail(&api.APIError{StatusCode: 503, Message: "Service Unavailable"})

	st := h.settled()
	if string(st.Payload) != `{"ok":true}` {
		t.Errorf("payload = %s, want previous payload", st.Payload)
	}
	var apiErr *api.APIError
	if !errors.As(st.Err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("expected APIError 503, got %v", st.Err)
	}
	if !st.UpdatedAt.Equal(good.UpdatedAt) {
		t.Errorf("UpdatedAt changed on failure")
	}

	// The next success clears the error.
	sub.Refetch(nil)
	h.nextCall().reply(`{"ok":false}`)
	st = h.settled()
	if st.Err != nil {
		t.Errorf("expected error cleared, got %v", st.Err)
	}
}

func TestFetch_LoadingClearsError(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/x", Options{})
	h.nextCall().fail(errors.New("boom"))
	h.settled()

	sub.Refetch(nil)
	c := h.nextCall()
	st := sub.State()
	if !st.Loading || st.Err != nil {
		t.Errorf("expected loading without error, got loading=%v err=%v", st.Loading, st.Err)
	}
	c.reply(`1`)
}

func TestRefetch_ReusesParams(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/alerts", Options{Params: url.Values{"timeRange": {"24h"}}})
	h.nextCall().reply(`[]`)
	h.settled()

	sub.Refetch(url.Values{"timeRange": {"7d"}})
	if got := h.nextCall().req.Params.Get("timeRange"); got != "7d" {
		t.Errorf("timeRange = %q, want 7d", got)
	}

	sub.Refetch(nil)
	if got := h.nextCall().req.Params.Get("timeRange"); got != "7d" {
		t.Errorf("timeRange = %q, want 7d", got)
	}
}

func TestSkip(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/x", Options{Skip: true, RefreshInterval: time.Second})
	if sub.State().Loading {
		t.Error("skipped subscription should not be loading")
	}
	h.noCall()

	sub.Refetch(nil)
	h.noCall()

	sub.SetSkip(false)
	h.nextCall().reply(`1`)
	h.settled()

	// Refresh timer is armed after resuming.
	h.advance(1, time.Second)
	h.nextCall().reply(`2`)
	h.settled()

	sub.SetSkip(true)
	h.flush()
	h.clock.Advance(time.Minute)
	h.noCall()
	if string(sub.State().Payload) != `2` {
		t.Errorf("skip should keep state, payload = %s", sub.State().Payload)
	}
}

func TestRefreshInterval(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/dashboard/metrics", Options{RefreshInterval: 30 * time.Second})
	h.nextCall().reply(`1`)
	h.settled()

	for i := 0; i < 3; i++ {
		h.advance(1, 30*time.Second)
		h.nextCall().reply(`2`)
		h.settled()
	}

	sub.SetRefreshInterval(10 * time.Second)
	h.flush()
	h.advance(1, 10*time.Second)
	h.nextCall().reply(`3`)
	h.settled()

	sub.SetRefreshInterval(0)
	h.flush()
	h.clock.Advance(time.Hour)
	h.noCall()
}

func TestSetDependencies(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/transactions", Options{Dependencies: []any{"24h", 100}})
	h.nextCall().reply(`[]`)
	h.settled()

	sub.SetDependencies("24h", 100)
	h.noCall()

	sub.SetDependencies("7d", 100)
	h.nextCall().reply(`[]`)
	h.settled()
}

func TestClose_IgnoresLateResults(t *testing.T) {
	h := newHarness(t)

	sub := h.m.Subscribe("/x", Options{RefreshInterval: time.Second})
	c := h.nextCall()

	sub.Close()
	h.flush()

	select {
	case <-c.ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected request context to be cancelled")
	}

	// Drain the loading notification.
	for len(h.states) > 0 {
		<-h.states
	}

	c.reply(`"late"`)
	h.flush()
	h.clock.Advance(time.Minute)
	h.noCall()

	select {
	case st := <-h.states:
		t.Errorf("unexpected state after close: %+v", st)
	default:
	}
	if sub.State().Payload != nil {
		t.Errorf("payload = %s, want none", sub.State().Payload)
	}
	if len(h.m.Subscriptions()) != 0 {
		t.Errorf("expected no subscriptions, got %d", len(h.m.Subscriptions()))
	}
}

func TestManagerClose(t *testing.T) {
	h := newHarness(t)

	h.m.Subscribe("/a", Options{Skip: true})
	h.m.Subscribe("/b", Options{Skip: true})
	if got := len(h.m.Subscriptions()); got != 2 {
		t.Fatalf("subscriptions = %d, want 2", got)
	}

	h.m.Close()
	h.m.Close()
	if got := len(h.m.Subscriptions()); got != 0 {
		t.Errorf("subscriptions = %d, want 0", got)
	}

	sub := h.m.Subscribe("/c", Options{})
	h.noCall()
	if sub.State().Loading {
		t.Error("subscription on closed manager should not be loading")
	}
	if err := sub.State().Err; !errors.Is(err, ErrClosed) {
		t.Errorf("State().Err = %v, want ErrClosed", err)
	}
}

func TestSubscriptionsOrdered(t *testing.T) {
	h := newHarness(t)

	h.m.Subscribe("/b", Options{Skip: true})
	h.m.Subscribe("/a", Options{Skip: true})

	var endpoints []string
	for _, s := range h.m.Subscriptions() {
		endpoints = append(endpoints, s.Endpoint())
	}
	if diff := cmp.Diff([]string{"/a", "/b"}, endpoints); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	h := newHarness(t)

	h.m.OnChange(func(*Subscription, State) { panic("listener bug") })
	h.m.Subscribe("/x", Options{})
	h.nextCall().reply(`1`)

	st := h.settled()
	if string(st.Payload) != `1` {
		t.Errorf("payload = %s", st.Payload)
	}
}
