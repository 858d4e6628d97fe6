package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() { got = append(got, i) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if len(got) != 100 {
		t.Fatalf("ran %d functions, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestQueue_NoConcurrentExecution(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Post(func() {
					n := active.Add(1)
					if n > maxActive.Load() {
						maxActive.Store(n)
					}
					time.Sleep(10 * time.Microsecond)
					active.Add(-1)
				})
			}
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if got := maxActive.Load(); got != 1 {
		t.Errorf("maxActive = %d, want 1", got)
	}
	if stats := q.Stats(); stats.Executed < 400 {
		t.Errorf("Executed = %d, want >= 400", stats.Executed)
	}
}

func TestQueue_PostFromWithin(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	var order []string
	q.Post(func() {
		order = append(order, "outer")
		q.Post(func() { order = append(order, "inner") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Flush(ctx)
	q.Flush(ctx)

	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}

func TestQueue_PanicDoesNotStopWorker(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	ran := false
	q.Post(func() { panic("boom") })
	q.Post(func() { ran = true })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !ran {
		t.Error("function after panic did not run")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(nil)

	ran := false
	q.Post(func() { ran = true })
	q.Close()

	if !ran {
		t.Error("queued function should run before Close returns")
	}
	if q.Post(func() {}) {
		t.Error("Post should return false after Close")
	}
	if err := q.Flush(context.Background()); err != ErrClosed {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}

	// Second close is a no-op.
	q.Close()

	select {
	case <-q.Done():
	default:
		t.Error("Done should be closed")
	}
}

func TestQueue_PostNil(t *testing.T) {
	q := NewQueue(nil)
	defer q.Close()

	if q.Post(nil) {
		t.Error("Post(nil) should return false")
	}
}

func TestMailbox_GrowPreservesOrder(t *testing.T) {
	m := newMailbox[int](4)

	m.put(1)
	m.put(2)
	m.put(3)
	m.take()
	m.take()

	// Wrap around, then force growth.
	for i := 4; i <= 10; i++ {
		m.put(i)
	}

	for want := 3; want <= 10; want++ {
		got, ok := m.take()
		if !ok {
			t.Fatalf("take failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}

	stats := m.stats()
	if stats.Resizes < 1 {
		t.Errorf("Resizes = %d, want >= 1", stats.Resizes)
	}
	if stats.HighWater != 8 {
		t.Errorf("HighWater = %d, want 8", stats.HighWater)
	}
}

func TestMailbox_CloseUnblocksTake(t *testing.T) {
	m := newMailbox[int](1)

	done := make(chan bool, 1)
	go func() {
		_, ok := m.take()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	m.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("take should return false when closed and empty")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not unblock take")
	}
}
