package events

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rickgao/fraudwatch-sync/internal/model"
)

func event(id int64) model.LiveEvent {
	return model.LiveEvent{ID: id, Score: 0.9}
}

func ids(events []model.LiveEvent) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestBuffer_NewestFirst(t *testing.T) {
	buf := NewBuffer(DefaultCapacity)

	buf.Push(event(1))
	buf.Push(event(2))
	buf.Push(event(3))

	if diff := cmp.Diff([]int64{3, 2, 1}, ids(buf.Snapshot())); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	buf := NewBuffer(DefaultCapacity)

	for i := int64(1); i <= 60; i++ {
		buf.Push(event(i))
		if buf.Len() > DefaultCapacity {
			t.Fatalf("Len() = %d after push %d, exceeds capacity", buf.Len(), i)
		}
	}

	snap := buf.Snapshot()
	if len(snap) != DefaultCapacity {
		t.Fatalf("len(Snapshot()) = %d, want %d", len(snap), DefaultCapacity)
	}
	if snap[0].ID != 60 {
		t.Errorf("newest = %d, want 60", snap[0].ID)
	}
	if snap[len(snap)-1].ID != 11 {
		t.Errorf("oldest = %d, want 11", snap[len(snap)-1].ID)
	}

	stats := buf.Stats()
	if stats.Pushed != 60 || stats.Evicted != 10 {
		t.Errorf("stats = %+v, want Pushed=60 Evicted=10", stats)
	}
}

func TestBuffer_RandomPushSequences(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for round := 0; round < 20; round++ {
		capacity := 1 + r.IntN(60)
		n := r.IntN(200)
		buf := NewBuffer(capacity)

		for i := 0; i < n; i++ {
			buf.Push(event(int64(i)))
			if buf.Len() > capacity {
				t.Fatalf("round %d: Len() = %d exceeds capacity %d", round, buf.Len(), capacity)
			}
		}

		snap := buf.Snapshot()
		for i := 1; i < len(snap); i++ {
			if snap[i-1].ID != snap[i].ID+1 {
				t.Fatalf("round %d: snapshot not newest-first at %d: %v", round, i, ids(snap))
			}
		}
		if n > 0 && snap[0].ID != int64(n-1) {
			t.Errorf("round %d: newest = %d, want %d", round, snap[0].ID, n-1)
		}
	}
}

func TestBuffer_IgnoresTimestamps(t *testing.T) {
	buf := NewBuffer(10)
	now := time.Now()

	buf.Push(model.LiveEvent{ID: 1, Timestamp: model.Timestamp{Time: now}})
	buf.Push(model.LiveEvent{ID: 2, Timestamp: model.Timestamp{Time: now.Add(-time.Hour)}})

	if diff := cmp.Diff([]int64{2, 1}, ids(buf.Snapshot())); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuffer_SnapshotIsCopy(t *testing.T) {
	buf := NewBuffer(5)
	buf.Push(event(1))

	snap := buf.Snapshot()
	snap[0].ID = 99

	if got := buf.Snapshot()[0].ID; got != 1 {
		t.Errorf("buffer mutated through snapshot: ID = %d, want 1", got)
	}
}

func TestNewBuffer_MinCapacity(t *testing.T) {
	for _, c := range []int{0, -5} {
		buf := NewBuffer(c)
		if buf.Cap() != 1 {
			t.Errorf("NewBuffer(%d).Cap() = %d, want 1", c, buf.Cap())
		}
		buf.Push(event(1))
		buf.Push(event(2))
		if diff := cmp.Diff([]int64{2}, ids(buf.Snapshot())); diff != "" {
			t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestBuffer_EmptySnapshot(t *testing.T) {
	buf := NewBuffer(DefaultCapacity)
	snap := buf.Snapshot()
	if snap == nil || len(snap) != 0 {
		t.Errorf("Snapshot() = %v, want empty non-nil slice", snap)
	}
}
