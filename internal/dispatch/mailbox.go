package dispatch

import "sync"

// mailbox is an unbounded FIFO ring that doubles when full.
type mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int // read position
	count  int
	closed bool

	posted   int64
	taken    int64
	resizes  int
	highMark int
}

func newMailbox[T any](initialCapacity int) *mailbox[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	m := &mailbox[T]{buf: make([]T, initialCapacity)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put appends an item. Returns false once the mailbox is closed.
func (m *mailbox[T]) put(item T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.count == len(m.buf) {
		m.grow()
	}

	m.buf[(m.head+m.count)%len(m.buf)] = item
	m.count++
	m.posted++
	if m.count > m.highMark {
		m.highMark = m.count
	}

	m.cond.Signal()
	return true
}

// take blocks until an item is available. It returns false when the mailbox
// is closed and drained.
func (m *mailbox[T]) take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.count == 0 && !m.closed {
		m.cond.Wait()
	}

	var zero T
	if m.count == 0 {
		return zero, false
	}

	item := m.buf[m.head]
	m.buf[m.head] = zero
	m.head = (m.head + 1) % len(m.buf)
	m.count--
	m.taken++

	return item, true
}

// close rejects further puts and wakes blocked takers.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cond.Broadcast()
}

func (m *mailbox[T]) stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Pending:   m.count,
		Capacity:  len(m.buf),
		Posted:    m.posted,
		Executed:  m.taken,
		Resizes:   m.resizes,
		HighWater: m.highMark,
	}
}

// grow doubles capacity, unwrapping the ring. Must hold mu.
func (m *mailbox[T]) grow() {
	next := make([]T, len(m.buf)*2)
	n := copy(next, m.buf[m.head:])
	copy(next[n:], m.buf[:m.head])

	m.buf = next
	m.head = 0
	m.resizes++
}
