// Package kmutex provides a keyed mutex: callers serialize on an arbitrary
// string id instead of a shared lock. Governor ledgers use it so that
// distinct providers never contend while callers sharing one API key do.
package kmutex

import (
	"container/list"
	"sync"
)

// Mutex serializes critical sections by string id. With Concurrency == 1
// (the default) it is strict mutual exclusion per id; a larger bound admits
// up to N simultaneous holders of the same id. FIFO fairness holds among
// waiters on the same id. Distinct ids never contend. Idle entries are
// garbage-collected on release.
type Mutex struct {
	mu          sync.Mutex
	entries     map[string]*entry
	concurrency int
	queueCap    int
}

type entry struct {
	holders int
	waiters *list.List // of chan struct{}
}

// Option configures a Mutex.
type Option func(*Mutex)

// WithConcurrency admits up to n simultaneous holders per id. n < 1 is
// treated as 1.
func WithConcurrency(n int) Option {
	return func(m *Mutex) {
		if n >= 1 {
			m.concurrency = n
		}
	}
}

// WithQueueCap discards the oldest waiter beyond cap queued waiters per id.
// A discarded waiter's Lock returns false. Zero means unbounded.
func WithQueueCap(cap int) Option {
	return func(m *Mutex) { m.queueCap = cap }
}

// New constructs a keyed mutex.
func New(opts ...Option) *Mutex {
	m := &Mutex{entries: make(map[string]*entry), concurrency: 1}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Lock blocks until the caller holds id. The return is false only when a
// queue cap evicted this waiter; holders must not call Unlock in that case.
func (m *Mutex) Lock(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{waiters: list.New()}
		m.entries[id] = e
	}
	if e.holders < m.concurrency && e.waiters.Len() == 0 {
		e.holders++
		m.mu.Unlock()
		return true
	}
	ch := make(chan struct{}, 1)
	e.waiters.PushBack(ch)
	if m.queueCap > 0 && e.waiters.Len() > m.queueCap {
		oldest := e.waiters.Front()
		e.waiters.Remove(oldest)
		close(oldest.Value.(chan struct{}))
	}
	m.mu.Unlock()

	_, admitted := <-ch
	return admitted
}

// Unlock releases one hold on id and hands off to the next waiter in FIFO
// order. The id's state is dropped once no holders and no waiters remain.
func (m *Mutex) Unlock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return
	}
	e.holders--
	for e.holders < m.concurrency && e.waiters.Len() > 0 {
		front := e.waiters.Front()
		e.waiters.Remove(front)
		e.holders++
		front.Value.(chan struct{}) <- struct{}{}
	}
	if e.holders <= 0 && e.waiters.Len() == 0 {
		delete(m.entries, id)
	}
}

// Do runs fn while holding id, releasing on every exit path including panics.
// Returns false without running fn when a queue cap evicted the waiter.
func (m *Mutex) Do(id string, fn func()) bool {
	if !m.Lock(id) {
		return false
	}
	defer m.Unlock(id)
	fn()
	return true
}

// Len reports the number of live ids, for tests and the ops endpoint.
func (m *Mutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
