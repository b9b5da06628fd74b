package kmutex

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_MutualExclusion(t *testing.T) {
	m := New()
	var inside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.True(t, m.Lock("binance"))
			defer m.Unlock("binance")
			cur := atomic.AddInt32(&inside, 1)
			assert.EqualValues(t, 1, cur, "two holders inside the same id")
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len(), "idle entries must be collected")
}

func TestMutex_DistinctIDsDoNotContend(t *testing.T) {
	m := New()
	require.True(t, m.Lock("bybit"))
	done := make(chan struct{})
	go func() {
		require.True(t, m.Lock("okx"))
		m.Unlock("okx")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct id blocked")
	}
	m.Unlock("bybit")
}

func TestMutex_FIFOOrder(t *testing.T) {
	m := New()
	require.True(t, m.Lock("k"))

	var order []int
	var mu sync.Mutex
	ready := make(chan struct{}, 3)
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			ready <- struct{}{}
			require.True(t, m.Lock("k"))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			m.Unlock("k")
		}()
		<-ready
		// Give the goroutine time to enqueue before the next starts.
		time.Sleep(20 * time.Millisecond)
	}
	m.Unlock("k")
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMutex_ConcurrencyBound(t *testing.T) {
	m := New(WithConcurrency(3))
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.True(t, m.Lock("kucoin"))
			defer m.Unlock("kucoin")
			cur := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, int32(3))
	assert.GreaterOrEqual(t, peak, int32(2), "bound should actually admit more than one")
}

func TestMutex_QueueCapEvictsOldest(t *testing.T) {
	m := New(WithQueueCap(1))
	require.True(t, m.Lock("id"))

	first := make(chan bool, 1)
	go func() { first <- m.Lock("id") }()
	time.Sleep(20 * time.Millisecond)

	second := make(chan bool, 1)
	go func() { second <- m.Lock("id") }()
	time.Sleep(20 * time.Millisecond)

	// The first waiter exceeded the cap when the second arrived.
	select {
	case ok := <-first:
		assert.False(t, ok, "evicted waiter must see false")
	case <-time.After(time.Second):
		t.Fatal("evicted waiter never woke")
	}

	m.Unlock("id")
	select {
	case ok := <-second:
		assert.True(t, ok)
		m.Unlock("id")
	case <-time.After(time.Second):
		t.Fatal("surviving waiter never admitted")
	}
}

func TestMutex_DoReleasesOnPanic(t *testing.T) {
	m := New()
	func() {
		defer func() { _ = recover() }()
		m.Do("p", func() { panic("boom") })
	}()
	done := make(chan struct{})
	go func() {
		require.True(t, m.Lock("p"))
		m.Unlock("p")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock leaked after panic inside Do")
	}
}
