// Package limiter implements the per-provider rate governors. A governor
// never sleeps: Check debits its ledgers and returns 0 when the caller may
// proceed, or the duration the caller must sleep before asking again. All
// ledger mutation is serialized through a keyed mutex under a provider-scoped
// key so callers sharing an API key coordinate while providers stay isolated.
package limiter

import (
	"time"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/kmutex"
	"github.com/sawpanic/tradegate/internal/models"
)

// Kind distinguishes order placement from everything else; Binance meters
// orders against a separate per-key budget.
type Kind int

const (
	KindRequest Kind = iota
	KindOrder
)

// Governor is the per-provider rate-limit ledger.
type Governor interface {
	// Check debits the ledgers and returns 0, or a positive duration the
	// caller must sleep before calling Check again. Nothing is debited when
	// the return is positive.
	Check(endpoint string, kind Kind, weight int) time.Duration
	// Snapshot returns fractional usage per ledger without locking out
	// callers; values may be slightly stale.
	Snapshot() []models.Usage
}

// Saturator is implemented by governors that can be slammed shut when the
// classifier sees server-side overload, so concurrent callers back off
// without waiting for their own errors.
type Saturator interface {
	Saturate()
}

// Banner is implemented by governors that honor server-declared bans.
type Banner interface {
	Ban(until time.Time)
	BannedUntil() time.Time
}

// window is a fixed-window counter with the queue-penalty scheme: the Nth
// caller rejected in the same window sleeps N ticks longer than the first,
// staggering wake-ups at the window edge.
type window struct {
	count   float64
	start   time.Time
	size    time.Duration
	ceiling float64
	penalty time.Duration
}

func newWindow(ceiling float64, size time.Duration) *window {
	return &window{size: size, ceiling: ceiling}
}

// roll resets the window if now is past its end. Counters never carry over.
func (w *window) roll(now time.Time) {
	if w.start.IsZero() || now.Sub(w.start) >= w.size {
		w.start = now
		w.count = 0
		w.penalty = 0
	}
}

// need returns 0 when amount fits, else the wait until the window rolls plus
// the accumulated queue penalty. The penalty grows 1 ms per rejected caller.
func (w *window) need(now time.Time, amount float64) time.Duration {
	w.roll(now)
	if w.count+amount <= w.ceiling {
		return 0
	}
	wait := w.start.Add(w.size).Sub(now) + w.penalty
	w.penalty += time.Millisecond
	return wait
}

func (w *window) debit(amount float64) { w.count += amount }

func (w *window) usage(now time.Time) float64 {
	if w.start.IsZero() || now.Sub(w.start) >= w.size || w.ceiling <= 0 {
		return 0
	}
	f := w.count / w.ceiling
	if f > 1 {
		f = 1
	}
	return f
}

// shared wiring every governor carries.
type base struct {
	clk clock.Clock
	km  *kmutex.Mutex
	key string
}

func (b *base) locked(fn func()) { b.km.Do(b.key, fn) }

// saturatedCount is the value a window counter is set to when the classifier
// reports server-side overload.
const saturatedCount = 100000
