package vtime

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionTimeModel selects which of an Entry's estimates the qdisc's
// execution-time model should use when computing a workload's virtual
// execution time.
type ExecutionTimeModel int

const (
	// ModelAverage uses the running average execution time.
	ModelAverage ExecutionTimeModel = iota
	// ModelBest uses the lower α-confidence estimate.
	ModelBest
	// ModelWorst uses the upper α-confidence estimate.
	ModelWorst
)

// Asymmetric smoothing rates for the best/worst bound estimators: the
// bound moves quickly toward a new extreme and creeps back slowly,
// tracking drift without letting a single outlier sample relocate the
// estimate outright: an exponential moving average with separate fast
// and slow rates.
const (
	fastAlpha = 0.25
	slowAlpha = 0.02
)

// Entry holds the eventually consistent timing statistics for a single
// payload fingerprint. All fields are updated via lock-free CAS loops;
// concurrent writers may race, and readers may observe a value that is
// momentarily stale relative to an in-flight update, which is acceptable
// per the scheduler's fairness model (it only needs an estimate, not an
// exact value).
type Entry struct {
	sumNanos  atomic.Int64
	count     atomic.Uint64
	bestBits  atomic.Uint64 // math.Float64bits of the lower-bound estimate, in nanoseconds
	worstBits atomic.Uint64 // math.Float64bits of the upper-bound estimate, in nanoseconds
}

func (e *Entry) record(sample time.Duration) {
	nanos := float64(sample.Nanoseconds())

	e.sumNanos.Add(sample.Nanoseconds())
	e.count.Add(1)

	casFloat(&e.bestBits, func(current float64, initialized bool) float64 {
		if !initialized {
			return nanos
		}
		if nanos < current {
			return current + fastAlpha*(nanos-current)
		}
		return current + slowAlpha*(nanos-current)
	})

	casFloat(&e.worstBits, func(current float64, initialized bool) float64 {
		if !initialized {
			return nanos
		}
		if nanos > current {
			return current + fastAlpha*(nanos-current)
		}
		return current + slowAlpha*(nanos-current)
	})
}

// casFloat retries update(current) against word until the CAS succeeds.
// initialized is false only when word has never been written (bits==0
// and the computed value would itself also be 0, which cannot happen
// for a real duration sample since durations are always >0 nanoseconds
// once at least one sample has been recorded).
func casFloat(word *atomic.Uint64, update func(current float64, initialized bool) float64) {
	for {
		oldBits := word.Load()
		current := math.Float64frombits(oldBits)
		next := update(current, oldBits != 0)
		nextBits := math.Float64bits(next)
		if word.CompareAndSwap(oldBits, nextBits) {
			return
		}
	}
}

// Average returns the running mean execution time. Zero if no samples
// have been recorded.
func (e *Entry) Average() time.Duration {
	n := e.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(e.sumNanos.Load() / int64(n))
}

// Best returns the lower α-confidence execution time estimate.
func (e *Entry) Best() time.Duration {
	return time.Duration(math.Float64frombits(e.bestBits.Load()))
}

// Worst returns the upper α-confidence execution time estimate.
func (e *Entry) Worst() time.Duration {
	return time.Duration(math.Float64frombits(e.worstBits.Load()))
}

// SampleCount returns the number of recorded samples.
func (e *Entry) SampleCount() uint64 {
	return e.count.Load()
}

// Estimate returns the execution time under the given model. It returns
// zero if no samples have ever been recorded for this entry; an Entry has
// no visibility into any other fingerprint's cost, so it cannot itself
// substitute a meaningful average for a fingerprint it has never seen —
// that fallback lives at the Table level (Table.Estimate), which has a
// global view to fall back to.
func (e *Entry) Estimate(model ExecutionTimeModel) time.Duration {
	if e.count.Load() == 0 {
		return 0
	}
	switch model {
	case ModelBest:
		return e.Best()
	case ModelWorst:
		return e.Worst()
	default:
		return e.Average()
	}
}

// Table is the virtual time table: a concurrent map from payload
// fingerprint to Entry, plus the shared clock qdiscs consult for
// short-term-fairness `now()`.
type Table struct {
	entries sync.Map // map[uint64]*Entry
	clock   *VirtualClock

	// globalSumNanos/globalCount track execution time across every
	// fingerprint combined, so a fingerprint with no samples of its own
	// can be scheduled against the table's overall average cost rather
	// than as if it were free.
	globalSumNanos atomic.Int64
	globalCount    atomic.Uint64
}

// NewTable creates an empty Table backed by a fresh VirtualClock.
func NewTable() *Table {
	return &Table{clock: NewVirtualClock()}
}

// Now returns the table's shared virtual clock reading.
func (t *Table) Now() int64 {
	return t.clock.Now()
}

// Advance moves the table's virtual clock forward, returning the new
// reading. GFQ calls it with a dispatched workload's measured run time
// once that workload completes, so that `now()` only moves in step with
// actual dispatched work.
func (t *Table) Advance(delta time.Duration) int64 {
	return t.clock.Advance(int64(delta))
}

// entry returns (creating if necessary) the Entry for fingerprint.
func (t *Table) entry(fingerprint uint64) *Entry {
	if v, ok := t.entries.Load(fingerprint); ok {
		return v.(*Entry)
	}
	v, _ := t.entries.LoadOrStore(fingerprint, &Entry{})
	return v.(*Entry)
}

// Record adds an execution-time sample for fingerprint.
func (t *Table) Record(fingerprint uint64, sample time.Duration) {
	t.entry(fingerprint).record(sample)
	t.globalSumNanos.Add(sample.Nanoseconds())
	t.globalCount.Add(1)
}

// globalAverage returns the mean execution time across every fingerprint
// recorded so far, or zero if nothing has ever been recorded.
func (t *Table) globalAverage() time.Duration {
	n := t.globalCount.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(t.globalSumNanos.Load() / int64(n))
}

// Lookup returns the Entry for fingerprint without creating one; ok is
// false if no sample has ever been recorded for it.
func (t *Table) Lookup(fingerprint uint64) (e *Entry, ok bool) {
	v, found := t.entries.Load(fingerprint)
	if !found {
		return nil, false
	}
	return v.(*Entry), true
}

// Estimate returns the execution time estimate for fingerprint under
// model, falling back to the table's global average across every
// fingerprint if this one has never been recorded (a never-measured
// workload is scheduled as if it cost the same as a typical one, rather
// than as free — so it cannot win every virtual-finish-time comparison
// against already-measured siblings purely by being unmeasured). The
// global average is itself zero until at least one sample of any kind
// has ever been recorded, which is an unavoidable bootstrap case.
func (t *Table) Estimate(fingerprint uint64, model ExecutionTimeModel) time.Duration {
	e, ok := t.Lookup(fingerprint)
	if !ok || e.SampleCount() == 0 {
		return t.globalAverage()
	}
	return e.Estimate(model)
}
