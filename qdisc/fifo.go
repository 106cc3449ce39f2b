// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package qdisc

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-qdisc/workload"
)

// Classless child qdiscs are interchangeable leaves conforming to the
// Queue contract, and callers are expected to bring their own. FIFO is
// this module's reference leaf, exercising the contract end-to-end for
// tests and for callers that don't need anything fancier than
// ordering-preserving dispatch.
//
// It uses a fixed-size lock-free ring buffer for the hot path plus a
// mutex-protected overflow slice once the ring fills, generalized from
// func() tasks to workload.Scheduled.
const (
	ringBufferSize = 4096

	// ringSeqSkip is the empty-slot sentinel; see the Pop/Push comments
	// below for how a slot transitions through it.
	ringSeqSkip = uint64(1) << 63

	ringOverflowInitCap          = 256
	ringOverflowCompactThreshold = 512
)

// FIFO is a reference classless leaf qdisc: first-in-first-out delivery,
// lock-free on the hot path, with an overflow slice absorbing bursts past
// the ring's fixed capacity.
type FIFO struct {
	handle uint64

	buffer [ringBufferSize]workload.Scheduled
	valid  [ringBufferSize]atomic.Bool
	seq    [ringBufferSize]atomic.Uint64
	head   atomic.Uint64
	tail   atomic.Uint64
	txSeq  atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []workload.Scheduled
	overflowHead    int
	overflowPending atomic.Bool

	classify  func(state any) bool
	completed atomic.Bool
	disposed  atomic.Bool
}

var _ Queue = (*FIFO)(nil)

// FIFOOption configures a FIFO at construction.
type FIFOOption func(*FIFO)

// WithClassifier installs the predicate CanClassify/TryEnqueue use; a FIFO
// built without one never matches a classification key and is only
// reachable via TryEnqueueDirect or handle routing.
func WithClassifier(classify func(state any) bool) FIFOOption {
	return func(f *FIFO) { f.classify = classify }
}

// NewFIFO creates an empty FIFO leaf identified by handle.
func NewFIFO(handle uint64, opts ...FIFOOption) *FIFO {
	f := &FIFO{handle: handle}
	for i := range f.seq {
		f.seq[i].Store(ringSeqSkip)
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FIFO) Handle() uint64 { return f.handle }

func (f *FIFO) push(w workload.Scheduled) {
	if f.overflowPending.Load() {
		f.overflowMu.Lock()
		if len(f.overflow)-f.overflowHead > 0 {
			f.overflow = append(f.overflow, w)
			f.overflowMu.Unlock()
			return
		}
		f.overflowMu.Unlock()
	}

	for {
		tail := f.tail.Load()
		head := f.head.Load()
		if tail-head >= ringBufferSize {
			break
		}
		if f.tail.CompareAndSwap(tail, tail+1) {
			seq := f.txSeq.Add(1)
			idx := tail % ringBufferSize
			// Write data, then validity, then sequence: the sequence
			// store is the release barrier a Pop's sequence load
			// acquires against, so by the time a consumer observes this
			// seq it also observes the data and validity writes.
			f.buffer[idx] = w
			f.valid[idx].Store(true)
			f.seq[idx].Store(seq)
			return
		}
	}

	f.overflowMu.Lock()
	if f.overflow == nil {
		f.overflow = make([]workload.Scheduled, 0, ringOverflowInitCap)
	}
	f.overflow = append(f.overflow, w)
	f.overflowPending.Store(true)
	f.overflowMu.Unlock()
}

func (f *FIFO) pop() (workload.Scheduled, bool) {
	head := f.head.Load()
	tail := f.tail.Load()

	for head < tail {
		idx := head % ringBufferSize
		seq := f.seq[idx].Load()
		if seq == ringSeqSkip || !f.valid[idx].Load() {
			// A producer has claimed this slot (advanced tail) but has
			// not yet finished writing it; the slot is not skippable, so
			// spin until the write completes.
			head = f.head.Load()
			tail = f.tail.Load()
			runtime.Gosched()
			continue
		}

		w := f.buffer[idx]
		f.buffer[idx] = nil
		f.valid[idx].Store(false)
		f.seq[idx].Store(ringSeqSkip)
		f.head.Add(1)
		return w, true
	}

	if !f.overflowPending.Load() {
		return nil, false
	}

	f.overflowMu.Lock()
	defer f.overflowMu.Unlock()

	count := len(f.overflow) - f.overflowHead
	if count == 0 {
		f.overflowPending.Store(false)
		return nil, false
	}

	w := f.overflow[f.overflowHead]
	f.overflow[f.overflowHead] = nil
	f.overflowHead++

	if f.overflowHead > len(f.overflow)/2 && f.overflowHead > ringOverflowCompactThreshold {
		copy(f.overflow, f.overflow[f.overflowHead:])
		f.overflow = slices.Delete(f.overflow, len(f.overflow)-f.overflowHead, len(f.overflow))
		f.overflowHead = 0
	}
	if f.overflowHead >= len(f.overflow) {
		f.overflowPending.Store(false)
	}
	return w, true
}

// peek returns the next item pop would return, without removing it. It
// looks at the ring first, since overflow items are always strictly newer
// than whatever remains in the ring (overflow only accumulates once the
// ring is full) — so if the ring has nothing, the overflow's head is the
// true next item, and we fall through to a cheap locked read for that
// case.
func (f *FIFO) peek() (workload.Scheduled, bool) {
	head := f.head.Load()
	tail := f.tail.Load()
	if head < tail {
		idx := head % ringBufferSize
		if f.valid[idx].Load() && f.seq[idx].Load() != ringSeqSkip {
			return f.buffer[idx], true
		}
		return nil, false
	}
	if !f.overflowPending.Load() {
		return nil, false
	}
	f.overflowMu.Lock()
	defer f.overflowMu.Unlock()
	if len(f.overflow)-f.overflowHead == 0 {
		return nil, false
	}
	return f.overflow[f.overflowHead], true
}

func (f *FIFO) IsEmpty() bool {
	head := f.head.Load()
	tail := f.tail.Load()
	if tail > head {
		return false
	}
	f.overflowMu.Lock()
	empty := len(f.overflow)-f.overflowHead == 0
	f.overflowMu.Unlock()
	return empty
}

func (f *FIFO) BestEffortCount() int {
	head := f.head.Load()
	tail := f.tail.Load()
	ringCount := 0
	if tail > head {
		ringCount = int(tail - head)
	}
	f.overflowMu.Lock()
	overflowCount := len(f.overflow) - f.overflowHead
	f.overflowMu.Unlock()
	return ringCount + overflowCount
}

func (f *FIFO) Enqueue(w workload.Scheduled) error {
	if f.disposed.Load() {
		return ErrDisposed
	}
	if f.completed.Load() {
		return ErrCompleted
	}
	f.push(w)
	return nil
}

func (f *FIFO) TryDequeue(_ int, _ bool) (workload.Scheduled, bool) {
	return f.pop()
}

func (f *FIFO) TryPeek(_ int) (workload.Scheduled, bool) {
	return f.peek()
}

func (f *FIFO) CanClassify(state any) bool {
	return f.classify != nil && f.classify(state)
}

func (f *FIFO) TryEnqueue(state any, w workload.Scheduled) bool {
	if !f.CanClassify(state) {
		return false
	}
	return f.Enqueue(w) == nil
}

func (f *FIFO) TryEnqueueDirect(w workload.Scheduled) bool {
	return f.Enqueue(w) == nil
}

func (f *FIFO) TryFindRoute(handle uint64, path *RoutingPath) bool {
	if f.handle != handle {
		return false
	}
	path.Append(RouteNode{Qdisc: f, ChildIndex: -1})
	return true
}

func (f *FIFO) WillEnqueueFromRoutingPath(RouteNode, workload.Scheduled) {}

func (f *FIFO) TryEnqueueByHandle(handle uint64, w workload.Scheduled) error {
	if f.handle != handle {
		return &ScheduleError{Handle: handle, Err: ErrNoRoute}
	}
	return f.Enqueue(w)
}

func (f *FIFO) Complete() { f.completed.Store(true) }

func (f *FIFO) Dispose() { f.disposed.Store(true) }

func (f *FIFO) OnWorkerTerminated(int) {}
