// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package workload

import (
	"context"
	"reflect"
	"runtime"
	"sync/atomic"
)

// Invocation is the user-supplied closure a Workload runs. It parameterizes
// the single generic Workload[T] over the payload invocation signature:
// callback-only, with-state, and task-returning variants are all just
// different closures satisfying this one signature.
type Invocation[T any] func(ctx context.Context) (T, error)

var nextID atomic.Uint64

// NewID returns a fresh process-wide monotonic workload ID.
func NewID() uint64 { return nextID.Add(1) }

// Fingerprint derives a virtual-time-table identity for fn: the
// underlying code pointer of the function value, which is stable across
// calls for the same closure/method/function literal. Closures created
// from the same literal at different call sites still share a
// fingerprint.
func Fingerprint(fn any) uint64 {
	if fn == nil {
		return 0
	}
	return uint64(reflect.ValueOf(fn).Pointer())
}

// Scheduled is the type-erased view of a Workload[T] that qdiscs operate
// on: the scheduler core never needs to know a workload's result type, so
// it accepts this interface rather than the generic Workload[T] itself,
// following the "accept interfaces" idiom instead of making the qdisc
// tree itself generic over every payload type it might ever carry.
type Scheduled interface {
	ID() uint64
	Fingerprint() uint64
	Status() Status
	Annotation() any
	SetAnnotation(v any)
	MarkScheduled() bool
	CancellationFlag() bool
	// RunDispatch runs the workload to completion, storing its result
	// internally (retrievable, for the concrete Workload[T], via
	// Result()) and returning only the error, so the interface doesn't
	// need to be generic.
	RunDispatch(ctx context.Context) error
}

// Workload is a single user-submitted unit of execution: it carries
// a monotonic ID, an atomic status word, an optional result/error once
// terminal, a cancellation hookup, a continuation slot, and an opaque
// scheduling annotation slot qdiscs use to stash their own bookkeeping
// (e.g. which child it was routed through, or its virtual-time weight)
// for the duration the qdisc owns it.
type Workload[T any] struct {
	id          uint64
	fingerprint uint64
	invoke      Invocation[T]
	cancel      CancellationToken
	externally  bool // externally managed lifecycle: completion returns to a pool instead of being released

	status        StatusWord
	continuations continuationSlot

	annotation atomic.Pointer[any]

	result T
	err    error
}

// New creates a Workload wrapping invoke. cancel may be nil, meaning the
// workload is never cooperatively cancelled from the outside.
func New[T any](invoke Invocation[T], cancel CancellationToken) *Workload[T] {
	w := &Workload[T]{
		id:          NewID(),
		fingerprint: Fingerprint(invoke),
		invoke:      invoke,
		cancel:      cancel,
	}
	w.status.v.Store(uint32(Created))
	return w
}

// ID returns the workload's unique monotonic identifier.
func (w *Workload[T]) ID() uint64 { return w.id }

// Fingerprint returns the identity used to key this workload's entry in
// the virtual time table.
func (w *Workload[T]) Fingerprint() uint64 { return w.fingerprint }

// Status returns the current Status.
func (w *Workload[T]) Status() Status { return w.status.Load() }

// SetExternallyManaged marks the workload as owned by an external pool:
// on completion it is returned rather than released/garbage-collected.
// This module does not implement such a pool, only the flag a caller's
// own pool can observe.
func (w *Workload[T]) SetExternallyManaged(v bool) { w.externally = v }

// ExternallyManaged reports the flag set by SetExternallyManaged.
func (w *Workload[T]) ExternallyManaged() bool { return w.externally }

// Annotation returns the qdisc-private scheduling annotation currently
// attached to this workload, or nil.
func (w *Workload[T]) Annotation() any {
	if p := w.annotation.Load(); p != nil {
		return *p
	}
	return nil
}

// SetAnnotation attaches v as the qdisc-private scheduling annotation,
// replacing whatever was there; SetAnnotation(nil) clears it. GFQ attaches
// one on enqueue and clears it in TryDequeue before handing the workload
// to a worker. No qdisc in this module checks for a missing annotation at
// dequeue time.
func (w *Workload[T]) SetAnnotation(v any) {
	if v == nil {
		w.annotation.Store(nil)
		return
	}
	w.annotation.Store(&v)
}

// MarkScheduled transitions Created -> Scheduled. Called by a qdisc's
// enqueue path once the workload has been placed into a queue.
func (w *Workload[T]) MarkScheduled() bool { return w.status.MarkScheduled() }

// CancellationFlag reports whether this workload's token (if any) has
// signalled cancellation.
func (w *Workload[T]) CancellationFlag() bool {
	return w.cancel != nil && w.cancel.CancellationRequested()
}

// ThrowIfCancellationRequested acknowledges a pending cancellation,
// transitioning CancellationRequested -> Canceled and returning a
// *CancellationError; returns nil if cancellation was not requested.
func (w *Workload[T]) ThrowIfCancellationRequested() error {
	if !w.CancellationFlag() {
		return nil
	}
	w.status.RequestCancellation()
	if w.status.AcknowledgeCancellation() {
		w.err = &CancellationError{Reason: w.cancel.Reason()}
		w.invokeContinuations()
	}
	return &CancellationError{Reason: w.cancel.Reason()}
}

// Run executes the workload's invocation to completion on the calling
// goroutine (this module has no cooperative suspension inside the core;
// an async workload is expected to be wrapped so that, from the
// scheduler's perspective, the worker stays occupied until a terminal
// status is reached). Run is meant to be called by exactly one worker,
// after a successful dequeue.
//
// Transitions: Scheduled -> Running on entry; then Running -> one of
// RanToCompletion, Faulted, or Canceled, depending on outcome.
func (w *Workload[T]) Run(ctx context.Context) (T, error) {
	if w.CancellationFlag() {
		_ = w.ThrowIfCancellationRequested()
		var zero T
		return zero, w.err
	}

	if !w.status.MarkRunning() {
		var zero T
		return zero, w.err
	}

	result, err := w.safeInvoke(ctx)

	// A body that returns normally completes even if cancellation was
	// requested meanwhile; only a failing return is taken as acknowledging it.
	if err != nil && w.cancel != nil && w.cancel.CancellationRequested() {
		w.status.RequestCancellation()
		if w.status.AcknowledgeCancellation() {
			w.err = &CancellationError{Reason: w.cancel.Reason()}
			w.invokeContinuations()
			var zero T
			return zero, w.err
		}
	}

	if err != nil {
		w.err = err
		w.status.MarkFaulted()
		w.invokeContinuations()
		var zero T
		return zero, err
	}

	w.result = result
	w.status.MarkRanToCompletion()
	w.invokeContinuations()
	return result, nil
}

// safeInvoke runs w.invoke, converting a panic into a returned error so
// user code can never crash the worker process.
func (w *Workload[T]) safeInvoke(ctx context.Context) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				err = &PanicError{Value: r, Stack: string(buf[:n])}
			}
		}
	}()
	return w.invoke(ctx)
}

var _ Scheduled = (*Workload[struct{}])(nil)

// RunDispatch is Run with the result discarded (retrievable afterwards
// via Result), satisfying the type-erased Scheduled interface.
func (w *Workload[T]) RunDispatch(ctx context.Context) error {
	_, err := w.Run(ctx)
	return err
}

// Result returns the workload's result and error once terminal. Calling
// it before the workload reaches a terminal state returns the zero value
// and a nil error.
func (w *Workload[T]) Result() (T, error) { return w.result, w.err }

// OnCompletion registers cb to run once the workload reaches a terminal
// state, with that terminal Status. If the workload is already terminal,
// cb runs immediately on the calling goroutine.
func (w *Workload[T]) OnCompletion(cb Continuation) {
	w.continuations.Add(cb, w.status.Load())
}

func (w *Workload[T]) invokeContinuations() {
	if w.status.MarkContinuationsInvoked() {
		w.continuations.Complete(w.status.Load())
	}
}

// PanicError wraps a recovered non-error panic value.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return "workload: panic recovered: " + toString(e.Value)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return "non-error panic value"
}
