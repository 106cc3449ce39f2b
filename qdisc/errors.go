// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package qdisc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRoute is returned (wrapped in a *ScheduleError) when
	// TryEnqueueByHandle cannot find a child with the requested handle
	// anywhere in the subtree.
	ErrNoRoute = errors.New("qdisc: no route to a child with that handle")

	// ErrCompleted is returned by Enqueue variants once Complete has been
	// called.
	ErrCompleted = errors.New("qdisc: qdisc has been completed; rejecting further enqueues")

	// ErrDisposed is returned by any operation on a disposed qdisc.
	ErrDisposed = errors.New("qdisc: qdisc has been disposed")

	// ErrSchedulerInconsistency indicates an internal invariant was
	// violated (e.g. a child index GFQ resolved is no longer in range).
	// Surfacing this as an
	// error, rather than panicking, keeps a scheduler bug from taking the
	// whole worker down.
	ErrSchedulerInconsistency = errors.New("qdisc: scheduler inconsistency")
)

// ScheduleError wraps a scheduling failure with the handle it was
// attempting to resolve or enqueue against.
type ScheduleError struct {
	Handle uint64
	Err    error
}

func (e *ScheduleError) Error() string {
	return fmt.Sprintf("qdisc: schedule failed for handle %d: %v", e.Handle, e.Err)
}

func (e *ScheduleError) Unwrap() error { return e.Err }
