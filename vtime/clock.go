// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package vtime implements the virtual time table: an eventually
// consistent, per-payload-fingerprint record of average/best/worst
// execution time estimates, plus the monotonic global virtual clock the
// GFQ qdisc uses as its `now()` for short-term fairness mode.
package vtime

import (
	"sync"
	"time"
)

// Clock is a monotonic timestamp source with a fixed origin, following
// the same "clock origin established at construction, Now() measured
// relative to it" idiom as a high-resolution performance timer. The GFQ
// qdisc does not use it: its `now()` is the VirtualClock inside its Table
// (Table.Now).
type Clock struct {
	origin time.Time
}

// NewClock creates a Clock whose origin is the current time.
func NewClock() *Clock {
	return &Clock{origin: time.Now()}
}

// Now returns nanoseconds elapsed since the clock's origin. Backed by
// time.Since, so it reflects the monotonic reading Go attaches to
// time.Time values and is unaffected by wall-clock adjustments.
func (c *Clock) Now() int64 {
	return int64(time.Since(c.origin))
}

// VirtualClock is the virtual-time counterpart of Clock: instead of
// tracking wall time, it tracks a logical tick that advances only when
// the scheduler explicitly asks it to (via Advance), for use as the
// `now()` term in virtual_accumulated_finish_time when the caller wants
// scheduling decisions to be reproducible independent of wall-clock
// jitter. Safe for concurrent use.
type VirtualClock struct {
	mu  sync.Mutex
	now int64
}

// NewVirtualClock creates a VirtualClock starting at zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// Now returns the current virtual time value.
func (c *VirtualClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the virtual clock forward by delta (delta must be >= 0)
// and returns the new value. Used by the short-term fairness mode to
// rebase vft computations on a value that only moves when work actually
// completes, rather than on wall-clock drift between dequeues.
func (c *VirtualClock) Advance(delta int64) int64 {
	if delta < 0 {
		delta = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += delta
	return c.now
}
