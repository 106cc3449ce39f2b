// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package workload

import "sync"

// Continuation is a callback invoked once a workload reaches a terminal
// state.
type Continuation func(status Status)

// continuationSlot is a single callback that inflates to a list once a
// second callback is installed, guarded throughout by a plain mutex rather than a
// CAS-installed fast path (the single-slot case still avoids a slice
// allocation, it just doesn't avoid the lock), and is fenced by a
// completed sentinel on termination so further installs run immediately
// instead of being silently dropped.
//
// Grounded on the same "collect under a lock, fan out after releasing it"
// shape as a promise's subscriber list, simplified to this package's
// single-callback/list/sentinel model instead of a value-carrying
// Promise/A+ chain (this module has no use for chained continuations).
type continuationSlot struct {
	mu        sync.Mutex
	single    Continuation
	list      []Continuation
	inflated  bool
	completed bool
}

// Add installs cb. If the slot is already completed, cb runs immediately
// (synchronously, on the calling goroutine) with the terminal status.
func (c *continuationSlot) Add(cb Continuation, status Status) {
	if cb == nil {
		return
	}

	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		cb(status)
		return
	}
	switch {
	case c.single == nil && !c.inflated:
		c.single = cb
	case !c.inflated:
		c.inflated = true
		c.list = append(c.list, c.single, cb)
		c.single = nil
	default:
		c.list = append(c.list, cb)
	}
	c.mu.Unlock()
}

// Complete fences the slot against further queuing and drains whatever
// callbacks had been installed, in installation order, with status. Safe
// to call at most once per workload (the caller enforces that via
// StatusWord.MarkContinuationsInvoked); a second call is a silent no-op.
func (c *continuationSlot) Complete(status Status) {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return
	}
	c.completed = true
	single := c.single
	list := c.list
	c.single = nil
	c.list = nil
	c.mu.Unlock()

	if single != nil {
		single(status)
	}
	for _, cb := range list {
		cb(status)
	}
}
