// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package workload

import "sync"

// CancellationToken is the "is-cancellation-requested plus
// register-callback" contract the scheduler core consumes without
// creating a token source itself. Any caller-supplied implementation
// satisfying this interface can drive a Workload's cooperative
// cancellation; CancellationSource below is this module's reference
// adapter (callers may substitute their own).
type CancellationToken interface {
	// CancellationRequested reports whether cancellation has been
	// signalled.
	CancellationRequested() bool
	// Reason returns the value passed to Cancel, or nil if not yet
	// cancelled. CancellationSource reports a *CancellationError when
	// cancelled with no reason.
	Reason() any
	// Register installs a callback invoked once cancellation is
	// signalled; if cancellation has already happened, the callback
	// runs immediately, synchronously, on the calling goroutine.
	Register(func(reason any))
}

// CancellationSource is the reference CancellationToken source, modeled
// on an AbortController/AbortSignal pair: Cancel plays the role of
// AbortController.Abort, and the CancellationSource itself also
// implements CancellationToken (playing the role of AbortSignal) so
// callers needn't juggle a separate pair of types for the common case of
// one owner that both controls and checks cancellation.
type CancellationSource struct {
	mu        sync.Mutex
	cancelled bool
	reason    any
	handlers  []func(reason any)
}

var _ CancellationToken = (*CancellationSource)(nil)

// NewCancellationSource creates a fresh, not-yet-cancelled source.
func NewCancellationSource() *CancellationSource {
	return &CancellationSource{}
}

// CancellationRequested reports whether Cancel has been called.
func (s *CancellationSource) CancellationRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Reason returns the reason passed to Cancel, or nil.
func (s *CancellationSource) Reason() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Register installs handler to run when Cancel is called. If already
// cancelled, handler runs immediately on the calling goroutine.
func (s *CancellationSource) Register(handler func(reason any)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	if s.cancelled {
		reason := s.reason
		s.mu.Unlock()
		handler(reason)
		return
	}
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// Cancel signals cancellation with reason, invoking every registered
// handler exactly once. A nil reason defaults to CancellationError{}.
// Subsequent calls are no-ops; the first reason sticks.
func (s *CancellationSource) Cancel(reason any) {
	if reason == nil {
		reason = &CancellationError{}
	}
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.reason = reason
	handlers := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for _, h := range handlers {
		h(reason)
	}
}

// CancellationError is the error a Workload's awaitable result surfaces
// when its terminal state is Canceled.
type CancellationError struct {
	// Reason carries whatever value was passed to CancellationSource.Cancel.
	Reason any
}

func (e *CancellationError) Error() string {
	if e.Reason == nil {
		return "workload: cancellation requested"
	}
	if s, ok := e.Reason.(string); ok {
		return "workload: cancellation requested: " + s
	}
	if err, ok := e.Reason.(error); ok {
		return "workload: cancellation requested: " + err.Error()
	}
	return "workload: cancellation requested"
}

// Is supports errors.Is against any other *CancellationError.
func (e *CancellationError) Is(target error) bool {
	_, ok := target.(*CancellationError)
	return ok
}

// Unwrap exposes Reason when it is itself an error, for errors.Is/As
// chains through the cause.
func (e *CancellationError) Unwrap() error {
	err, _ := e.Reason.(error)
	return err
}

// AnyToken returns a CancellationToken that reports cancelled as soon as
// any one of tokens does, carrying that token's reason. Nil tokens are
// skipped. An empty or all-nil input yields a token that never cancels.
func AnyToken(tokens []CancellationToken) CancellationToken {
	composite := NewCancellationSource()

	for _, t := range tokens {
		if t == nil {
			continue
		}
		if t.CancellationRequested() {
			composite.Cancel(t.Reason())
			return composite
		}
	}

	var once sync.Once
	for _, t := range tokens {
		if t == nil {
			continue
		}
		t.Register(func(reason any) {
			once.Do(func() { composite.Cancel(reason) })
		})
	}

	return composite
}
