// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package qdisc implements the classful workload qdisc tree: a
// child qdisc contract every leaf and classful node satisfies, a reference
// FIFO leaf, and the Generalized Fair Queueing classful qdisc that selects
// among its children by virtual finish time.
package qdisc

import "github.com/joeycumines/go-qdisc/workload"

// Queue is the child qdisc contract: every leaf (e.g. FIFO) and every
// classful node (e.g. GFQ) satisfies this interface, so a GFQ's children
// slice can hold either without the tree needing to know which.
type Queue interface {
	// Handle returns this qdisc's stable identity, used for TryFindRoute /
	// TryEnqueueByHandle and as the "child" label on exported metrics.
	Handle() uint64

	// IsEmpty is a cheap, best-effort emptiness check: it may race a
	// concurrent enqueue/dequeue and return a stale answer, which is
	// acceptable since every caller treats it as advisory (the
	// authoritative signal is a failed TryDequeue).
	IsEmpty() bool

	// BestEffortCount returns an approximate enqueued-item count, for
	// metrics and the structural BestEffortCount walk. A classful node
	// walks its children under its structural lock's alpha (write) side,
	// so no enqueue or dequeue through that node runs during the walk;
	// enqueues made directly into a child are not excluded.
	BestEffortCount() int

	// Enqueue places w directly into this qdisc (for a leaf, its own
	// storage; for a classful node, its local/index-0 child), returning an
	// error once the qdisc has been completed or disposed.
	Enqueue(w workload.Scheduled) error

	// TryDequeue removes and returns the next workload this qdisc selects,
	// or (nil, false) if none is currently available. workerID identifies
	// the calling worker and backTrack is a caller hint; neither FIFO nor
	// GFQ in this package reads either of them.
	TryDequeue(workerID int, backTrack bool) (workload.Scheduled, bool)

	// TryPeek returns the next workload that TryDequeue would currently
	// return, without removing it, or (nil, false) if none is available.
	TryPeek(workerID int) (workload.Scheduled, bool)

	// CanClassify reports whether this qdisc (as a potential child of a
	// classful parent) accepts workloads described by the opaque
	// classification key state. A leaf with no predicate configured
	// returns false unconditionally, meaning it is only reachable by
	// direct index-0 enqueue or explicit handle routing.
	CanClassify(state any) bool

	// TryEnqueue classifies state against this qdisc's children (if
	// classful) or against this qdisc itself (if a leaf), enqueuing w on
	// the first match and returning true, or returning false if nothing
	// matched.
	TryEnqueue(state any, w workload.Scheduled) bool

	// TryEnqueueDirect bypasses classification entirely and places w into
	// this qdisc's own local queue (for a classful node, its index-0
	// child), regardless of any configured predicate.
	TryEnqueueDirect(w workload.Scheduled) bool

	// TryFindRoute searches this qdisc's subtree for a child (at any
	// depth) whose Handle equals handle, appending one RouteNode per level
	// descended, in leaf-to-root order, and returns true if found.
	TryFindRoute(handle uint64, path *RoutingPath) bool

	// WillEnqueueFromRoutingPath is called, top-down, on every node of a
	// RoutingPath previously produced by TryFindRoute, just before the
	// workload is actually placed into the leaf at the end of that path:
	// it lets each level update its own accounting (e.g. the has-data
	// bitmap) without re-running classification.
	WillEnqueueFromRoutingPath(node RouteNode, w workload.Scheduled)

	// TryEnqueueByHandle resolves handle via TryFindRoute and enqueues w at
	// the end of that path, returning a *ScheduleError wrapping ErrNoRoute
	// if no child has that handle anywhere in the subtree.
	TryEnqueueByHandle(handle uint64, w workload.Scheduled) error

	// Complete marks the qdisc as no longer accepting new enqueues;
	// already-queued workloads remain dequeuable.
	Complete()

	// Dispose releases any resources (locks, pooled buffers) held by this
	// qdisc. A disposed qdisc must not be used again.
	Dispose()

	// OnWorkerTerminated lets a qdisc drop any per-worker state it was
	// keeping for workerID. GFQ keeps none and forwards the call to its
	// children; FIFO ignores it.
	OnWorkerTerminated(workerID int)
}

// Classful is the subset of qdiscs that host children and can be grown or
// shrunk at runtime via structural operations.
type Classful interface {
	Queue

	// AddChild attaches child under the given Weight, rebasing every
	// child's virtual finish time to zero, and returns false if a child
	// with that handle already exists or the qdisc has been completed.
	AddChild(child Queue, weight Weight) bool

	// RemoveChild waits (bounded by an internal default timeout) for child
	// to report empty, then structurally removes it, redirecting any
	// residual workloads into the local queue. Returns false if child is
	// not present.
	RemoveChild(child Queue) bool

	// TryRemoveChild is RemoveChild with no wait: it fails if child is not
	// currently empty.
	TryRemoveChild(child Queue) bool

	// FindChild returns the immediate child with the given handle, if any
	// (non-recursive; use TryFindRoute to search the whole subtree).
	FindChild(handle uint64) (Queue, bool)
}

// Weight carries a child's scheduling weight (divides its virtual
// execution time, so a higher weight gets more of the shared resource) and
// punishment factor (multiplies the execution time folded into its next
// virtual finish time, so a higher factor makes a child "pay more" for
// time it actually used).
type Weight struct {
	SchedulingWeight float64
	PunishmentFactor float64
}

// DefaultWeight is the weight assigned when a caller doesn't care: equal
// share, no extra punishment.
var DefaultWeight = Weight{SchedulingWeight: 1, PunishmentFactor: 1}
