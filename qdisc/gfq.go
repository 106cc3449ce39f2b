// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package qdisc

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-qdisc/alphabeta"
	"github.com/joeycumines/go-qdisc/bitmap"
	"github.com/joeycumines/go-qdisc/logging"
	"github.com/joeycumines/go-qdisc/vtime"
	"github.com/joeycumines/go-qdisc/workload"
)

// FairnessMode selects how a child's virtual finish time is re-based once
// it is dispatched.
type FairnessMode int

const (
	// ShortTerm re-bases a dispatched child's virtual finish time off the
	// table's current virtual clock, so a child that was starved recovers
	// quickly once it gets a turn.
	ShortTerm FairnessMode = iota
	// LongTerm re-bases off the child's own previous virtual finish time,
	// so a child's total historical share is what determines its future
	// priority, independent of how long it sat idle.
	LongTerm
)

// defaultRemoveChildPollInterval/Timeout bound RemoveChild's wait for the
// child to drain; there is no push notification for "child became empty",
// so the wait is a bounded poll, matching this module's other
// poll-with-backoff waits (e.g. alphabeta's spin-then-park).
const (
	defaultRemoveChildPollInterval = time.Millisecond
	defaultRemoveChildTimeout      = 5 * time.Second
)

// scheduleAnnotation is the opaque bookkeeping a GFQ attaches to a
// workload between Enqueue and the matching TryDequeue, wrapping the
// workload's weight; TryDequeue clears it (see
// workload.Workload.SetAnnotation's doc) before returning the workload
// to a worker.
type scheduleAnnotation struct {
	weight Weight
}

// childEntry is one child slot: the child qdisc itself, its weight, and
// the GFQ's own per-child scheduling state (candidate buffer slot and last
// virtual finish time), each guarded by its own mutex so that scanning one
// child's state never blocks another's.
type childEntry struct {
	queue  Queue
	handle uint64
	weight Weight

	mu        sync.Mutex
	candidate workload.Scheduled
	lastVFT   int64
}

// GFQ is the Generalized Fair Queueing classful qdisc: it selects
// among its children by virtual finish time, maintaining a one-item
// candidate buffer per child so a dequeue's selection scan need not call
// into every child's own dequeue logic on every attempt.
type GFQ struct {
	handle uint64
	local  *FIFO // convention: always children[0], the root's own direct-enqueue target

	structLock *alphabeta.Lock // alpha: structural (add/remove child); beta: enqueue/dequeue scans
	children   atomic.Pointer[[]*childEntry]

	emptiness *bitmap.Bitmap // bit i set iff children[i] has data

	table     *vtime.Table
	exporter  *vtime.PrometheusExporter
	fairness  FairnessMode
	timeModel vtime.ExecutionTimeModel

	generation atomic.Uint64
	completed  atomic.Bool
	disposed   atomic.Bool

	rootPredicate      func(state any) bool
	onWorkScheduled    func()
	removeChildTimeout time.Duration

	log logging.Logger
}

var _ Classful = (*GFQ)(nil)

// GFQOption configures a GFQ at construction.
type GFQOption func(*GFQ)

func WithFairnessMode(m FairnessMode) GFQOption { return func(g *GFQ) { g.fairness = m } }

func WithExecutionTimeModel(m vtime.ExecutionTimeModel) GFQOption {
	return func(g *GFQ) { g.timeModel = m }
}

func WithTable(t *vtime.Table) GFQOption { return func(g *GFQ) { g.table = t } }

func WithPrometheusExporter(e *vtime.PrometheusExporter) GFQOption {
	return func(g *GFQ) { g.exporter = e }
}

// WithRootPredicate installs the classification predicate used as the
// fallback when a predicate-based enqueue matches none of this GFQ's
// children: without one, such an enqueue fails classification rather than
// silently landing in the local queue.
func WithRootPredicate(p func(state any) bool) GFQOption {
	return func(g *GFQ) { g.rootPredicate = p }
}

// WithOnWorkScheduled installs a hook called every time a workload becomes
// available somewhere in this GFQ's subtree (an enqueue, or a routed
// enqueue passing through). This is the boundary a host worker pool uses
// to wake an idle worker; the core itself has no notion of a worker pool.
func WithOnWorkScheduled(fn func()) GFQOption { return func(g *GFQ) { g.onWorkScheduled = fn } }

// WithRemoveChildTimeout overrides the default bounded wait RemoveChild
// uses for the child to report empty before giving up.
func WithRemoveChildTimeout(d time.Duration) GFQOption {
	return func(g *GFQ) { g.removeChildTimeout = d }
}

func WithLogger(l logging.Logger) GFQOption { return func(g *GFQ) { g.log = l } }

// NewGFQ creates a GFQ identified by handle, seeded with an empty local
// FIFO at children[0].
func NewGFQ(handle uint64, opts ...GFQOption) *GFQ {
	g := &GFQ{
		handle:             handle,
		local:              NewFIFO(handle),
		structLock:         alphabeta.New(),
		emptiness:          bitmap.New(1),
		table:              vtime.NewTable(),
		removeChildTimeout: defaultRemoveChildTimeout,
		log:                logging.NewNoOpLogger(),
	}
	root := []*childEntry{{queue: g.local, handle: handle, weight: DefaultWeight}}
	g.storeChildren(root)
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logging.NewNoOpLogger()
	}
	return g
}

func (g *GFQ) Handle() uint64 { return g.handle }

func (g *GFQ) loadChildren() []*childEntry { return *g.children.Load() }

func (g *GFQ) storeChildren(c []*childEntry) { g.children.Store(&c) }

// IsEmpty reports whether the has-data bitmap has no set bits.
func (g *GFQ) IsEmpty() bool { return g.emptiness.IsEmpty() }

func (g *GFQ) BestEffortCount() int {
	ticket, err := g.structLock.EnterAlpha(nil, -1)
	if err != nil {
		return 0
	}
	defer g.structLock.ExitAlpha(ticket)

	total := 0
	for _, ce := range g.loadChildren() {
		total += ce.queue.BestEffortCount()
	}
	return total
}

// Enqueue places w into the local/index-0 child.
func (g *GFQ) Enqueue(w workload.Scheduled) error {
	return g.enqueueAt(0, w)
}

func (g *GFQ) enqueueAt(idx int, w workload.Scheduled) error {
	if g.disposed.Load() {
		return ErrDisposed
	}
	if g.completed.Load() {
		return ErrCompleted
	}

	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return err
	}
	defer g.structLock.ExitBeta(ticket)

	children := g.loadChildren()
	if idx < 0 || idx >= len(children) {
		return ErrSchedulerInconsistency
	}
	ce := children[idx]

	w.MarkScheduled()
	w.SetAnnotation(&scheduleAnnotation{weight: ce.weight})

	if err := ce.queue.Enqueue(w); err != nil {
		return err
	}
	g.markHasData(idx)
	g.notifyScheduled()
	return nil
}

// markHasData unconditionally sets the has-data bit for child i: an
// enqueue always forces the bit true regardless of its guard token,
// since "a workload just arrived" is never stale information.
func (g *GFQ) markHasData(i int) {
	_ = g.emptiness.UpdateBit(i, true)
}

func (g *GFQ) notifyScheduled() {
	if g.onWorkScheduled != nil {
		g.onWorkScheduled()
	}
}

// TryEnqueue classifies state against each child's CanClassify, in order,
// enqueuing on the first match; on no match it falls back to the root's
// own predicate (if any), and otherwise reports classification failure.
func (g *GFQ) TryEnqueue(state any, w workload.Scheduled) bool {
	if g.disposed.Load() || g.completed.Load() {
		return false
	}

	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return false
	}
	children := g.loadChildren()
	matchedIdx := -1
	for i, ce := range children {
		if i == 0 {
			continue // local queue participates only via the root predicate fallback below
		}
		if ce.queue.CanClassify(state) {
			matchedIdx = i
			break
		}
	}
	g.structLock.ExitBeta(ticket)

	if matchedIdx >= 0 {
		return g.enqueueAt(matchedIdx, w) == nil
	}
	if g.rootPredicate != nil && g.rootPredicate(state) {
		return g.enqueueAt(0, w) == nil
	}
	return false
}

func (g *GFQ) TryEnqueueDirect(w workload.Scheduled) bool {
	return g.enqueueAt(0, w) == nil
}

func (g *GFQ) CanClassify(state any) bool {
	return g.rootPredicate != nil && g.rootPredicate(state)
}

// TryFindRoute matches this GFQ's own handle first, then searches children
// (recursing into classful ones), appending exactly one RouteNode per
// level traversed, built leaf-to-root as the recursion unwinds.
func (g *GFQ) TryFindRoute(handle uint64, path *RoutingPath) bool {
	if g.handle == handle {
		path.Append(RouteNode{Qdisc: g, ChildIndex: 0})
		return true
	}

	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return false
	}
	children := g.loadChildren()
	g.structLock.ExitBeta(ticket)

	for i, ce := range children {
		if ce.handle == handle {
			path.Append(RouteNode{Qdisc: g, ChildIndex: i})
			return true
		}
		if cf, ok := ce.queue.(Classful); ok {
			if cf.TryFindRoute(handle, path) {
				path.Append(RouteNode{Qdisc: g, ChildIndex: i})
				return true
			}
		}
	}
	return false
}

// WillEnqueueFromRoutingPath marks this level's matched child as
// has-data; it does not itself place w anywhere (only the deepest node in
// the path, where the match is a leaf, does that in TryEnqueueByHandle).
func (g *GFQ) WillEnqueueFromRoutingPath(node RouteNode, w workload.Scheduled) {
	g.markHasData(node.ChildIndex)
	g.notifyScheduled()
}

// TryEnqueueByHandle resolves handle to a RoutingPath, invokes
// WillEnqueueFromRoutingPath top-down along it (the path is built
// leaf-to-root by TryFindRoute, so "top-down" means iterating it in
// reverse), and finally enqueues w at the path's leaf.
func (g *GFQ) TryEnqueueByHandle(handle uint64, w workload.Scheduled) error {
	if g.disposed.Load() {
		return ErrDisposed
	}
	if g.completed.Load() {
		return ErrCompleted
	}

	path := AcquireRoutingPath()
	defer ReleaseRoutingPath(path)

	if !g.TryFindRoute(handle, path) {
		return &ScheduleError{Handle: handle, Err: ErrNoRoute}
	}

	nodes := path.Nodes()
	w.MarkScheduled()

	for i := len(nodes) - 1; i >= 0; i-- {
		nodes[i].Qdisc.WillEnqueueFromRoutingPath(nodes[i], w)
	}

	leaf := nodes[0]
	if leafGFQ, ok := leaf.Qdisc.(*GFQ); ok {
		children := leafGFQ.loadChildren()
		if leaf.ChildIndex < 0 || leaf.ChildIndex >= len(children) {
			return &ScheduleError{Handle: handle, Err: ErrSchedulerInconsistency}
		}
		ce := children[leaf.ChildIndex]
		w.SetAnnotation(&scheduleAnnotation{weight: ce.weight})
		if err := ce.queue.Enqueue(w); err != nil {
			return &ScheduleError{Handle: handle, Err: err}
		}
		return nil
	}

	// The leaf match was itself a leaf qdisc (handle equals a FIFO's own
	// handle, not one of this GFQ's children): enqueue directly into it.
	if err := leaf.Qdisc.TryEnqueueByHandle(handle, w); err != nil {
		return err
	}
	return nil
}

// virtualExecutionTime estimates how long the table expects w to run,
// scaled by the child's scheduling weight: a higher weight divides the
// estimate down, so the child appears "cheaper" and wins more selections.
func (g *GFQ) virtualExecutionTime(ce *childEntry, w workload.Scheduled) int64 {
	est := g.table.Estimate(w.Fingerprint(), g.timeModel)
	weight := ce.weight.SchedulingWeight
	if weight <= 0 {
		weight = 1
	}
	return int64(float64(est.Nanoseconds()) / weight)
}

// selectionVFT computes the value TryDequeue's scan compares children by:
// the child's last virtual finish time plus the candidate's virtual
// execution time.
func (g *GFQ) selectionVFT(ce *childEntry, w workload.Scheduled) int64 {
	return ce.lastVFT + g.virtualExecutionTime(ce, w)
}

// accumulatedFinishTime computes the child's new last virtual finish time
// once w has actually been dispatched, per the configured FairnessMode:
// ShortTerm re-bases off the table's current virtual clock (so an
// idle-then-busy child isn't punished for having been idle); LongTerm
// re-bases off the child's own prior finish time (so total historical
// share, not recency, drives future priority).
func (g *GFQ) accumulatedFinishTime(ce *childEntry, w workload.Scheduled) int64 {
	var base int64
	if g.fairness == ShortTerm {
		base = g.table.Now()
	} else {
		base = ce.lastVFT
	}
	punishment := ce.weight.PunishmentFactor
	if punishment <= 0 {
		punishment = 1
	}
	est := g.table.Estimate(w.Fingerprint(), g.timeModel)
	return base + int64(float64(est.Nanoseconds())*punishment)
}

// tryRepopulate attempts to fill child i's candidate slot from its
// underlying queue, clearing the has-data bit if the child turns out to
// actually be empty. It is best-effort: if the slot is contended, it gives
// up rather than blocking the selection scan.
func (g *GFQ) tryRepopulate(i int, ce *childEntry) (ok bool) {
	if !ce.mu.TryLock() {
		return false
	}
	defer ce.mu.Unlock()
	return g.repopulateLocked(i, ce)
}

func (g *GFQ) repopulateLocked(i int, ce *childEntry) bool {
	if ce.candidate != nil {
		return true
	}
	w, ok := ce.queue.TryDequeue(0, false)
	if !ok {
		g.clearHasDataBit(i)
		return true
	}
	ce.candidate = w
	g.generation.Add(1)
	return true
}

// clearHasDataBit clears child i's bit under its guard token, bounded to a
// fixed number of retries per the supplemented "generation-counter bounded
// retry" behavior: a concurrent enqueue racing the clear re-sets the bit,
// which this loop detects and simply stops on, rather than looping
// indefinitely against a token that keeps moving.
func (g *GFQ) clearHasDataBit(i int) {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err := g.emptiness.GetToken(i)
		if err != nil {
			return
		}
		ok, err := g.emptiness.TryUpdateBit(i, token, false)
		if err != nil {
			return
		}
		if ok {
			return
		}
		if set, err := g.emptiness.IsBitSet(i); err == nil && set {
			// A concurrent enqueue already re-marked it has-data; nothing
			// left for us to do.
			return
		}
	}
}

// TryDequeue implements the qdisc's selection algorithm: scan every child
// whose has-data bit is set, repopulating its one-item candidate buffer as
// needed, pick the minimum virtual finish time, and atomically claim that
// child's candidate. A generation bump anywhere during the scan restarts
// it, since the scan's comparisons are only valid against a single
// consistent snapshot of every child's candidate.
func (g *GFQ) TryDequeue(workerID int, backTrack bool) (workload.Scheduled, bool) {
	if g.disposed.Load() {
		return nil, false
	}

	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return nil, false
	}
	defer g.structLock.ExitBeta(ticket)

	for {
		if g.emptiness.IsEmpty() {
			return nil, false
		}

		gen := g.generation.Load()
		children := g.loadChildren()

		bestIdx := -1
		var bestVFT int64
		var bestCandidate workload.Scheduled

		for i, ce := range children {
			has, err := g.emptiness.IsBitSet(i)
			if err != nil || !has {
				continue
			}

			ce.mu.Lock()
			cand := ce.candidate
			ce.mu.Unlock()

			if cand == nil {
				if !g.tryRepopulate(i, ce) {
					continue
				}
				ce.mu.Lock()
				cand = ce.candidate
				ce.mu.Unlock()
				if cand == nil {
					continue
				}
			}

			vft := g.selectionVFT(ce, cand)
			if bestIdx == -1 || vft < bestVFT {
				bestIdx, bestVFT, bestCandidate = i, vft, cand
			}
		}

		if g.generation.Load() != gen {
			continue // a concurrent claim/repopulate invalidated the scan; retry
		}

		if bestIdx == -1 {
			if g.emptiness.IsEmpty() {
				return nil, false
			}
			runtime.Gosched()
			continue
		}

		ce := children[bestIdx]
		ce.mu.Lock()
		if ce.candidate != bestCandidate {
			ce.mu.Unlock()
			continue // lost the race for this child's slot; rescan
		}
		ce.candidate = nil
		ce.lastVFT = g.accumulatedFinishTime(ce, bestCandidate)
		g.repopulateLocked(bestIdx, ce)
		ce.mu.Unlock()

		g.generation.Add(1)

		bestCandidate.SetAnnotation(nil)
		g.recordDispatch(bestCandidate)
		g.observeChild(ce)
		return bestCandidate, true
	}
}

// recordDispatch hooks the workload's completion to feed its actual
// execution time back into the virtual time table, so future
// selections use a measurement rather than the table-wide fallback
// estimate (zero until anything at all has been recorded).
func (g *GFQ) recordDispatch(w workload.Scheduled) {
	start := time.Now()
	fingerprint := w.Fingerprint()
	if sw, ok := w.(completionObserver); ok {
		sw.OnCompletion(func(workload.Status) {
			elapsed := time.Since(start)
			g.table.Record(fingerprint, elapsed)
			g.table.Advance(elapsed)
			if entry, ok := g.table.Lookup(fingerprint); ok {
				g.exporter.ObserveEntry(fingerprint, entry)
			}
		})
	}
}

// completionObserver is satisfied by workload.Workload[T]; TryDequeue only
// requires workload.Scheduled, which doesn't expose OnCompletion (that
// method is generic-result-bearing on the concrete type), so this local
// interface recovers just the piece GFQ needs without widening Scheduled
// itself.
type completionObserver interface {
	OnCompletion(cb workload.Continuation)
}

func (g *GFQ) observeChild(ce *childEntry) {
	if g.exporter == nil {
		return
	}
	g.exporter.ObserveChild(ce.handle, ce.queue.BestEffortCount(), ce.lastVFT)
}

func (g *GFQ) TryPeek(workerID int) (workload.Scheduled, bool) {
	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return nil, false
	}
	defer g.structLock.ExitBeta(ticket)

	children := g.loadChildren()
	bestIdx := -1
	var bestVFT int64
	var bestCandidate workload.Scheduled

	for i, ce := range children {
		has, err := g.emptiness.IsBitSet(i)
		if err != nil || !has {
			continue
		}
		ce.mu.Lock()
		cand := ce.candidate
		ce.mu.Unlock()
		if cand == nil {
			if !g.tryRepopulate(i, ce) {
				continue
			}
			ce.mu.Lock()
			cand = ce.candidate
			ce.mu.Unlock()
			if cand == nil {
				continue
			}
		}
		vft := g.selectionVFT(ce, cand)
		if bestIdx == -1 || vft < bestVFT {
			bestIdx, bestVFT, bestCandidate = i, vft, cand
		}
	}
	if bestIdx == -1 {
		return nil, false
	}
	return bestCandidate, true
}

// AddChild attaches child, rebasing every child's virtual finish time to
// zero, and forces child's has-data bit if it already holds work.
func (g *GFQ) AddChild(child Queue, weight Weight) bool {
	ticket, err := g.structLock.EnterAlpha(nil, -1)
	if err != nil {
		return false
	}
	defer g.structLock.ExitAlpha(ticket)

	if g.completed.Load() || g.disposed.Load() {
		return false
	}

	children := g.loadChildren()
	for _, ce := range children {
		if ce.handle == child.Handle() {
			return false
		}
	}

	newEntry := &childEntry{queue: child, handle: child.Handle(), weight: weight}
	next := make([]*childEntry, 0, len(children)+1)
	next = append(next, children...)
	next = append(next, newEntry)
	for _, ce := range next {
		ce.mu.Lock()
		ce.lastVFT = 0
		ce.mu.Unlock()
	}
	g.storeChildren(next)

	if err := g.emptiness.Grow(1); err != nil {
		return false
	}
	if !child.IsEmpty() {
		g.markHasData(len(next) - 1)
	}
	g.generation.Add(1)

	logging.New(logging.LevelDebug, "gfq", "child added").
		Child(child.Handle()).Field("parent", g.handle).Emit(g.log)
	return true
}

// removeChildLocked performs the structural removal once the caller
// already holds the alpha ticket and has verified the child is (at least
// nominally) drained: mark it completed, redirect any residual workloads
// into the local queue (impersonating worker 0, safe since the alpha
// ticket excludes every concurrent TryDequeue), then splice it out of both
// the children slice and the emptiness bitmap.
func (g *GFQ) removeChildLocked(idx int) {
	children := g.loadChildren()
	ce := children[idx]
	ce.queue.Complete()

	ce.mu.Lock()
	residual := ce.candidate
	ce.candidate = nil
	ce.mu.Unlock()
	for {
		w, ok := residual, residual != nil
		if !ok {
			w, ok = ce.queue.TryDequeue(0, false)
		}
		if !ok {
			break
		}
		residual = nil
		// enqueueAt would wait for the beta side of structLock, which the
		// alpha ticket held here excludes, so go to the local queue directly.
		w.SetAnnotation(&scheduleAnnotation{weight: children[0].weight})
		if children[0].queue.Enqueue(w) == nil {
			g.markHasData(0)
		}
	}

	next := make([]*childEntry, 0, len(children)-1)
	next = append(next, children[:idx]...)
	next = append(next, children[idx+1:]...)
	g.storeChildren(next)

	_, _ = g.emptiness.RemoveBitAt(idx, true)
	g.generation.Add(1)

	logging.New(logging.LevelDebug, "gfq", "child removed").
		Child(ce.handle).Field("parent", g.handle).Emit(g.log)
}

func (g *GFQ) findChildIndex(child Queue) int {
	for i, ce := range g.loadChildren() {
		if ce.queue == child {
			return i
		}
	}
	return -1
}

// RemoveChild waits up to removeChildTimeout for child to report empty,
// then removes it; returns false if child was never found.
func (g *GFQ) RemoveChild(child Queue) bool {
	return g.removeChild(child, g.removeChildTimeout)
}

// TryRemoveChild removes child only if it is already empty, with no wait.
func (g *GFQ) TryRemoveChild(child Queue) bool {
	return g.removeChild(child, 0)
}

func (g *GFQ) removeChild(child Queue, timeout time.Duration) bool {
	if g.findChildIndex(child) < 0 {
		return false
	}

	if timeout <= 0 {
		if !child.IsEmpty() {
			return false
		}
	} else {
		deadline := time.Now().Add(timeout)
		for !child.IsEmpty() && time.Now().Before(deadline) {
			time.Sleep(defaultRemoveChildPollInterval)
		}
		// Whether or not the deadline was reached, proceed: removeChildLocked
		// drains any residual workloads into the local queue under the
		// structural lock, so a late race between this check and the lock
		// below can't lose work even if the child never quite went empty.
	}

	ticket, err := g.structLock.EnterAlpha(nil, -1)
	if err != nil {
		return false
	}
	defer g.structLock.ExitAlpha(ticket)

	idx := g.findChildIndex(child)
	if idx < 0 {
		return false
	}
	g.removeChildLocked(idx)
	return true
}

func (g *GFQ) FindChild(handle uint64) (Queue, bool) {
	ticket, err := g.structLock.EnterBeta(nil, -1)
	if err != nil {
		return nil, false
	}
	defer g.structLock.ExitBeta(ticket)

	for _, ce := range g.loadChildren() {
		if ce.handle == handle {
			return ce.queue, true
		}
	}
	return nil, false
}

func (g *GFQ) Complete() {
	g.completed.Store(true)
	for _, ce := range g.loadChildren() {
		ce.queue.Complete()
	}
}

func (g *GFQ) Dispose() {
	g.disposed.Store(true)
	for _, ce := range g.loadChildren() {
		ce.queue.Dispose()
	}
	g.structLock.Dispose()
}

func (g *GFQ) OnWorkerTerminated(workerID int) {
	for _, ce := range g.loadChildren() {
		ce.queue.OnWorkerTerminated(workerID)
	}
}
