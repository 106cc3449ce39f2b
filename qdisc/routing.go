// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package qdisc

import (
	"sync"
	"sync/atomic"
)

// RouteNode is one level of a RoutingPath: the qdisc that owns the matched
// child and the child's index within that qdisc's children slice at the
// time of the match.
type RouteNode struct {
	Qdisc      Queue
	ChildIndex int
}

// RoutingPath is a reusable buffer for TryFindRoute results, built
// leaf-to-root by successive appends during the recursive descent and
// consumed top-down (in reverse) by callers such as TryEnqueueByHandle.
// It is pooled (supplement: routing-path pooling) rather than allocated
// per handle-routed enqueue, since handle routing is expected to be a hot
// path for any caller doing explicit placement.
type RoutingPath struct {
	nodes []RouteNode
}

// Nodes returns the path's nodes in leaf-to-root order.
func (p *RoutingPath) Nodes() []RouteNode { return p.nodes }

// Append adds a node to the path (called during TryFindRoute's descent).
func (p *RoutingPath) Append(n RouteNode) { p.nodes = append(p.nodes, n) }

func (p *RoutingPath) reset() { p.nodes = p.nodes[:0] }

// maxObservedDepth tracks the deepest path ever built, so the pool's `New`
// can size fresh buffers without guessing; it only ever grows.
var maxObservedDepth atomic.Int32

const initialRoutingPathDepth = 4

var routingPathPool = sync.Pool{
	New: func() any {
		depth := int(maxObservedDepth.Load())
		if depth < initialRoutingPathDepth {
			depth = initialRoutingPathDepth
		}
		return &RoutingPath{nodes: make([]RouteNode, 0, depth)}
	},
}

// AcquireRoutingPath returns an empty RoutingPath from the pool.
func AcquireRoutingPath() *RoutingPath {
	p := routingPathPool.Get().(*RoutingPath)
	p.reset()
	return p
}

// ReleaseRoutingPath returns p to the pool, first recording its depth as a
// new observed maximum if it set one.
func ReleaseRoutingPath(p *RoutingPath) {
	if p == nil {
		return
	}
	if n := int32(len(p.nodes)); n > maxObservedDepth.Load() {
		maxObservedDepth.Store(n)
	}
	routingPathPool.Put(p)
}
