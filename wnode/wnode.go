// Package wnode implements the caller-allocated "work node" pattern used
// throughout the virtual memory subsystem for asynchronous completion:
// bundle.FetchNode, mapping.FaultNode, foreign.AcquireNode,
// addrspace.FutexNode and the pager's InitiateNode/ManageNode all embed Base.
//
// A "may suspend" operation either completes synchronously (returns true,
// having already filled in the node's result) or arranges for the node's
// completion closure to be posted to a workqueue.Poster later (returns
// false). Nodes are not cancellable: the caller must keep the node (and
// whatever it closes over) alive until Complete has been observed to run.
package wnode

import "github.com/outofforest/uvm/workqueue"

// Base is embedded in every asynchronous completion node.
type Base struct {
	queue   workqueue.Poster
	onReady workqueue.Func
}

// Setup arms the node with the queue completions are posted to and the
// closure to invoke. The closure is expected to close over the concrete
// node (FetchNode, FaultNode, ...), not over Base itself.
func (b *Base) Setup(queue workqueue.Poster, onReady workqueue.Func) {
	b.queue = queue
	b.onReady = onReady
}

// Complete posts the node's completion closure. Called by the operation that
// owns the node once its result fields are filled in. Safe to call from
// inside a lock; the closure itself runs later, outside of it.
func (b *Base) Complete() {
	if b.queue == nil || b.onReady == nil {
		return
	}
	b.queue.Post(b.onReady)
}
