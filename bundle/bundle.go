// Package bundle implements the MemoryBundle contract and its two "leaf"
// variants: HardwareMemory and AllocatedMemory. Managed, pager-backed
// bundles live in package managed; copy-on-write bundles live in package
// cow — both also satisfy MemoryBundle.
package bundle

import (
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/wnode"
	"github.com/outofforest/uvm/workqueue"
)

// FetchNode is the caller-allocated completion record for MemoryBundle.Fetch.
// Callers must not reuse a node across concurrent fetches; Setup arms it
// with the queue and callback to use if the fetch cannot complete
// synchronously.
type FetchNode struct {
	wnode.Base

	// Phys and Size describe the largest contiguous physical run starting
	// at the requested offset, filled in before the node is considered
	// complete (synchronously or via the posted callback).
	Phys types.PhysicalAddress
	Size uint64

	// Err carries the error, if any, once the node is complete.
	Err error
}

// NewFetchNode creates a FetchNode that will post to queue and invoke
// onReady(node) if Fetch cannot complete synchronously. A nil onReady makes
// completion a no-op.
func NewFetchNode(queue workqueue.Poster, onReady func(*FetchNode)) *FetchNode {
	n := &FetchNode{}
	var fn workqueue.Func
	if onReady != nil {
		fn = func() { onReady(n) }
	}
	n.Base.Setup(queue, fn)
	return n
}

// MemoryBundle is the uniform asynchronous "fetch physical range" interface
// implemented by every leaf and composite memory object: HardwareMemory,
// AllocatedMemory, managed.BackingMemory, managed.FrontalMemory, and
// cow.CowBundle.
type MemoryBundle interface {
	// Peek returns a backing physical address for offset if one happens to
	// be present already, without blocking or triggering a fetch. The
	// result, when valid, is stable until the page is evicted; this core
	// never evicts a page a live mapping still references.
	Peek(offset uint64) (types.PhysicalAddress, bool)

	// Fetch resolves the physical range backing offset. It returns true if
	// the result (or a terminal error) is already known and has been
	// written into node; it returns false if node's completion callback
	// will be invoked later once the page becomes available.
	Fetch(offset uint64, node *FetchNode) bool
}
