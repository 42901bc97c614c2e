// Package mapping implements Mapping, the per-VMA object an
// AddressSpace consults on every fault and every fork, in its two
// concrete flavors NormalMapping and CowMapping.
package mapping

import (
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/wnode"
	"github.com/outofforest/uvm/workqueue"
)

// FaultNode is the caller-allocated completion record for
// Mapping.HandleFault.
type FaultNode struct {
	wnode.Base

	// Queue is the same poster the node was set up with; mappings that
	// need to chain an inner bundle.FetchNode read it back from here
	// rather than threading a separate queue argument everywhere.
	Queue workqueue.Poster

	Offset uint64
	Flags  types.FaultFlags

	Phys types.PhysicalAddress
	Err  error
}

// NewFaultNode creates a FaultNode for a fault at offset (relative to the
// mapping's own base) with the given access flags.
func NewFaultNode(offset uint64, flags types.FaultFlags, queue workqueue.Poster, onReady func(*FaultNode)) *FaultNode {
	n := &FaultNode{Queue: queue, Offset: offset, Flags: flags}
	n.Base.Setup(queue, func() { onReady(n) })
	return n
}

// Mapping is the fault- and fork-handling face of one virtual memory area.
// Offsets passed to HandleFault are relative to the mapping's own base, not
// to the containing AddressSpace.
type Mapping interface {
	// Length returns the size, in bytes, of the mapping's range.
	Length() uint64

	// Prot returns the mapping's current protection bits.
	Prot() types.Prot

	// HandleFault resolves the physical page backing offset, checking it
	// against the requested access flags first. It follows the same
	// synchronous/asynchronous return contract as bundle.MemoryBundle.Fetch.
	HandleFault(node *FaultNode) bool

	// Fork applies disposition to this mapping during AddressSpace.Fork. It
	// returns the (possibly updated) mapping to keep installed in the
	// parent and the mapping to install in the child. For ForkDrop, child
	// is nil and parent is returned unchanged.
	Fork(disposition types.ForkDisposition) (parent Mapping, child Mapping, err error)
}
