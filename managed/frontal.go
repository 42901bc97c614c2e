package managed

import (
	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/workqueue"
)

// NewFrontalMemory wraps managed as the kernel-side pager client.
func NewFrontalMemory(managed *ManagedSpace, queue workqueue.Poster) *FrontalMemory {
	return &FrontalMemory{managed: managed, queue: queue}
}

// FrontalMemory is the client-facing MemoryBundle over a ManagedSpace: it
// may issue SubmitInitiateLoad requests.
type FrontalMemory struct {
	managed *ManagedSpace
	queue   workqueue.Poster
}

var _ bundle.MemoryBundle = (*FrontalMemory)(nil)

// SubmitInitiateLoad hands an initiate node to the ManagedSpace's pairing
// logic directly, exposed for callers that want to prefetch a whole range
// without per-page FetchNodes.
func (f *FrontalMemory) SubmitInitiateLoad(node *InitiateNode) {
	f.managed.SubmitInitiateLoad(node)
}

// Peek implements bundle.MemoryBundle.
func (f *FrontalMemory) Peek(offset uint64) (types.PhysicalAddress, bool) {
	return f.managed.Peek(offset)
}

// Fetch implements bundle.MemoryBundle. If the page is already Loaded it
// returns synchronously; otherwise it queues an internal one-page initiate
// load and completes the FetchNode when that page becomes available.
func (f *FrontalMemory) Fetch(offset uint64, node *bundle.FetchNode) bool {
	if phys, ok := f.managed.Peek(offset); ok {
		node.Phys = phys
		node.Size = f.managed.pageSize - offset%f.managed.pageSize
		return true
	}

	pageOffset := offset - offset%f.managed.pageSize
	initiate := NewInitiateNode(pageOffset, f.managed.pageSize, f.queue, func(in *InitiateNode) {
		if in.Err != nil {
			node.Err = in.Err
			node.Complete()
			return
		}
		phys, ok := f.managed.Peek(offset)
		if !ok {
			// Should not happen: the initiate node only completes once every
			// page in its range is Loaded.
			node.Err = in.Err
			node.Complete()
			return
		}
		node.Phys = phys
		node.Size = f.managed.pageSize - offset%f.managed.pageSize
		node.Complete()
	})

	f.managed.SubmitInitiateLoad(initiate)
	return false
}
