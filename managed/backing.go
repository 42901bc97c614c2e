package managed

import (
	"github.com/pkg/errors"

	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
)

// NewBackingMemory wraps managed as the user-space pager's side.
func NewBackingMemory(managed *ManagedSpace) *BackingMemory {
	return &BackingMemory{managed: managed}
}

// BackingMemory is the pager-facing MemoryBundle over a ManagedSpace: it may
// accept SubmitManage requests and report CompleteLoad.
type BackingMemory struct {
	managed *ManagedSpace
}

var _ bundle.MemoryBundle = (*BackingMemory)(nil)

// SubmitManage hands a manage node to the ManagedSpace's pairing logic.
func (b *BackingMemory) SubmitManage(node *ManageNode) {
	b.managed.SubmitManage(node)
}

// CompleteLoad reports that the pager has populated [offset, offset+length).
func (b *BackingMemory) CompleteLoad(offset, length uint64) {
	b.managed.CompleteLoad(offset, length)
}

// Peek implements bundle.MemoryBundle.
func (b *BackingMemory) Peek(offset uint64) (types.PhysicalAddress, bool) {
	return b.managed.Peek(offset)
}

// Fetch implements bundle.MemoryBundle. Only valid for pages the pager has
// already populated: the Backing side must never wait on its own pager. A
// fetch against a page that is not yet Loaded fails with vmerr.ErrFault.
func (b *BackingMemory) Fetch(offset uint64, node *bundle.FetchNode) bool {
	phys, ok := b.managed.Peek(offset)
	if !ok {
		node.Err = errors.WithStack(vmerr.ErrFault)
		return true
	}
	node.Phys = phys
	node.Size = b.managed.pageSize - offset%b.managed.pageSize
	return true
}
