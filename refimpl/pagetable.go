package refimpl

import (
	"sync"

	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/workqueue"
)

// NewPageTable creates a reference in-memory page table. Unmap's TLB
// shootdown is simulated by posting the ShootNode's completion to poster,
// mimicking the asynchronous acknowledgement a real cross-CPU shootdown
// would require.
func NewPageTable(poster workqueue.Poster) *PageTable {
	return &PageTable{
		entries: map[types.VirtualAddress]pageTableEntry{},
		poster:  poster,
	}
}

type pageTableEntry struct {
	phys types.PhysicalAddress
	prot types.Prot
}

// PageTable is a reference implementation of physical.PageTable backed by a
// map. It has no notion of real hardware TLBs; shootdown is a no-op besides
// the posted acknowledgement.
type PageTable struct {
	mu      sync.RWMutex
	entries map[types.VirtualAddress]pageTableEntry
	poster  workqueue.Poster
}

var _ physical.PageTable = (*PageTable)(nil)

// Map implements physical.PageTable.
func (pt *PageTable) Map(va types.VirtualAddress, phys types.PhysicalAddress, prot types.Prot) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.entries[va] = pageTableEntry{phys: phys, prot: prot}
	return nil
}

// Unmap implements physical.PageTable.
func (pt *PageTable) Unmap(va types.VirtualAddress, shoot *physical.ShootNode) {
	pt.mu.Lock()
	delete(pt.entries, va)
	pt.mu.Unlock()

	if shoot == nil {
		return
	}
	if pt.poster == nil {
		shoot.Complete()
		return
	}
	pt.poster.Post(shoot.Complete)
}

// Activate implements physical.PageTable. Reference implementation has no
// notion of "current CPU", so this is a no-op.
func (pt *PageTable) Activate() {}

// IsMapped implements physical.PageTable.
func (pt *PageTable) IsMapped(va types.VirtualAddress) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	_, ok := pt.entries[va]
	return ok
}

// Translate implements physical.PageTable.
func (pt *PageTable) Translate(va types.VirtualAddress) (types.PhysicalAddress, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	e, ok := pt.entries[va]
	return e.phys, ok
}
