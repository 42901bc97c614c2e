// Package addrspace implements AddressSpace, the per-process
// container that ties a hole tree, an installed-mapping index and a
// machine page table together behind a single lock, plus the futex table
// that rides along with it.
package addrspace

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/uvm/holetree"
	"github.com/outofforest/uvm/mapping"
	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/workqueue"
)

type installedMapping struct {
	m           mapping.Mapping
	disposition types.ForkDisposition
}

// inlinePoster runs its callback immediately, on the caller's goroutine. It
// is used only by populate, which wants Map to finish before it returns.
type inlinePoster struct{}

func (inlinePoster) Post(fn workqueue.Func) { fn() }

// FaultNode is the caller-allocated completion record for
// AddressSpace.HandleFault.
type FaultNode struct {
	VA    types.VirtualAddress
	Flags types.FaultFlags
	Queue workqueue.Poster
	Err   error

	base faultBase
}

type faultBase struct {
	onReady func()
}

func (b *faultBase) complete(node *FaultNode) {
	if node.Queue == nil || b.onReady == nil {
		return
	}
	node.Queue.Post(b.onReady)
}

// NewFaultNode creates a FaultNode for a fault at va with the given access
// flags.
func NewFaultNode(va types.VirtualAddress, flags types.FaultFlags, queue workqueue.Poster, onReady func(*FaultNode)) *FaultNode {
	n := &FaultNode{VA: va, Flags: flags, Queue: queue}
	n.base.onReady = func() { onReady(n) }
	return n
}

// New creates an AddressSpace managing [userBase, userBase+userLength) in
// pageSize-sized pages, backed by pt.
func New(pt physical.PageTable, userBase, userLength, pageSize uint64) *AddressSpace {
	return &AddressSpace{
		pageTable:  pt,
		holes:      holetree.New(userBase, userLength),
		pageSize:   pageSize,
		userBase:   userBase,
		userLength: userLength,
		Futexes:    NewFutexTable(),
	}
}

// AddressSpace is the per-process virtual address space: a free-hole index,
// an installed-mapping index and a machine page table, all guarded by one
// lock. Lock ordering across the whole subsystem is AddressSpace, then
// Mapping, then bundle, then the physical allocator; completions are always
// posted outside of this lock.
type AddressSpace struct {
	mu sync.Mutex

	pageTable  physical.PageTable
	holes      *holetree.Tree
	mappings   holetree.MappingTree
	pageSize   uint64
	userBase   uint64
	userLength uint64

	// Futexes is the futex wait/wake table associated with this address
	// space.
	Futexes *FutexTable
}

// Map installs m at addr (if flags carries MapFixed) or at an
// allocator-chosen address, returning the address it ended up at.
// disposition governs what a later Fork does with this mapping.
func (a *AddressSpace) Map(
	m mapping.Mapping, disposition types.ForkDisposition, addr types.VirtualAddress, flags types.MapFlags,
) (types.VirtualAddress, error) {
	a.mu.Lock()

	length := m.Length()
	var start uint64
	if flags&types.MapFixed != 0 {
		start = uint64(addr)
		if !a.holes.FindFixed(start, length) {
			a.mu.Unlock()
			return 0, errors.WithStack(vmerr.ErrBadAddress)
		}
	} else {
		var ok bool
		if flags&types.MapPreferTop != 0 {
			start, _, ok = a.holes.FindTopDown(length)
		} else {
			start, _, ok = a.holes.FindBottomUp(length)
		}
		if !ok {
			a.mu.Unlock()
			return 0, errors.WithStack(vmerr.ErrOutOfMemory)
		}
	}

	a.holes.Reserve(start, length)
	a.mappings.Insert(holetree.Entry{Start: start, Length: length, Value: installedMapping{m, disposition}})
	a.mu.Unlock()

	if flags&types.MapPopulate != 0 {
		a.populate(start, length, m)
	}
	return types.VirtualAddress(start), nil
}

// Unmap removes every mapping in [addr, addr+length). The range may span
// several whole mappings, but every mapping it touches must be fully
// contained in the range with no gap between consecutive mappings and no
// gap at either edge; if any mapping is only partially covered, the whole
// call fails with vmerr.ErrBadAddress and nothing is unmapped.
func (a *AddressSpace) Unmap(addr types.VirtualAddress, length uint64) error {
	a.mu.Lock()
	start := uint64(addr)
	end := start + length

	entries := a.mappings.Range(start, length)
	pos := start
	for _, e := range entries {
		if e.Start != pos || e.Start+e.Length > end {
			a.mu.Unlock()
			return errors.WithStack(vmerr.ErrBadAddress)
		}
		pos = e.Start + e.Length
	}
	if pos != end {
		a.mu.Unlock()
		return errors.WithStack(vmerr.ErrBadAddress)
	}

	for _, e := range entries {
		a.mappings.Remove(e.Start)
		a.holes.Release(e.Start, e.Length)
	}
	a.mu.Unlock()

	a.invalidateRange(start, length)
	return nil
}

// invalidateRange unmaps and waits for shootdown acknowledgment across every
// mapped page in [start, start+length). It touches only the page table, so
// it is safe to call with a.mu held or not.
func (a *AddressSpace) invalidateRange(start, length uint64) {
	var wg sync.WaitGroup
	for off := uint64(0); off < length; off += a.pageSize {
		va := types.VirtualAddress(start + off)
		if !a.pageTable.IsMapped(va) {
			continue
		}
		wg.Add(1)
		a.pageTable.Unmap(va, &physical.ShootNode{Done: wg.Done})
	}
	wg.Wait()
}

// HandleFault resolves a page fault at node.VA, installing the resulting
// translation into the machine page table before completing. It follows the
// synchronous/asynchronous return contract shared with bundle.MemoryBundle.
func (a *AddressSpace) HandleFault(node *FaultNode) bool {
	a.mu.Lock()
	entry, ok := a.mappings.Find(uint64(node.VA))
	if !ok {
		a.mu.Unlock()
		node.Err = errors.WithStack(vmerr.ErrBadAddress)
		return true
	}
	im := entry.Value.(installedMapping)
	a.mu.Unlock()

	relOffset := uint64(node.VA) - entry.Start
	pageOffset := relOffset - relOffset%a.pageSize
	mappingBase := entry.Start

	inner := mapping.NewFaultNode(pageOffset, node.Flags, node.Queue, func(f *mapping.FaultNode) {
		node.Err = a.installFault(mappingBase, pageOffset, im.m, f)
		node.base.complete(node)
	})
	if im.m.HandleFault(inner) {
		node.Err = a.installFault(mappingBase, pageOffset, im.m, inner)
		return true
	}
	return false
}

func (a *AddressSpace) installFault(mappingBase, pageOffset uint64, m mapping.Mapping, f *mapping.FaultNode) error {
	if f.Err != nil {
		return f.Err
	}
	return a.pageTable.Map(types.VirtualAddress(mappingBase+pageOffset), f.Phys, m.Prot())
}

func (a *AddressSpace) populate(start, length uint64, m mapping.Mapping) {
	for off := uint64(0); off < length; off += a.pageSize {
		pageStart := start + off
		onComplete := func(f *mapping.FaultNode) {
			if f.Err == nil {
				_ = a.pageTable.Map(types.VirtualAddress(pageStart), f.Phys, m.Prot())
			}
		}
		node := mapping.NewFaultNode(off, types.FaultWrite, inlinePoster{}, onComplete)
		if m.HandleFault(node) {
			onComplete(node)
		}
	}
}

// Fork creates a child AddressSpace sharing the same address layout, backed
// by childPageTable. Each installed mapping is forked according to the
// disposition it was mapped with; a mapping whose disposition changes the
// parent's own Mapping (ForkCopyOnWrite) has its parent-side page table
// translations invalidated so future faults re-resolve through the new
// overlay instead of the pre-fork physical pages.
func (a *AddressSpace) Fork(childPageTable physical.PageTable) *AddressSpace {
	a.mu.Lock()
	defer a.mu.Unlock()

	child := &AddressSpace{
		pageTable:  childPageTable,
		holes:      holetree.New(a.userBase, a.userLength),
		pageSize:   a.pageSize,
		userBase:   a.userBase,
		userLength: a.userLength,
		Futexes:    NewFutexTable(),
	}

	for _, e := range append([]holetree.Entry(nil), a.mappings.All()...) {
		im := e.Value.(installedMapping)
		newParent, newChild, err := im.m.Fork(im.disposition)
		if err != nil {
			continue
		}

		if newParent != im.m {
			a.mappings.Remove(e.Start)
			a.mappings.Insert(holetree.Entry{Start: e.Start, Length: e.Length, Value: installedMapping{newParent, im.disposition}})
			a.invalidateRange(e.Start, e.Length)
		}

		if newChild != nil {
			child.holes.Reserve(e.Start, e.Length)
			child.mappings.Insert(holetree.Entry{Start: e.Start, Length: e.Length, Value: installedMapping{newChild, im.disposition}})
		}
	}

	return child
}

// Activate switches the current CPU to this address space's page table.
func (a *AddressSpace) Activate() {
	a.pageTable.Activate()
}
