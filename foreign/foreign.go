// Package foreign implements ForeignSpaceAccessor, bulk
// cross-address-space read/write without mapping the target range into the
// caller's own address space.
package foreign

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/uvm/addrspace"
	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/wnode"
	"github.com/outofforest/uvm/workqueue"
)

// AcquireNode is the caller-allocated completion record for
// Accessor.Acquire.
type AcquireNode struct {
	wnode.Base

	Address uint64
	Length  uint64
	// Write requests write access to the acquired region; leave it false to
	// acquire read-only access to a target region mapped without ProtWrite.
	Write bool
	Queue workqueue.Poster
	Err   error
}

// NewAcquireNode creates an AcquireNode covering [address, address+length),
// requesting read access. Set the returned node's Write field to true before
// calling Acquire if the caller intends to Write through this accessor.
func NewAcquireNode(address, length uint64, queue workqueue.Poster, onReady func(*AcquireNode)) *AcquireNode {
	n := &AcquireNode{Address: address, Length: length, Queue: queue}
	n.Base.Setup(queue, func() { onReady(n) })
	return n
}

// NewAccessor creates an Accessor over target, whose machine page table is
// pt. pt is passed separately from target because GetPhysical/Load/Write
// translate addresses directly against it, without going through target's
// hole/mapping lock at all once the region has been acquired.
func NewAccessor(target *addrspace.AddressSpace, pt physical.PageTable, alloc physical.Allocator, pageSize uint64) *Accessor {
	return &Accessor{target: target, pageTable: pt, alloc: alloc, pageSize: pageSize}
}

// Accessor is a live handle onto a range of another AddressSpace, acquired
// (fault-in and PTE-install every covered page) before any GetPhysical,
// Load or Write call is valid.
type Accessor struct {
	target    *addrspace.AddressSpace
	pageTable physical.PageTable
	alloc     physical.Allocator
	pageSize  uint64

	acquired bool
	address  uint64
	length   uint64
	write    bool
}

// Acquire drives a page fault in the target address space for every page in
// [node.Address, node.Address+node.Length), aggregating the first failure.
// For a non-empty range it always completes through the posted callback,
// even when every underlying fault happens to resolve synchronously, so that
// concurrently racing faults never need a second code path to fold their
// results together. An empty range starting on a page boundary is acquired
// at once: Acquire returns true and node's callback is not posted.
func (a *Accessor) Acquire(node *AcquireNode) bool {
	start := node.Address - node.Address%a.pageSize
	end := node.Address + node.Length
	if end <= start {
		a.address, a.length, a.acquired, a.write = node.Address, node.Length, true, node.Write
		return true
	}

	var flags types.FaultFlags
	if node.Write {
		flags = types.FaultWrite
	}

	var mu sync.Mutex
	pending := 1
	var firstErr error

	finish := func() {
		a.address, a.length = node.Address, node.Length
		a.acquired = firstErr == nil
		a.write = node.Write
		node.Err = firstErr
		node.Complete()
	}
	release := func(err error) {
		mu.Lock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
		pending--
		done := pending == 0
		mu.Unlock()
		if done {
			finish()
		}
	}

	for va := start; va < end; va += a.pageSize {
		mu.Lock()
		pending++
		mu.Unlock()

		fn := addrspace.NewFaultNode(types.VirtualAddress(va), flags, node.Queue, func(f *addrspace.FaultNode) {
			release(f.Err)
		})
		if a.target.HandleFault(fn) {
			release(fn.Err)
		}
	}
	release(nil)
	return false
}

func (a *Accessor) covers(offset, size uint64) bool {
	if !a.acquired {
		return false
	}
	return offset >= a.address && offset+size <= a.address+a.length
}

// GetPhysical translates address, which must lie within an already-acquired
// region, to a physical address.
func (a *Accessor) GetPhysical(address uint64) (types.PhysicalAddress, error) {
	if !a.covers(address, 1) {
		return 0, errors.WithStack(vmerr.ErrBadAddress)
	}
	inPage := address % a.pageSize
	phys, ok := a.pageTable.Translate(types.VirtualAddress(address - inPage))
	if !ok {
		return 0, errors.WithStack(vmerr.ErrBadAddress)
	}
	return phys + types.PhysicalAddress(inPage), nil
}

// walk splits [offset, offset+size) into per-page runs and invokes fn with
// the physical address of each byte range's start.
func (a *Accessor) walk(offset, size uint64, fn func(phys types.PhysicalAddress, chunkOffset, chunkSize uint64)) error {
	if !a.covers(offset, size) {
		return errors.WithStack(vmerr.ErrBadAddress)
	}

	remaining := size
	cur := offset
	var done uint64
	for remaining > 0 {
		pageBase := cur - cur%a.pageSize
		inPage := cur - pageBase
		chunk := a.pageSize - inPage
		if chunk > remaining {
			chunk = remaining
		}

		phys, ok := a.pageTable.Translate(types.VirtualAddress(pageBase))
		if !ok {
			return errors.WithStack(vmerr.ErrBadAddress)
		}
		fn(phys+types.PhysicalAddress(inPage), done, chunk)

		cur += chunk
		done += chunk
		remaining -= chunk
	}
	return nil
}

// Load copies len(dst) bytes starting at offset into dst.
func (a *Accessor) Load(offset uint64, dst []byte) error {
	return a.walk(offset, uint64(len(dst)), func(phys types.PhysicalAddress, chunkOffset, chunkSize uint64) {
		a.alloc.Read(phys, dst[chunkOffset:chunkOffset+chunkSize])
	})
}

// Write copies src into the acquired region starting at offset. The region
// must have been acquired with Write set on the AcquireNode.
func (a *Accessor) Write(offset uint64, src []byte) error {
	if !a.write {
		return errors.WithStack(vmerr.ErrAccessDenied)
	}
	return a.walk(offset, uint64(len(src)), func(phys types.PhysicalAddress, chunkOffset, chunkSize uint64) {
		a.alloc.Write(phys, src[chunkOffset:chunkOffset+chunkSize])
	})
}
