// Package physical declares the external collaborators the virtual memory
// core consumes but does not implement: the physical page allocator and the
// machine-level page table. Both are out of scope for this repository's
// core; refimpl provides mmap-backed reference implementations used by
// tests and benchmarks.
package physical

import "github.com/outofforest/uvm/types"

// Allocator is the physical page allocator. Implementations may fail with
// vmerr.ErrOutOfMemory.
type Allocator interface {
	// AllocPage allocates a single page-sized, page-aligned physical range.
	AllocPage() (types.PhysicalAddress, error)

	// AllocContiguous allocates a physically contiguous range of size bytes
	// aligned to align bytes.
	AllocContiguous(size, align uint64) (types.PhysicalAddress, error)

	// Free releases a range previously returned by AllocPage or
	// AllocContiguous. size must match the size used at allocation time.
	Free(addr types.PhysicalAddress, size uint64)

	// Zero clears size bytes at addr to zero. Used to zero-fill freshly
	// allocated AllocatedMemory chunks.
	Zero(addr types.PhysicalAddress, size uint64)

	// Read copies len(dst) bytes starting at addr into dst.
	Read(addr types.PhysicalAddress, dst []byte)

	// Write copies src into the len(src) bytes starting at addr.
	Write(addr types.PhysicalAddress, src []byte)

	// Copy copies size bytes from src to dst, both physical addresses.
	Copy(dst, src types.PhysicalAddress, size uint64)
}

// ShootNode represents an in-flight TLB shootdown. It is posted to the page
// table layer by PageTable.Unmap and completes asynchronously once every CPU
// that may have cached the translation has acknowledged the invalidation.
type ShootNode struct {
	// Done is invoked by the page-table layer when every CPU has
	// acknowledged the shootdown. The caller sets this before passing the
	// node to Unmap.
	Done func()
}

// Complete is invoked by a PageTable implementation once shootdown finishes.
func (s *ShootNode) Complete() {
	if s.Done != nil {
		s.Done()
	}
}

// PageTable is the machine-level page table for one AddressSpace.
type PageTable interface {
	// Map installs a translation from va to phys with the given protection.
	Map(va types.VirtualAddress, phys types.PhysicalAddress, prot types.Prot) error

	// Unmap removes the translation for va. The shootdown node's Done
	// callback fires once the invalidation is acknowledged by every CPU that
	// may have cached the translation; until then the stale translation may
	// still be observed by other CPUs, which is harmless because the
	// physical page it points to is not freed until shootdown completes.
	Unmap(va types.VirtualAddress, shoot *ShootNode)

	// Activate switches the current CPU to this page table.
	Activate()

	// IsMapped reports whether va currently has a translation installed.
	IsMapped(va types.VirtualAddress) bool

	// Translate returns the physical address va is mapped to, if any.
	Translate(va types.VirtualAddress) (types.PhysicalAddress, bool)
}
