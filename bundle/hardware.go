package bundle

import (
	"github.com/pkg/errors"

	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
)

// NewHardwareMemory creates a bundle backing the fixed physical window
// [base, base+length) with an identity offset→base+offset map.
func NewHardwareMemory(base types.PhysicalAddress, length uint64) *HardwareMemory {
	return &HardwareMemory{base: base, length: length}
}

// HardwareMemory backs a fixed physical window, e.g. an MMIO region or a
// pre-existing physical allocation handed to the kernel at boot. Its length
// never changes: Resize always fails.
type HardwareMemory struct {
	base   types.PhysicalAddress
	length uint64
}

var _ MemoryBundle = (*HardwareMemory)(nil)

// Length returns the fixed length of the window.
func (h *HardwareMemory) Length() uint64 {
	return h.length
}

// Resize always fails: a HardwareMemory's length is fixed at construction.
func (h *HardwareMemory) Resize(uint64) error {
	return errors.WithStack(errors.Wrap(vmerr.ErrBadAddress, "hardware memory has fixed length"))
}

// Peek implements MemoryBundle. Always synchronous.
func (h *HardwareMemory) Peek(offset uint64) (types.PhysicalAddress, bool) {
	if offset >= h.length {
		return 0, false
	}
	return h.base + types.PhysicalAddress(offset), true
}

// Fetch implements MemoryBundle. Always synchronous.
func (h *HardwareMemory) Fetch(offset uint64, node *FetchNode) bool {
	if offset >= h.length {
		node.Err = errors.WithStack(vmerr.ErrBadAddress)
		return true
	}
	node.Phys = h.base + types.PhysicalAddress(offset)
	node.Size = h.length - offset
	return true
}
