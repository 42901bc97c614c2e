package bundle

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
)

// NewAllocatedMemory creates an anonymous, lazily zero-filled bundle of the
// given length, allocated in physically contiguous chunks of chunkSize
// aligned to chunkAlign.
func NewAllocatedMemory(alloc physical.Allocator, length, chunkSize, chunkAlign uint64) *AllocatedMemory {
	numChunks := (length + chunkSize - 1) / chunkSize
	return &AllocatedMemory{
		alloc:      alloc,
		length:     length,
		chunkSize:  chunkSize,
		chunkAlign: chunkAlign,
		chunks:     make([]types.PhysicalAddress, numChunks),
	}
}

// AllocatedMemory backs anonymous memory. Each chunk is allocated and
// zero-filled the first time it is fetched; chunks are never evicted.
type AllocatedMemory struct {
	mu sync.Mutex

	alloc      physical.Allocator
	length     uint64
	chunkSize  uint64
	chunkAlign uint64
	chunks     []types.PhysicalAddress
}

var _ MemoryBundle = (*AllocatedMemory)(nil)

// Length returns the current length of the bundle.
func (a *AllocatedMemory) Length() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length
}

// Resize grows the chunk vector to cover newLength. Shrinking is not
// supported.
func (a *AllocatedMemory) Resize(newLength uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if newLength <= a.length {
		return nil
	}
	numChunks := (newLength + a.chunkSize - 1) / a.chunkSize
	if numChunks > uint64(len(a.chunks)) {
		grown := make([]types.PhysicalAddress, numChunks)
		copy(grown, a.chunks)
		a.chunks = grown
	}
	a.length = newLength
	return nil
}

// Peek implements MemoryBundle.
func (a *AllocatedMemory) Peek(offset uint64) (types.PhysicalAddress, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := offset / a.chunkSize
	if offset >= a.length || idx >= uint64(len(a.chunks)) {
		return 0, false
	}
	chunk := a.chunks[idx]
	if !chunk.IsValid() {
		return 0, false
	}
	return chunk + types.PhysicalAddress(offset%a.chunkSize), true
}

// Fetch implements MemoryBundle. Always synchronous: allocation of a chunk
// never suspends, it either succeeds immediately or fails with
// vmerr.ErrOutOfMemory.
func (a *AllocatedMemory) Fetch(offset uint64, node *FetchNode) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := offset / a.chunkSize
	if offset >= a.length || idx >= uint64(len(a.chunks)) {
		node.Err = errors.WithStack(vmerr.ErrBadAddress)
		return true
	}

	chunk := a.chunks[idx]
	if !chunk.IsValid() {
		var err error
		chunk, err = a.alloc.AllocContiguous(a.chunkSize, a.chunkAlign)
		if err != nil {
			node.Err = errors.Wrap(vmerr.ErrOutOfMemory, err.Error())
			return true
		}
		a.alloc.Zero(chunk, a.chunkSize)
		a.chunks[idx] = chunk
	}

	chunkOffset := offset % a.chunkSize
	node.Phys = chunk + types.PhysicalAddress(chunkOffset)
	node.Size = a.chunkSize - chunkOffset
	return true
}
