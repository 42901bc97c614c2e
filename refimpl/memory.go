// Package refimpl provides reference implementations of the external
// collaborators declared in package physical: an mmap-backed physical page
// allocator and a map-backed machine page table. They exist for this module's own
// tests and benchmarks; a production embedder of this virtual memory core
// is expected to supply its own, backed by real hardware page tables and a
// real physical frame allocator.
package refimpl

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/outofforest/photon"

	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
)

// PageSize is the page size assumed by this reference implementation.
const PageSize = 4096

// NewPhysicalMemory mmaps size bytes of anonymous memory to stand in for
// physical RAM and returns an allocator over it plus a cleanup func.
func NewPhysicalMemory(size uint64) (*PhysicalMemory, func(), error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "physical memory allocation failed")
	}

	return &PhysicalMemory{
			dataP: unsafe.Pointer(&data[0]),
			free:  map[uint64][]types.PhysicalAddress{},
			bump:  1, // reserve address 0 as "no page"
			total: size,
		}, func() {
			_ = unix.Munmap(data)
		}, nil
}

// PhysicalMemory is a bump-and-freelist allocator over an mmapped arena. It
// implements physical.Allocator.
type PhysicalMemory struct {
	mu    sync.Mutex
	dataP unsafe.Pointer
	free  map[uint64][]types.PhysicalAddress
	bump  uint64
	total uint64
}

// AllocPage implements physical.Allocator.
func (m *PhysicalMemory) AllocPage() (types.PhysicalAddress, error) {
	return m.AllocContiguous(PageSize, PageSize)
}

// AllocContiguous implements physical.Allocator.
func (m *PhysicalMemory) AllocContiguous(size, align uint64) (types.PhysicalAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pool := m.free[size]; len(pool) > 0 {
		addr := pool[len(pool)-1]
		m.free[size] = pool[:len(pool)-1]
		return addr, nil
	}

	start := (m.bump + align - 1) / align * align
	if start+size > m.total {
		return 0, errors.WithStack(vmerr.ErrOutOfMemory)
	}
	m.bump = start + size
	return types.PhysicalAddress(start), nil
}

// Free implements physical.Allocator.
func (m *PhysicalMemory) Free(addr types.PhysicalAddress, size uint64) {
	if addr == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[size] = append(m.free[size], addr)
}

// Zero implements physical.Allocator.
func (m *PhysicalMemory) Zero(addr types.PhysicalAddress, size uint64) {
	clear(m.slice(addr, size))
}

// Read implements physical.Allocator.
func (m *PhysicalMemory) Read(addr types.PhysicalAddress, dst []byte) {
	copy(dst, m.slice(addr, uint64(len(dst))))
}

// Write implements physical.Allocator.
func (m *PhysicalMemory) Write(addr types.PhysicalAddress, src []byte) {
	copy(m.slice(addr, uint64(len(src))), src)
}

// Copy implements physical.Allocator.
func (m *PhysicalMemory) Copy(dst, src types.PhysicalAddress, size uint64) {
	copy(m.slice(dst, size), m.slice(src, size))
}

func (m *PhysicalMemory) slice(addr types.PhysicalAddress, size uint64) []byte {
	return photon.SliceFromPointer[byte](unsafe.Add(m.dataP, uint64(addr)), int(size))
}
