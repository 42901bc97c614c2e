// Package cow implements CowBundle, a copy-on-write overlay
// chained either over a root VirtualView or over another CowBundle.
package cow

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/view"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/workqueue"
)

type waiter struct {
	node   *bundle.FetchNode
	offset uint64
}

type pendingCopy struct {
	waiters []waiter
}

// NewOverView creates a CowBundle overlaying root, windowed at
// [offset, offset+length).
func NewOverView(
	alloc physical.Allocator, queue workqueue.Poster, pageSize uint64,
	root view.VirtualView, offset, length uint64,
) *CowBundle {
	return newCowBundle(alloc, queue, pageSize, offset, length, root, nil)
}

// NewOverParent creates a CowBundle chained on top of parent.
func NewOverParent(
	alloc physical.Allocator, queue workqueue.Poster, pageSize uint64,
	parent *CowBundle, offset, length uint64,
) *CowBundle {
	return newCowBundle(alloc, queue, pageSize, offset, length, nil, parent)
}

func newCowBundle(
	alloc physical.Allocator, queue workqueue.Poster, pageSize, offset, length uint64,
	root view.VirtualView, parent *CowBundle,
) *CowBundle {
	return &CowBundle{
		alloc:    alloc,
		queue:    queue,
		pageSize: pageSize,
		offset:   offset,
		length:   length,
		rootView: root,
		parent:   parent,
		pages:    map[uint64]types.PhysicalAddress{},
		pending:  map[uint64]*pendingCopy{},
	}
}

// CowBundle overlays a root VirtualView or a parent CowBundle (exactly one
// is set) with a sparse map of locally-owned copies, one per page that has
// been written through since this overlay was created.
type CowBundle struct {
	mu sync.Mutex

	alloc    physical.Allocator
	queue    workqueue.Poster
	pageSize uint64
	offset   uint64
	length   uint64

	rootView view.VirtualView
	parent   *CowBundle

	pages   map[uint64]types.PhysicalAddress
	pending map[uint64]*pendingCopy
}

var _ bundle.MemoryBundle = (*CowBundle)(nil)

// Length returns the size of this overlay's window.
func (c *CowBundle) Length() uint64 {
	return c.length
}

// Peek implements bundle.MemoryBundle. It only ever reports a locally-owned
// copy; it never peeks through to the parent, since a parent-owned page is
// not stable once this overlay might copy-on-write it.
func (c *CowBundle) Peek(offset uint64) (types.PhysicalAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset >= c.length {
		return 0, false
	}
	p, ok := c.pages[offset/c.pageSize]
	return p, ok
}

// Fetch implements bundle.MemoryBundle.
func (c *CowBundle) Fetch(offset uint64, node *bundle.FetchNode) bool {
	if offset >= c.length {
		node.Err = errors.WithStack(vmerr.ErrBadAddress)
		return true
	}

	idx := offset / c.pageSize
	pageOffset := idx * c.pageSize
	inPage := offset - pageOffset

	c.mu.Lock()
	if p, ok := c.pages[idx]; ok {
		c.mu.Unlock()
		node.Phys = p
		node.Size = c.pageSize - inPage
		return true
	}

	if pc, ok := c.pending[idx]; ok {
		pc.waiters = append(pc.waiters, waiter{node: node, offset: offset})
		c.mu.Unlock()
		return false
	}

	c.pending[idx] = &pendingCopy{waiters: []waiter{{node: node, offset: offset}}}
	c.mu.Unlock()

	parentBundle, parentOffset, err := c.resolveParent(pageOffset)
	if err != nil {
		c.failPending(idx, err)
		return false
	}

	// Re-entrant fetches for the same page always complete through the
	// posted callback, even when the parent resolves synchronously. This
	// keeps the coalescing logic below race-free: a waiter may join the
	// pending set for as long as the copy has not been published, whether
	// or not the underlying fetch happened to be synchronous.
	parentNode := bundle.NewFetchNode(c.queue, func(pn *bundle.FetchNode) {
		c.completePending(idx, pageOffset, pn)
	})
	if parentBundle.Fetch(parentOffset, parentNode) {
		c.completePending(idx, pageOffset, parentNode)
	}
	return false
}

func (c *CowBundle) resolveParent(pageOffset uint64) (bundle.MemoryBundle, uint64, error) {
	parentOffset := c.offset + pageOffset
	if c.rootView != nil {
		bnd, off, _, err := c.rootView.ResolveRange(parentOffset, c.pageSize)
		if err != nil {
			return nil, 0, err
		}
		return bnd, off, nil
	}
	return c.parent, parentOffset, nil
}

func (c *CowBundle) failPending(idx uint64, err error) {
	c.mu.Lock()
	pc := c.pending[idx]
	delete(c.pending, idx)
	c.mu.Unlock()

	for _, w := range pc.waiters {
		w.node.Err = err
		w.node.Complete()
	}
}

// completePending allocates one fresh physical page per CowBundle per page
// index, copies the parent's page into it, publishes it, and completes
// every waiter that coalesced onto this fetch.
func (c *CowBundle) completePending(idx, pageOffset uint64, parentNode *bundle.FetchNode) {
	c.mu.Lock()
	pc := c.pending[idx]
	delete(c.pending, idx)

	if parentNode.Err != nil {
		c.mu.Unlock()
		for _, w := range pc.waiters {
			w.node.Err = parentNode.Err
			w.node.Complete()
		}
		return
	}

	// Another goroutine may have published this page already if it lost
	// the pending-map race between our unlock above and this lock; check
	// again before allocating a second physical page for the same index.
	if p, ok := c.pages[idx]; ok {
		c.mu.Unlock()
		for _, w := range pc.waiters {
			w.node.Phys = p
			w.node.Size = c.pageSize - (w.offset - pageOffset)
			w.node.Complete()
		}
		return
	}

	newPhys, err := c.alloc.AllocContiguous(c.pageSize, c.pageSize)
	if err != nil {
		c.mu.Unlock()
		wrapped := errors.Wrap(vmerr.ErrOutOfMemory, err.Error())
		for _, w := range pc.waiters {
			w.node.Err = wrapped
			w.node.Complete()
		}
		return
	}
	c.alloc.Copy(newPhys, parentNode.Phys, c.pageSize)
	c.pages[idx] = newPhys
	c.mu.Unlock()

	for _, w := range pc.waiters {
		w.node.Phys = newPhys
		w.node.Size = c.pageSize - (w.offset - pageOffset)
		w.node.Complete()
	}
}
