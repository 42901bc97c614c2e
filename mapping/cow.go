package mapping

import (
	"github.com/pkg/errors"

	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/cow"
	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/view"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/workqueue"
)

// NewCowMapping creates a CowMapping over bnd, exposed through v.
func NewCowMapping(
	bnd *cow.CowBundle, v view.VirtualView, length uint64, prot types.Prot,
	alloc physical.Allocator, queue workqueue.Poster, pageSize uint64,
) *CowMapping {
	return &CowMapping{bundle: bnd, view: v, length: length, prot: prot, alloc: alloc, queue: queue, pageSize: pageSize}
}

// CowMapping is a Mapping backed by a cow.CowBundle: every fault, read or
// write, resolves through the overlay, which copies the page into local
// storage the first time it is touched.
type CowMapping struct {
	bundle *cow.CowBundle
	view   view.VirtualView
	length uint64
	prot   types.Prot

	alloc    physical.Allocator
	queue    workqueue.Poster
	pageSize uint64
}

var _ Mapping = (*CowMapping)(nil)

// Length implements Mapping.
func (m *CowMapping) Length() uint64 {
	return m.length
}

// Prot implements Mapping.
func (m *CowMapping) Prot() types.Prot {
	return m.prot
}

// HandleFault implements Mapping.
func (m *CowMapping) HandleFault(node *FaultNode) bool {
	if !m.prot.Allows(node.Flags) {
		node.Err = errors.WithStack(vmerr.ErrAccessDenied)
		return true
	}

	inner := bundle.NewFetchNode(node.Queue, func(f *bundle.FetchNode) {
		node.Phys = f.Phys
		node.Err = f.Err
		node.Complete()
	})
	if m.bundle.Fetch(node.Offset, inner) {
		node.Phys = inner.Phys
		node.Err = inner.Err
		return true
	}
	return false
}

// Fork implements Mapping. ForkShare keeps both sides pointed at the same
// overlay; ForkCopyOnWrite leaves the parent's mapping untouched (it remains
// CoW, unmodified) and chains a fresh overlay for the child on top of the
// current one, so pages the child privatizes stay private while everything
// else still shares the common ancestor; ForkDrop leaves the parent
// untouched.
func (m *CowMapping) Fork(disposition types.ForkDisposition) (Mapping, Mapping, error) {
	switch disposition {
	case types.ForkDrop:
		return m, nil, nil
	case types.ForkShare:
		return m, m, nil
	case types.ForkCopyOnWrite:
		childBundle := cow.NewOverParent(m.alloc, m.queue, m.pageSize, m.bundle, 0, m.length)
		childView := view.NewExteriorBundleView(childBundle, 0, m.length)
		child := NewCowMapping(childBundle, childView, m.length, m.prot, m.alloc, m.queue, m.pageSize)
		return m, child, nil
	default:
		return nil, nil, errors.WithStack(vmerr.ErrBadAddress)
	}
}
