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

// NewNormalMapping creates a NormalMapping of length bytes over view with
// the given protection. alloc, queue and pageSize are retained only to seed
// any CowBundle a later ForkCopyOnWrite might need.
func NewNormalMapping(
	v view.VirtualView, length uint64, prot types.Prot,
	alloc physical.Allocator, queue workqueue.Poster, pageSize uint64,
) *NormalMapping {
	return &NormalMapping{view: v, length: length, prot: prot, alloc: alloc, queue: queue, pageSize: pageSize}
}

// NormalMapping is a Mapping over a plain VirtualView: no local page
// ownership, every fault resolves straight through to the view's bundle.
type NormalMapping struct {
	view   view.VirtualView
	length uint64
	prot   types.Prot

	alloc    physical.Allocator
	queue    workqueue.Poster
	pageSize uint64
}

var _ Mapping = (*NormalMapping)(nil)

// Length implements Mapping.
func (m *NormalMapping) Length() uint64 {
	return m.length
}

// Prot implements Mapping.
func (m *NormalMapping) Prot() types.Prot {
	return m.prot
}

// HandleFault implements Mapping.
func (m *NormalMapping) HandleFault(node *FaultNode) bool {
	if !m.prot.Allows(node.Flags) {
		node.Err = errors.WithStack(vmerr.ErrAccessDenied)
		return true
	}

	bnd, bOff, _, err := m.view.ResolveRange(node.Offset, 1)
	if err != nil {
		node.Err = err
		return true
	}

	inner := bundle.NewFetchNode(node.Queue, func(f *bundle.FetchNode) {
		node.Phys = f.Phys
		node.Err = f.Err
		node.Complete()
	})
	if bnd.Fetch(bOff, inner) {
		node.Phys = inner.Phys
		node.Err = inner.Err
		return true
	}
	return false
}

// Fork implements Mapping. ForkShare hands both sides the same
// NormalMapping; ForkCopyOnWrite wraps the shared view in a fresh CowBundle
// per side so that writes on either side diverge independently;
// ForkDrop leaves the parent untouched and produces no child.
func (m *NormalMapping) Fork(disposition types.ForkDisposition) (Mapping, Mapping, error) {
	switch disposition {
	case types.ForkDrop:
		return m, nil, nil
	case types.ForkShare:
		return m, m, nil
	case types.ForkCopyOnWrite:
		parentBundle := cow.NewOverView(m.alloc, m.queue, m.pageSize, m.view, 0, m.length)
		childBundle := cow.NewOverView(m.alloc, m.queue, m.pageSize, m.view, 0, m.length)
		parentView := view.NewExteriorBundleView(parentBundle, 0, m.length)
		childView := view.NewExteriorBundleView(childBundle, 0, m.length)
		parent := NewCowMapping(parentBundle, parentView, m.length, m.prot, m.alloc, m.queue, m.pageSize)
		child := NewCowMapping(childBundle, childView, m.length, m.prot, m.alloc, m.queue, m.pageSize)
		return parent, child, nil
	default:
		return nil, nil, errors.WithStack(vmerr.ErrBadAddress)
	}
}
