// Package view implements VirtualView, the immutable windowed
// projection of a MemoryBundle into address-space coordinates, and its
// concrete ExteriorBundleView.
package view

import (
	"github.com/pkg/errors"

	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/vmerr"
)

// VirtualView resolves an (offset, size) pair within its own window to a
// concrete bundle range. Implementations are immutable and safely shared
// across mappings.
type VirtualView interface {
	// ResolveRange maps [off, off+size) within the view to
	// (bundle, bundleOffset, usableSize), where 0 < usableSize <= size. It
	// fails with vmerr.ErrBadAddress if off is outside the view.
	ResolveRange(off uint64, size uint64) (bundle.MemoryBundle, uint64, uint64, error)
}

// NewExteriorBundleView wraps bundle so that offset 0 of the view
// corresponds to viewOffset within bundle, exposing viewSize bytes.
func NewExteriorBundleView(bnd bundle.MemoryBundle, viewOffset, viewSize uint64) *ExteriorBundleView {
	return &ExteriorBundleView{bundle: bnd, viewOffset: viewOffset, viewSize: viewSize}
}

// ExteriorBundleView is a VirtualView over a single bundle window.
type ExteriorBundleView struct {
	bundle     bundle.MemoryBundle
	viewOffset uint64
	viewSize   uint64
}

var _ VirtualView = (*ExteriorBundleView)(nil)

// Bundle returns the underlying bundle.
func (v *ExteriorBundleView) Bundle() bundle.MemoryBundle {
	return v.bundle
}

// Size returns the size of the view's window.
func (v *ExteriorBundleView) Size() uint64 {
	return v.viewSize
}

// ResolveRange implements VirtualView.
func (v *ExteriorBundleView) ResolveRange(off, size uint64) (bundle.MemoryBundle, uint64, uint64, error) {
	if off >= v.viewSize {
		return nil, 0, 0, errors.WithStack(vmerr.ErrBadAddress)
	}
	usable := size
	if remaining := v.viewSize - off; usable > remaining {
		usable = remaining
	}
	return v.bundle, v.viewOffset + off, usable, nil
}
