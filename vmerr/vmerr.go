// Package vmerr defines the error taxonomy shared by every layer of the
// virtual memory subsystem.
package vmerr

import "github.com/pkg/errors"

// Kind classifies an error into one of the abstract kinds a caller may need
// to switch on, independently of the wrapped message.
type Kind int

// Kind values.
const (
	// KindUnknown is returned by Classify for errors not produced by this package.
	KindUnknown Kind = iota
	KindBufferTooSmall
	KindBadAddress
	KindOutOfMemory
	KindAccessDenied
	KindFault
	KindPagerGone
)

// Sentinel errors. Wrap with errors.Wrap/errors.Wrapf to add context; compare
// with errors.Is.
var (
	// ErrBufferTooSmall means the caller-provided region was too small for the operation.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBadAddress means a virtual address is not covered by any mapping, is
	// unaligned, or falls outside a view's bounds.
	ErrBadAddress = errors.New("bad address")

	// ErrOutOfMemory means the physical or virtual allocator is exhausted.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrAccessDenied means fault flags are incompatible with mapping protection.
	ErrAccessDenied = errors.New("access denied")

	// ErrFault means an unrecoverable internal violation occurred, such as a
	// Backing fetch against a page that is not Loaded.
	ErrFault = errors.New("fault")

	// ErrPagerGone means the user-space pager for a ManagedSpace is unreachable.
	ErrPagerGone = errors.New("pager gone")
)

var kinds = map[error]Kind{
	ErrBufferTooSmall: KindBufferTooSmall,
	ErrBadAddress:     KindBadAddress,
	ErrOutOfMemory:    KindOutOfMemory,
	ErrAccessDenied:   KindAccessDenied,
	ErrFault:          KindFault,
	ErrPagerGone:      KindPagerGone,
}

// Classify maps err to its Kind by walking its cause chain against the
// sentinels above. It returns KindUnknown for nil or unrecognized errors.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}
