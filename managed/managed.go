// Package managed implements ManagedSpace, the pager-backed state machine,
// and its two MemoryBundle faces, BackingMemory (the user-space pager's
// side) and FrontalMemory (the client's side).
package managed

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/uvm/physical"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/wnode"
	"github.com/outofforest/uvm/workqueue"
)

// LoadState is the per-page state tracked by a ManagedSpace.
type LoadState int

// LoadState values.
const (
	StateMissing LoadState = iota
	StateLoading
	StateLoaded
)

// InitiateNode is the Frontal side's completion record for a load request.
type InitiateNode struct {
	wnode.Base

	Offset uint64
	Length uint64
	Err    error
}

// NewInitiateNode creates an InitiateNode covering [offset, offset+length).
func NewInitiateNode(offset, length uint64, queue workqueue.Poster, onReady func(*InitiateNode)) *InitiateNode {
	n := &InitiateNode{Offset: offset, Length: length}
	n.Base.Setup(queue, func() { onReady(n) })
	return n
}

// ManageNode is the Backing side's completion record handed out by the pager.
// progressLoads fills Offset/Size once the node is paired with a Missing page.
type ManageNode struct {
	wnode.Base

	Offset uint64
	Size   uint64
	Err    error
}

// NewManageNode creates an unpaired ManageNode.
func NewManageNode(queue workqueue.Poster, onReady func(*ManageNode)) *ManageNode {
	n := &ManageNode{}
	n.Base.Setup(queue, func() { onReady(n) })
	return n
}

// NewManagedSpace creates a ManagedSpace of length bytes, tracked in
// page-sized slots.
func NewManagedSpace(alloc physical.Allocator, length, pageSize uint64) *ManagedSpace {
	numPages := (length + pageSize - 1) / pageSize
	return &ManagedSpace{
		alloc:         alloc,
		length:        length,
		pageSize:      pageSize,
		physicalPages: make([]types.PhysicalAddress, numPages),
		loadState:     make([]LoadState, numPages),
	}
}

// ManagedSpace couples a Backing (pager) side to a Frontal (client) side. A
// single lock guards all of its state.
type ManagedSpace struct {
	mu sync.Mutex

	alloc    physical.Allocator
	length   uint64
	pageSize uint64

	physicalPages []types.PhysicalAddress
	loadState     []LoadState

	initiateLoadQueue  []*InitiateNode
	pendingLoadQueue   []*InitiateNode
	completedLoadQueue []*InitiateNode

	submittedManageQueue []*ManageNode
	completedManageQueue []*ManageNode

	pagerGone bool
}

// Length returns the length of the managed range.
func (m *ManagedSpace) Length() uint64 {
	return m.length
}

func (m *ManagedSpace) pageIndex(offset uint64) uint64 {
	return offset / m.pageSize
}

// pageRange returns the half-open [start, end) page index range covered by
// [offset, offset+length).
func (m *ManagedSpace) pageRange(offset, length uint64) (uint64, uint64) {
	if length == 0 {
		idx := m.pageIndex(offset)
		return idx, idx
	}
	start := m.pageIndex(offset)
	end := m.pageIndex(offset+length-1) + 1
	if end > uint64(len(m.loadState)) {
		end = uint64(len(m.loadState))
	}
	return start, end
}

// peekLocked returns the physical page backing offset if it is Loaded.
func (m *ManagedSpace) peekLocked(offset uint64) (types.PhysicalAddress, bool) {
	idx := m.pageIndex(offset)
	if idx >= uint64(len(m.loadState)) || m.loadState[idx] != StateLoaded {
		return 0, false
	}
	return m.physicalPages[idx], true
}

// Peek implements the non-blocking half of MemoryBundle for both faces.
func (m *ManagedSpace) Peek(offset uint64) (types.PhysicalAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peekLocked(offset)
}

// SubmitInitiateLoad enqueues a Frontal load request and progresses the
// state machine.
func (m *ManagedSpace) SubmitInitiateLoad(node *InitiateNode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pagerGone {
		node.Err = errors.WithStack(vmerr.ErrPagerGone)
		node.Complete()
		return
	}

	m.initiateLoadQueue = append(m.initiateLoadQueue, node)
	m.progressLoads()
}

// SubmitManage enqueues a Backing manage node and progresses the state
// machine.
func (m *ManagedSpace) SubmitManage(node *ManageNode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pagerGone {
		node.Err = errors.WithStack(vmerr.ErrPagerGone)
		node.Complete()
		return
	}

	m.submittedManageQueue = append(m.submittedManageQueue, node)
	m.progressLoads()
}

// CompleteLoad transitions every Loading page in [offset, offset+length) to
// Loaded and progresses the state machine.
func (m *ManagedSpace) CompleteLoad(offset, length uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, end := m.pageRange(offset, length)
	for i := start; i < end; i++ {
		if m.loadState[i] == StateLoading {
			m.loadState[i] = StateLoaded
		}
	}
	m.progressLoads()
}

// MarkPagerGone fails every outstanding initiator with vmerr.ErrPagerGone.
// Already-loaded pages remain usable: their physical pages are owned by the
// ManagedSpace, not the pager.
func (m *ManagedSpace) MarkPagerGone() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pagerGone = true

	for _, node := range m.submittedManageQueue {
		node.Err = errors.WithStack(vmerr.ErrPagerGone)
		node.Complete()
	}
	m.submittedManageQueue = nil

	for _, node := range m.initiateLoadQueue {
		node.Err = errors.WithStack(vmerr.ErrPagerGone)
		node.Complete()
	}
	m.initiateLoadQueue = nil

	for _, node := range m.pendingLoadQueue {
		node.Err = errors.WithStack(vmerr.ErrPagerGone)
		node.Complete()
	}
	m.pendingLoadQueue = nil
}

// progressLoads must be called with m.mu held. It matches pending Missing
// pages to queued manage nodes, then promotes fully-matched initiators, then
// completes fully-loaded initiators — a strict FIFO scan at each stage.
func (m *ManagedSpace) progressLoads() {
	for len(m.submittedManageQueue) > 0 {
		pageIdx, found := m.firstMissingRequestedPage()
		if !found {
			break
		}

		manageNode := m.submittedManageQueue[0]
		m.submittedManageQueue = m.submittedManageQueue[1:]

		phys, err := m.alloc.AllocPage()
		if err != nil {
			manageNode.Err = errors.Wrap(vmerr.ErrOutOfMemory, err.Error())
			manageNode.Complete()
			continue
		}

		m.physicalPages[pageIdx] = phys
		m.loadState[pageIdx] = StateLoading

		manageNode.Offset = pageIdx * m.pageSize
		manageNode.Size = m.pageSize
		m.completedManageQueue = append(m.completedManageQueue, manageNode)
		manageNode.Complete()
	}

	for len(m.initiateLoadQueue) > 0 {
		head := m.initiateLoadQueue[0]
		if m.hasMissingPage(head) {
			break
		}
		m.initiateLoadQueue = m.initiateLoadQueue[1:]
		m.pendingLoadQueue = append(m.pendingLoadQueue, head)
	}

	for len(m.pendingLoadQueue) > 0 {
		head := m.pendingLoadQueue[0]
		if !m.allLoaded(head) {
			break
		}
		m.pendingLoadQueue = m.pendingLoadQueue[1:]
		m.completedLoadQueue = append(m.completedLoadQueue, head)
		head.Complete()
	}
}

func (m *ManagedSpace) firstMissingRequestedPage() (uint64, bool) {
	for _, node := range m.initiateLoadQueue {
		start, end := m.pageRange(node.Offset, node.Length)
		for i := start; i < end; i++ {
			if m.loadState[i] == StateMissing {
				return i, true
			}
		}
	}
	return 0, false
}

func (m *ManagedSpace) hasMissingPage(node *InitiateNode) bool {
	start, end := m.pageRange(node.Offset, node.Length)
	for i := start; i < end; i++ {
		if m.loadState[i] == StateMissing {
			return true
		}
	}
	return false
}

func (m *ManagedSpace) allLoaded(node *InitiateNode) bool {
	start, end := m.pageRange(node.Offset, node.Length)
	for i := start; i < end; i++ {
		if m.loadState[i] != StateLoaded {
			return false
		}
	}
	return true
}
