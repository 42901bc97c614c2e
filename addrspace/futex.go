package addrspace

import (
	"sync"

	"github.com/outofforest/uvm/wnode"
	"github.com/outofforest/uvm/workqueue"
)

// FutexNode is the caller-allocated completion record for FutexTable.Wait.
type FutexNode struct {
	wnode.Base

	Address uint64
	// Expected is the waiter-generation the caller last observed for
	// Address; pass 0 the first time a caller waits on a given address.
	Expected uint64
	Queue    workqueue.Poster

	// Generation is filled in by Wait with the generation observed at call
	// time, whether or not the wait was parked. A caller that gets an
	// immediate (mismatch) return should re-check its condition and, if it
	// still wants to wait, retry with this value as the new Expected.
	Generation uint64
}

// NewFutexNode creates a FutexNode for a wait on address, gated on the
// caller's last-observed generation.
func NewFutexNode(address, expected uint64, queue workqueue.Poster, onReady func(*FutexNode)) *FutexNode {
	n := &FutexNode{Address: address, Expected: expected, Queue: queue}
	n.Base.Setup(queue, func() { onReady(n) })
	return n
}

type futexAddr struct {
	generation uint64
	waiters    []*FutexNode
}

// NewFutexTable creates an empty FutexTable.
func NewFutexTable() *FutexTable {
	return &FutexTable{addrs: map[uint64]*futexAddr{}}
}

// FutexTable is the per-AddressSpace futex wait/wake table, keyed by the
// virtual address of the futex word. It has no knowledge of the word's
// value; instead every address ever touched by a Wait or a Wake carries a
// monotonically increasing generation, bumped by every Wake, the same
// lost-wakeup-avoidance technique the standard library's notifyList (behind
// sync.Cond) uses in place of re-reading a protected value. A caller
// wanting to wait for some condition on address reads the condition and
// the address's current generation (Wait always reports it via
// node.Generation) under its own lock, then calls Wait with that
// generation as Expected; if a Wake lands in between — even one racing
// ahead of the very first Wait an address ever sees — the generation will
// already have moved and Wait returns immediately instead of parking on a
// condition that already changed. Per-address state is retained for the
// lifetime of the table rather than dropped once a waiter list drains,
// since forgetting it would reopen exactly that race.
type FutexTable struct {
	mu    sync.Mutex
	addrs map[uint64]*futexAddr
}

func (f *FutexTable) addrLocked(address uint64) *futexAddr {
	a, ok := f.addrs[address]
	if !ok {
		a = &futexAddr{}
		f.addrs[address] = a
	}
	return a
}

// Wait registers node to be woken by Wake(node.Address, ...), unless the
// address's generation has already moved past node.Expected, in which case
// it returns true (completed synchronously) without parking. It never
// blocks the calling goroutine; a parked node completes later, through its
// posted callback, when Wake reaches it.
func (f *FutexTable) Wait(node *FutexNode) bool {
	f.mu.Lock()
	a := f.addrLocked(node.Address)
	node.Generation = a.generation
	if a.generation != node.Expected {
		f.mu.Unlock()
		return true
	}
	a.waiters = append(a.waiters, node)
	f.mu.Unlock()
	return false
}

// Wake bumps address's generation and releases up to count of its waiters
// (all of them if count is negative), returning how many were woken.
func (f *FutexTable) Wake(address uint64, count int) int {
	f.mu.Lock()
	a := f.addrLocked(address)
	a.generation++

	n := count
	if n < 0 || n > len(a.waiters) {
		n = len(a.waiters)
	}
	woken := a.waiters[:n]
	a.waiters = a.waiters[n:]
	f.mu.Unlock()

	for _, node := range woken {
		node.Complete()
	}
	return n
}
