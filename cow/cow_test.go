package cow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/refimpl"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/view"
	"github.com/outofforest/uvm/workqueue"
)

type syncPoster struct{}

func (syncPoster) Post(fn workqueue.Func) { fn() }

// TestForkIsolatesIndependentOverlays mirrors the CoW-fork scenario: two independent
// overlays over the same root each get their own copy on first write, and
// writing through one never disturbs the other or the root.
func TestForkIsolatesIndependentOverlays(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	root := bundle.NewHardwareMemory(mustAlloc(requireT, mem, 0x1000), 0x1000)
	rootPhys, ok := root.Peek(0)
	requireT.True(ok)
	mem.Write(rootPhys, []byte{0xAA})

	rootView := view.NewExteriorBundleView(root, 0, 0x1000)

	a := NewOverView(mem, syncPoster{}, 0x1000, rootView, 0, 0x1000)
	b := NewOverView(mem, syncPoster{}, 0x1000, rootView, 0, 0x1000)

	// B writes 0xBB to its own copy.
	nodeB := bundle.NewFetchNode(syncPoster{}, nil)
	requireT.False(b.Fetch(0, nodeB))
	mem.Write(nodeB.Phys, []byte{0xBB})

	// A still reads the root's original byte through its own fresh copy.
	nodeA := bundle.NewFetchNode(syncPoster{}, nil)
	requireT.False(a.Fetch(0, nodeA))
	buf := make([]byte, 1)
	mem.Read(nodeA.Phys, buf)
	requireT.Equal(byte(0xAA), buf[0])

	mem.Read(nodeB.Phys, buf)
	requireT.Equal(byte(0xBB), buf[0])

	mem.Read(rootPhys, buf)
	requireT.Equal(byte(0xAA), buf[0])
}

// deferredBundle never resolves a Fetch until release() is called, so a
// test can pile up several waiters on the same page before letting the
// underlying fetch complete.
type deferredBundle struct {
	phys    types.PhysicalAddress
	pending []*bundle.FetchNode
}

func (d *deferredBundle) Peek(uint64) (types.PhysicalAddress, bool) { return 0, false }

func (d *deferredBundle) Fetch(offset uint64, node *bundle.FetchNode) bool {
	d.pending = append(d.pending, node)
	return false
}

func (d *deferredBundle) release() {
	for _, n := range d.pending {
		n.Phys = d.phys
		n.Size = 0x1000
		n.Complete()
	}
}

func TestFetchCoalescesConcurrentWaiters(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	rootPhys := mustAlloc(requireT, mem, 0x1000)
	root := &deferredBundle{phys: rootPhys}
	rootView := view.NewExteriorBundleView(root, 0, 0x1000)
	c := NewOverView(mem, syncPoster{}, 0x1000, rootView, 0, 0x1000)

	var completions []*bundle.FetchNode
	for i := 0; i < 3; i++ {
		node := bundle.NewFetchNode(syncPoster{}, func(n *bundle.FetchNode) {
			completions = append(completions, n)
		})
		ok := c.Fetch(uint64(i), node)
		requireT.False(ok)
	}
	requireT.Empty(completions, "no completion until the coalesced parent fetch resolves")

	root.release()

	requireT.Len(completions, 3)
	requireT.NotZero(completions[0].Phys)
	for i := 1; i < len(completions); i++ {
		requireT.Equal(completions[0].Phys, completions[i].Phys)
	}
}

func TestPeekOnlyReportsLocalCopy(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	root := bundle.NewHardwareMemory(mustAlloc(requireT, mem, 0x1000), 0x1000)
	rootView := view.NewExteriorBundleView(root, 0, 0x1000)
	c := NewOverView(mem, syncPoster{}, 0x1000, rootView, 0, 0x1000)

	_, ok := c.Peek(0)
	requireT.False(ok)

	node := bundle.NewFetchNode(syncPoster{}, nil)
	c.Fetch(0, node)

	phys, ok := c.Peek(0)
	requireT.True(ok)
	requireT.Equal(node.Phys, phys)
}

func mustAlloc(requireT *require.Assertions, mem *refimpl.PhysicalMemory, size uint64) types.PhysicalAddress {
	phys, err := mem.AllocContiguous(size, size)
	requireT.NoError(err)
	return phys
}
