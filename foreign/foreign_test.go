package foreign

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/uvm/addrspace"
	"github.com/outofforest/uvm/bundle"
	"github.com/outofforest/uvm/mapping"
	"github.com/outofforest/uvm/refimpl"
	"github.com/outofforest/uvm/types"
	"github.com/outofforest/uvm/view"
	"github.com/outofforest/uvm/vmerr"
	"github.com/outofforest/uvm/workqueue"
)

type syncPoster struct{}

func (syncPoster) Post(fn workqueue.Func) { fn() }

// TestAcquireThenRoundTrip mirrors the round-trip property: after Acquire
// succeeds, a Write followed by a Load through the same accessor returns
// exactly the bytes written.
func TestAcquireThenRoundTrip(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	pt := refimpl.NewPageTable(syncPoster{})
	target := addrspace.New(pt, 0x1000, 0xF000, 0x1000)

	phys, err := mem.AllocContiguous(0x2000, 0x1000)
	requireT.NoError(err)
	h := bundle.NewHardwareMemory(phys, 0x2000)
	v := view.NewExteriorBundleView(h, 0, 0x2000)
	m := mapping.NewNormalMapping(v, 0x2000, types.ProtRead|types.ProtWrite, mem, syncPoster{}, 0x1000)

	addr, err := target.Map(m, types.ForkShare, types.VirtualAddress(0x3000), types.MapFixed)
	requireT.NoError(err)

	acc := NewAccessor(target, pt, mem, 0x1000)
	var acquireErr error
	node := NewAcquireNode(uint64(addr), 0x2000, syncPoster{}, func(n *AcquireNode) { acquireErr = n.Err })
	node.Write = true
	acc.Acquire(node)
	requireT.NoError(acquireErr)

	payload := []byte("hello, foreign space")
	requireT.NoError(acc.Write(uint64(addr)+0x10, payload))

	out := make([]byte, len(payload))
	requireT.NoError(acc.Load(uint64(addr)+0x10, out))
	requireT.Equal(payload, out)
}

// TestAcquireReadOnlyMappingAllowsLoad exercises Acquire against a target
// region mapped without ProtWrite: acquiring for read access must succeed,
// and the acquired bytes must be readable through Load.
func TestAcquireReadOnlyMappingAllowsLoad(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	pt := refimpl.NewPageTable(syncPoster{})
	target := addrspace.New(pt, 0x1000, 0xF000, 0x1000)

	phys, err := mem.AllocContiguous(0x1000, 0x1000)
	requireT.NoError(err)
	mem.Write(phys, []byte("read-only segment"))
	h := bundle.NewHardwareMemory(phys, 0x1000)
	v := view.NewExteriorBundleView(h, 0, 0x1000)
	m := mapping.NewNormalMapping(v, 0x1000, types.ProtRead, mem, syncPoster{}, 0x1000)

	addr, err := target.Map(m, types.ForkShare, types.VirtualAddress(0x3000), types.MapFixed)
	requireT.NoError(err)

	acc := NewAccessor(target, pt, mem, 0x1000)
	node := NewAcquireNode(uint64(addr), 0x1000, syncPoster{}, func(*AcquireNode) {})
	acc.Acquire(node)
	requireT.NoError(node.Err)

	out := make([]byte, len("read-only segment"))
	requireT.NoError(acc.Load(uint64(addr), out))
	requireT.Equal("read-only segment", string(out))

	requireT.ErrorIs(acc.Write(uint64(addr), []byte("x")), vmerr.ErrAccessDenied)
}

func TestLoadBeforeAcquireFails(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	pt := refimpl.NewPageTable(syncPoster{})
	target := addrspace.New(pt, 0x1000, 0xF000, 0x1000)
	acc := NewAccessor(target, pt, mem, 0x1000)

	buf := make([]byte, 4)
	requireT.Error(acc.Load(0x3000, buf))
}

func TestWriteSpanningTwoPages(t *testing.T) {
	requireT := require.New(t)

	mem, cleanup, err := refimpl.NewPhysicalMemory(1 << 20)
	requireT.NoError(err)
	defer cleanup()

	pt := refimpl.NewPageTable(syncPoster{})
	target := addrspace.New(pt, 0x1000, 0xF000, 0x1000)

	phys, err := mem.AllocContiguous(0x2000, 0x1000)
	requireT.NoError(err)
	h := bundle.NewHardwareMemory(phys, 0x2000)
	v := view.NewExteriorBundleView(h, 0, 0x2000)
	m := mapping.NewNormalMapping(v, 0x2000, types.ProtRead|types.ProtWrite, mem, syncPoster{}, 0x1000)

	addr, err := target.Map(m, types.ForkShare, types.VirtualAddress(0x3000), types.MapFixed)
	requireT.NoError(err)

	acc := NewAccessor(target, pt, mem, 0x1000)
	node := NewAcquireNode(uint64(addr), 0x2000, syncPoster{}, func(*AcquireNode) {})
	node.Write = true
	acc.Acquire(node)
	requireT.NoError(node.Err)

	payload := make([]byte, 32)
	for i := range payload {
		payload[i] = byte(i)
	}
	spanOffset := uint64(addr) + 0x1000 - 16
	requireT.NoError(acc.Write(spanOffset, payload))

	out := make([]byte, len(payload))
	requireT.NoError(acc.Load(spanOffset, out))
	requireT.Equal(payload, out)
}
