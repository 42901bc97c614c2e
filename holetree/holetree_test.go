package holetree

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSingleHole(t *testing.T) {
	requireT := require.New(t)

	tr := New(0x1000, 0xF000)
	start, length, ok := tr.FindBottomUp(0x100)
	requireT.True(ok)
	requireT.Equal(uint64(0x1000), start)
	requireT.Equal(uint64(0xF000), length)
}

func TestReserveSplitsHole(t *testing.T) {
	requireT := require.New(t)

	tr := New(0x1000, 0xF000)
	tr.Reserve(0x2000, 0x1000)

	requireT.False(tr.FindFixed(0x1000, 0x1100))
	requireT.True(tr.FindFixed(0x1000, 0x1000))
	requireT.True(tr.FindFixed(0x3000, 0xD000))
}

func TestBestFitPicksLowestSufficientHole(t *testing.T) {
	requireT := require.New(t)

	// Mirrors the "best-fit" scenario: user range [0x1000, 0x10000), map
	// [0x2000,0x3000) and [0x5000,0x6000), then best-fit 0x2000 bytes
	// should land at 0x3000 (the first hole large enough).
	tr := New(0x1000, 0xF000)
	tr.Reserve(0x2000, 0x1000)
	tr.Reserve(0x5000, 0x1000)

	start, _, ok := tr.FindBottomUp(0x2000)
	requireT.True(ok)
	requireT.Equal(uint64(0x3000), start)
}

func TestReleaseCoalescesNeighbors(t *testing.T) {
	requireT := require.New(t)

	tr := New(0x1000, 0xF000)
	tr.Reserve(0x2000, 0x3000)
	tr.Release(0x3000, 0x1000)
	tr.Release(0x2000, 0x1000)
	tr.Release(0x4000, 0x1000)

	start, length, ok := tr.FindBottomUp(0xF000)
	requireT.True(ok)
	requireT.Equal(uint64(0x1000), start)
	requireT.Equal(uint64(0xF000), length)
}

func TestFindTopDownPrefersHighestAddress(t *testing.T) {
	requireT := require.New(t)

	tr := New(0x1000, 0xF000)
	tr.Reserve(0x2000, 0x1000)
	tr.Reserve(0x8000, 0x1000)

	start, _, ok := tr.FindTopDown(0x1000)
	requireT.True(ok)
	requireT.Equal(uint64(0x9000), start)
}

func TestOutOfMemoryWhenNoHoleFits(t *testing.T) {
	requireT := require.New(t)

	tr := New(0x1000, 0x1000)
	tr.Reserve(0x1000, 0x800)

	_, _, ok := tr.FindBottomUp(0x1000)
	requireT.False(ok)
}

// TestAugmentationInvariant fuzzes a sequence of reserve/release calls and
// checks that every node's largestGap equals the max of its own length and
// its children's largestGap, matching the tree's augmentation invariant.
func TestAugmentationInvariant(t *testing.T) {
	requireT := require.New(t)

	tr := New(0, 1<<20)
	rng := rand.New(rand.NewSource(1))

	var reserved [][2]uint64
	for i := 0; i < 200; i++ {
		if len(reserved) > 0 && rng.Intn(2) == 0 {
			idx := rng.Intn(len(reserved))
			r := reserved[idx]
			tr.Release(r[0], r[1])
			reserved = append(reserved[:idx], reserved[idx+1:]...)
			continue
		}
		size := uint64(1+rng.Intn(64)) * 0x1000
		start, _, ok := tr.FindBottomUp(size)
		if !ok {
			continue
		}
		tr.Reserve(start, size)
		reserved = append(reserved, [2]uint64{start, size})
	}

	checkAugmentation(requireT, tr.root)
}

func checkAugmentation(requireT *require.Assertions, n *node) uint64 {
	if n == nil {
		return 0
	}
	left := checkAugmentation(requireT, n.left)
	right := checkAugmentation(requireT, n.right)
	want := max3(n.length, left, right)
	requireT.Equal(want, n.largestGap)
	return want
}
