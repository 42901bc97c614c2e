package holetree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMappingTreeFind(t *testing.T) {
	requireT := require.New(t)

	var mt MappingTree
	mt.Insert(Entry{Start: 0x2000, Length: 0x1000, Value: "a"})
	mt.Insert(Entry{Start: 0x5000, Length: 0x2000, Value: "b"})

	e, ok := mt.Find(0x2500)
	requireT.True(ok)
	requireT.Equal("a", e.Value)

	e, ok = mt.Find(0x6000)
	requireT.True(ok)
	requireT.Equal("b", e.Value)

	_, ok = mt.Find(0x4000)
	requireT.False(ok)
}

func TestMappingTreeOverlaps(t *testing.T) {
	requireT := require.New(t)

	var mt MappingTree
	mt.Insert(Entry{Start: 0x2000, Length: 0x1000})

	requireT.True(mt.Overlaps(0x1800, 0x1000))
	requireT.False(mt.Overlaps(0x3000, 0x1000))
}

func TestMappingTreeRange(t *testing.T) {
	requireT := require.New(t)

	var mt MappingTree
	mt.Insert(Entry{Start: 0x2000, Length: 0x1000, Value: "a"})
	mt.Insert(Entry{Start: 0x3000, Length: 0x1000, Value: "b"})
	mt.Insert(Entry{Start: 0x6000, Length: 0x1000, Value: "c"})

	spanned := mt.Range(0x2000, 0x2000)
	requireT.Len(spanned, 2)
	requireT.Equal("a", spanned[0].Value)
	requireT.Equal("b", spanned[1].Value)

	requireT.Empty(mt.Range(0x4000, 0x1000))

	partial := mt.Range(0x2800, 0x1000)
	requireT.Len(partial, 2)
}

func TestMappingTreeRemove(t *testing.T) {
	requireT := require.New(t)

	var mt MappingTree
	mt.Insert(Entry{Start: 0x2000, Length: 0x1000})
	mt.Remove(0x2000)

	requireT.Equal(0, mt.Len())
	_, ok := mt.Find(0x2000)
	requireT.False(ok)
}

func TestMappingTreeOrderedInsert(t *testing.T) {
	requireT := require.New(t)

	var mt MappingTree
	mt.Insert(Entry{Start: 0x5000, Length: 0x1000})
	mt.Insert(Entry{Start: 0x1000, Length: 0x1000})
	mt.Insert(Entry{Start: 0x3000, Length: 0x1000})

	all := mt.All()
	requireT.Len(all, 3)
	requireT.Equal(uint64(0x1000), all[0].Start)
	requireT.Equal(uint64(0x3000), all[1].Start)
	requireT.Equal(uint64(0x5000), all[2].Start)
}
