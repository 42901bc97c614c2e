package holetree

import "sort"

// Entry is one installed mapping's address-space footprint, as tracked by a
// MappingTree. Mapping is left as an untyped handle so this package does not
// need to import the mapping package.
type Entry struct {
	Start  uint64
	Length uint64
	Value  any
}

// MappingTree is an address-ordered index of installed, non-overlapping
// mappings. Unlike Tree, entries carry no size augmentation: lookups only
// ever need "which mapping, if any, covers this address", so a sorted slice
// with binary search is enough and needs none of Tree's rebalancing.
type MappingTree struct {
	entries []Entry
}

// Insert adds e, which must not overlap any existing entry.
func (t *MappingTree) Insert(e Entry) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start >= e.Start })
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

// Remove deletes the entry starting at start, if any.
func (t *MappingTree) Remove(start uint64) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start >= start })
	if i < len(t.entries) && t.entries[i].Start == start {
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
	}
}

// Find returns the entry covering address, if any.
func (t *MappingTree) Find(address uint64) (Entry, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start > address }) - 1
	if i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	e := t.entries[i]
	if address >= e.Start && address < e.Start+e.Length {
		return e, true
	}
	return Entry{}, false
}

// Overlaps reports whether [start, start+length) intersects any entry.
func (t *MappingTree) Overlaps(start, length uint64) bool {
	end := start + length
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start+t.entries[i].Length > start })
	return i < len(t.entries) && t.entries[i].Start < end
}

// Range returns every entry whose range intersects [start, start+length),
// in address order.
func (t *MappingTree) Range(start, length uint64) []Entry {
	end := start + length
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Start+t.entries[i].Length > start })
	var out []Entry
	for ; i < len(t.entries) && t.entries[i].Start < end; i++ {
		out = append(out, t.entries[i])
	}
	return out
}

// Len returns the number of installed entries.
func (t *MappingTree) Len() int {
	return len(t.entries)
}

// All returns every entry in address order. The returned slice must not be
// retained across a subsequent Insert or Remove.
func (t *MappingTree) All() []Entry {
	return t.entries
}
