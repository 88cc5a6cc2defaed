// Package docset implements the ordered document-id set used as the
// postings-list container. A Set is a strictly increasing slice of uint32
// ids; union, intersection, and difference are linear ordered merges, the
// classic postings-merge algorithms, so document-frequency counts and
// candidate gathering stay predictable.
package docset

import "sort"

// Set is an ordered, duplicate-free collection of document ids. The zero
// value is the empty set. A Set must never be mutated after it is shared;
// the With* methods return fresh copies.
type Set []uint32

// Empty returns the empty set.
func Empty() Set {
	return nil
}

// Singleton returns a set containing only id.
func Singleton(id uint32) Set {
	return Set{id}
}

// FromSorted wraps an already sorted, duplicate-free slice without copying.
// The caller must not modify ids afterwards.
func FromSorted(ids []uint32) Set {
	return Set(ids)
}

// New builds a set from arbitrary ids, sorting and de-duplicating them.
func New(ids ...uint32) Set {
	if len(ids) == 0 {
		return nil
	}
	sorted := make([]uint32, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:1]
	for _, id := range sorted[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return Set(out)
}

// Len returns the number of ids in the set. O(1); this is read on every
// scored query term as the document frequency.
func (s Set) Len() int {
	return len(s)
}

// Contains reports whether id is a member via binary search.
func (s Set) Contains(id uint32) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	return i < len(s) && s[i] == id
}

// Union returns a ∪ b by ordered merge in O(len(a)+len(b)).
func Union(a, b Set) Set {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(Set, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// Intersect returns a ∩ b by ordered merge in O(len(a)+len(b)).
func Intersect(a, b Set) Set {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make(Set, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

// Difference returns a \ b by ordered merge in O(len(a)+len(b)).
func Difference(a, b Set) Set {
	if len(a) == 0 {
		return nil
	}
	if len(b) == 0 {
		return a
	}
	out := make(Set, 0, len(a))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			j++
		default:
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return out
}

// WithInserted returns a copy of s with id added. If id is already present
// the receiver is returned unchanged.
func (s Set) WithInserted(id uint32) Set {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	if i < len(s) && s[i] == id {
		return s
	}
	out := make(Set, 0, len(s)+1)
	out = append(out, s[:i]...)
	out = append(out, id)
	out = append(out, s[i:]...)
	return out
}

// WithRemoved returns a copy of s with id removed. If id is absent the
// receiver is returned unchanged.
func (s Set) WithRemoved(id uint32) Set {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= id })
	if i >= len(s) || s[i] != id {
		return s
	}
	if len(s) == 1 {
		return nil
	}
	out := make(Set, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
