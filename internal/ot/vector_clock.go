package ot

import "sort"

// VectorClock maps author ids to the number of operations seen from them.
// A nil clock is the empty clock.
type VectorClock map[string]uint64

func (vc VectorClock) Get(author string) uint64 {
	return vc[author]
}

func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for author, counter := range vc {
		out[author] = counter
	}
	return out
}

// Tick returns a copy with author's counter advanced by one.
func (vc VectorClock) Tick(author string) VectorClock {
	out := vc.Clone()
	out[author]++
	return out
}

// Merge returns the element-wise maximum of both clocks.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for author, counter := range other {
		if out[author] < counter {
			out[author] = counter
		}
	}
	return out
}

// LessOrEqual reports vc ≤ other: every counter in vc is covered by other.
func (vc VectorClock) LessOrEqual(other VectorClock) bool {
	for author, counter := range vc {
		if counter > other[author] {
			return false
		}
	}
	return true
}

func (vc VectorClock) Equal(other VectorClock) bool {
	return vc.LessOrEqual(other) && other.LessOrEqual(vc)
}

// Concurrent reports that neither clock causally precedes the other.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.LessOrEqual(other) && !other.LessOrEqual(vc)
}

// Authors returns the authors with a non-zero counter, sorted.
func (vc VectorClock) Authors() []string {
	authors := make([]string, 0, len(vc))
	for author, counter := range vc {
		if counter > 0 {
			authors = append(authors, author)
		}
	}
	sort.Strings(authors)
	return authors
}
