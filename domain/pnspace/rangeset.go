package pnspace

import "sort"

// PNRange is an inclusive [Smallest, Largest] range of received packet
// numbers.
type PNRange struct {
	Smallest int64
	Largest  int64
}

// MaxRanges bounds the number of disjoint ranges an ACK tracker retains,
// per spec: a run-length range set of at most 64 entries.
const MaxRanges = 64

// RangeSet tracks the received-but-not-yet-reported packet numbers of a
// single packet-number space, merging adjacent/overlapping insertions and
// silently absorbing duplicates. Not safe for concurrent use; callers
// serialize access through the owning connection's single state-machine
// lock.
type RangeSet struct {
	ranges []PNRange // sorted descending by Largest
}

// Insert records pn as received. It returns false if pn was already
// present (a duplicate packet, which the caller must drop).
func (s *RangeSet) Insert(pn int64) bool {
	// Binary search for the first range whose Smallest-1 <= pn.
	idx := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].Smallest <= pn+1
	})

	if idx < len(s.ranges) {
		r := &s.ranges[idx]
		if pn >= r.Smallest && pn <= r.Largest {
			return false // duplicate
		}
		if pn == r.Largest+1 {
			r.Largest = pn
			s.mergeForward(idx)
			s.trim()
			return true
		}
		if pn == r.Smallest-1 {
			r.Smallest = pn
			s.mergeBackward(idx)
			s.trim()
			return true
		}
	}

	// New disjoint range; insert at idx keeping descending order.
	s.ranges = append(s.ranges, PNRange{})
	copy(s.ranges[idx+1:], s.ranges[idx:])
	s.ranges[idx] = PNRange{Smallest: pn, Largest: pn}
	s.trim()
	return true
}

// mergeForward merges ranges[idx] with its predecessor (lower index, i.e.
// larger PNs come first) if they now touch.
func (s *RangeSet) mergeForward(idx int) {
	for idx > 0 && s.ranges[idx-1].Smallest <= s.ranges[idx].Largest+1 {
		s.ranges[idx-1].Smallest = s.ranges[idx].Smallest
		if s.ranges[idx].Largest > s.ranges[idx-1].Largest {
			s.ranges[idx-1].Largest = s.ranges[idx].Largest
		}
		s.ranges = append(s.ranges[:idx], s.ranges[idx+1:]...)
		idx--
	}
}

func (s *RangeSet) mergeBackward(idx int) {
	for idx+1 < len(s.ranges) && s.ranges[idx+1].Largest >= s.ranges[idx].Smallest-1 {
		if s.ranges[idx+1].Smallest < s.ranges[idx].Smallest {
			s.ranges[idx].Smallest = s.ranges[idx+1].Smallest
		}
		s.ranges = append(s.ranges[:idx+1], s.ranges[idx+2:]...)
	}
}

// trim drops the lowest (oldest) ranges once the set exceeds MaxRanges,
// matching an implementation that only needs to ACK recently received
// packets.
func (s *RangeSet) trim() {
	if len(s.ranges) > MaxRanges {
		s.ranges = s.ranges[:MaxRanges]
	}
}

// Contains reports whether pn has already been recorded.
func (s *RangeSet) Contains(pn int64) bool {
	for _, r := range s.ranges {
		if pn >= r.Smallest && pn <= r.Largest {
			return true
		}
		if pn > r.Largest {
			return false
		}
	}
	return false
}

// Largest returns the highest recorded packet number and whether the set
// is non-empty.
func (s *RangeSet) Largest() (int64, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].Largest, true
}

// Ranges returns the set's ranges, largest-first, as required when
// building an ACK frame's gap/length encoding.
func (s *RangeSet) Ranges() []PNRange {
	return s.ranges
}

// Len reports the number of disjoint ranges currently tracked.
func (s *RangeSet) Len() int { return len(s.ranges) }
