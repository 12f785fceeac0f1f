package streams

import (
	"errors"
	"sort"
)

// ErrOverlapMismatch is returned when two STREAM frames disagree about
// the bytes at an offset they both cover — a PROTOCOL_VIOLATION at the
// connection layer (spec.md §4.11).
var ErrOverlapMismatch = errors.New("streams: overlapping bytes disagree")

// ErrFinalSizeMismatch is returned when a frame's implied final size
// disagrees with one already established (RFC 9000 §4.5).
var ErrFinalSizeMismatch = errors.New("streams: final size mismatch")

type segment struct {
	offset uint64
	data   []byte
}

func (s segment) end() uint64 { return s.offset + uint64(len(s.data)) }

// Reassembler buffers out-of-order STREAM frame data for one receive
// direction: gap-tolerant storage keyed by offset, with strictly
// in-order delivery to the application (spec.md §3 Stream invariants).
type Reassembler struct {
	segments   []segment // sorted ascending by offset, mutually disjoint
	readOffset uint64
	finalSize  int64 // -1 until a FIN (or a frame carrying it) is seen
}

// NewReassembler builds an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{finalSize: -1}
}

// Insert records offset..offset+len(data) as received, optionally
// marking it as containing the final byte of the stream. Overlapping
// bytes previously recorded must match exactly, byte for byte.
func (r *Reassembler) Insert(offset uint64, data []byte, fin bool) error {
	end := offset + uint64(len(data))
	if fin {
		if r.finalSize >= 0 && uint64(r.finalSize) != end {
			return ErrFinalSizeMismatch
		}
		r.finalSize = int64(end)
	} else if r.finalSize >= 0 && end > uint64(r.finalSize) {
		return ErrFinalSizeMismatch
	}

	if end <= r.readOffset || len(data) == 0 {
		return nil // entirely already delivered; duplicate, silently dropped
	}
	if offset < r.readOffset {
		data = data[r.readOffset-offset:]
		offset = r.readOffset
	}

	return r.merge(segment{offset: offset, data: data})
}

// merge inserts seg into the sorted, disjoint segment list, validating
// byte-for-byte agreement on any overlap and coalescing adjacent runs.
func (r *Reassembler) merge(seg segment) error {
	// Find the first existing segment whose end is at or past seg's
	// start — every overlap candidate is at or after this index.
	idx := sort.Search(len(r.segments), func(i int) bool {
		return r.segments[i].end() >= seg.offset
	})

	i := idx
	for i < len(r.segments) && r.segments[i].offset <= seg.end() {
		existing := r.segments[i]
		if err := checkOverlap(existing, seg); err != nil {
			return err
		}
		merged, err := union(existing, seg)
		if err != nil {
			return err
		}
		seg = merged
		i++
	}
	r.segments = append(r.segments[:idx], append([]segment{seg}, r.segments[i:]...)...)
	return nil
}

// checkOverlap verifies that the bytes a and b share at overlapping
// offsets are identical.
func checkOverlap(a, b segment) error {
	lo := a.offset
	if b.offset > lo {
		lo = b.offset
	}
	hi := a.end()
	if b.end() < hi {
		hi = b.end()
	}
	for off := lo; off < hi; off++ {
		if a.data[off-a.offset] != b.data[off-b.offset] {
			return ErrOverlapMismatch
		}
	}
	return nil
}

// union merges two (possibly overlapping or adjacent) segments into one.
func union(a, b segment) (segment, error) {
	lo := a.offset
	if b.offset < lo {
		lo = b.offset
	}
	hi := a.end()
	if b.end() > hi {
		hi = b.end()
	}
	out := make([]byte, hi-lo)
	copy(out[a.offset-lo:], a.data)
	copy(out[b.offset-lo:], b.data)
	return segment{offset: lo, data: out}, nil
}

// Read returns the longest contiguous prefix of data available starting
// at the current read offset, advancing the offset by that amount, and
// reports whether the stream's FIN has now been delivered.
func (r *Reassembler) Read() (data []byte, fin bool) {
	if len(r.segments) == 0 || r.segments[0].offset != r.readOffset {
		return nil, r.atFin()
	}
	seg := r.segments[0]
	r.segments = r.segments[1:]
	r.readOffset = seg.end()
	return seg.data, r.atFin()
}

func (r *Reassembler) atFin() bool {
	return r.finalSize >= 0 && r.readOffset == uint64(r.finalSize)
}

// FinalSize returns the stream's final size and whether it is known yet.
func (r *Reassembler) FinalSize() (uint64, bool) {
	if r.finalSize < 0 {
		return 0, false
	}
	return uint64(r.finalSize), true
}

// ReadOffset returns the next byte offset the application will read.
func (r *Reassembler) ReadOffset() uint64 { return r.readOffset }
