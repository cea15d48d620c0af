package storage

import (
	"bytes"
	"sort"

	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
)

// Modify is the smallest unit of mutation of the store. Data holds exactly one of Put, Delete,
// DeleteRange or Atomic.
type Modify struct {
	Data interface{}
}

// Put sets Key to Value.
type Put struct {
	Key   []byte
	Value []byte
}

// Delete clears Key.
type Delete struct {
	Key []byte
}

// DeleteRange clears every key in [Start, End).
type DeleteRange struct {
	Start []byte
	End   []byte
}

// Atomic merges Param into the value of Key using Op.
type Atomic struct {
	Key   []byte
	Op    mutation.Opcode
	Param []byte
	// ValueLimit bounds the result of AppendIfFits. Zero means mutation.ValueSizeLimit.
	ValueLimit int
}

// Size is the number of bytes the modification adds to a transaction.
func (m Modify) Size() int {
	switch data := m.Data.(type) {
	case Put:
		return len(data.Key) + len(data.Value)
	case Delete:
		return len(data.Key)
	case DeleteRange:
		return len(data.Start) + len(data.End)
	case Atomic:
		return len(data.Key) + len(data.Param)
	}
	return 0
}

// KeyRange is a half-open interval [Start, End) of keys.
type KeyRange struct {
	Start []byte
	End   []byte
}

// Contains reports whether key is in the range.
func (r KeyRange) Contains(key []byte) bool {
	return bytes.Compare(r.Start, key) <= 0 && bytes.Compare(key, r.End) < 0
}

// Empty reports whether the range holds no keys.
func (r KeyRange) Empty() bool {
	return bytes.Compare(r.Start, r.End) >= 0
}

// Overlaps reports whether the two ranges share at least one key.
func (r KeyRange) Overlaps(o KeyRange) bool {
	return bytes.Compare(r.Start, o.End) < 0 && bytes.Compare(o.Start, r.End) < 0
}

// MergeRanges sorts ranges and coalesces overlapping or adjacent ones. Empty ranges are dropped. The
// input slice is reordered in place.
func MergeRanges(ranges []KeyRange) []KeyRange {
	sort.Slice(ranges, func(i, j int) bool {
		return bytes.Compare(ranges[i].Start, ranges[j].Start) < 0
	})
	merged := make([]KeyRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Empty() {
			continue
		}
		if n := len(merged); n > 0 && bytes.Compare(r.Start, merged[n-1].End) <= 0 {
			if bytes.Compare(r.End, merged[n-1].End) > 0 {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// RangesIntersect reports whether any range of a overlaps any range of b. Both must be sorted and
// merged, see MergeRanges.
func RangesIntersect(a, b []KeyRange) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Overlaps(b[j]) {
			return true
		}
		if bytes.Compare(a[i].End, b[j].End) <= 0 {
			i++
		} else {
			j++
		}
	}
	return false
}
