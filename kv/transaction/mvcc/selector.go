package mvcc

import (
	"fmt"

	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// KeySelector addresses a key relative to the sort order instead of naming it. The selected key is
// found by taking the last key less than Key (less than or equal when OrEqual is set) and moving Offset
// keys forward from it; offset 0 is that key itself and negative offsets move backward.
//
// Selecting past the first key yields "" and past the last key yields "\xff", so a range bounded by an
// out of range selector is empty rather than an error.
type KeySelector struct {
	Key     []byte
	OrEqual bool
	Offset  int
}

// FirstGreaterOrEqual selects the smallest key >= key.
func FirstGreaterOrEqual(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 1}
}

// FirstGreaterThan selects the smallest key > key.
func FirstGreaterThan(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 1}
}

// LastLessOrEqual selects the greatest key <= key.
func LastLessOrEqual(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: true, Offset: 0}
}

// LastLessThan selects the greatest key < key.
func LastLessThan(key []byte) KeySelector {
	return KeySelector{Key: key, OrEqual: false, Offset: 0}
}

// Add returns the selector moved n keys further.
func (s KeySelector) Add(n int) KeySelector {
	s.Offset += n
	return s
}

func (s KeySelector) String() string {
	var name string
	switch {
	case !s.OrEqual && s.Offset >= 1:
		name, s.Offset = "FirstGreaterOrEqual", s.Offset-1
	case s.OrEqual && s.Offset >= 1:
		name, s.Offset = "FirstGreaterThan", s.Offset-1
	case s.OrEqual:
		name = "LastLessOrEqual"
	default:
		name = "LastLessThan"
	}
	if s.Offset == 0 {
		return fmt.Sprintf("%s(%s)", name, codec.Printable(s.Key))
	}
	return fmt.Sprintf("%s(%s)%+d", name, codec.Printable(s.Key), s.Offset)
}

// resolveIn resolves s over the keys produced by open, which must return an iterator over the pairs
// of the view in [start, end).
func (s KeySelector) resolveIn(open func(start, end []byte, reverse bool) *mergedIter) []byte {
	if s.Offset >= 1 {
		start := s.Key
		if s.OrEqual {
			start = codec.KeyAfter(s.Key)
		}
		n := s.Offset
		for it := open(start, codec.MaxKey, false); it.Valid(); it.Next() {
			if n--; n == 0 {
				return it.Key()
			}
		}
		return []byte{0xff}
	}

	end := s.Key
	if s.OrEqual {
		end = codec.KeyAfter(s.Key)
	}
	n := 1 - s.Offset
	for it := open(codec.MinKey, end, true); it.Valid(); it.Next() {
		if n--; n == 0 {
			return it.Key()
		}
	}
	return []byte{}
}
