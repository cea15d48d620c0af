package storage

import (
	"bytes"

	"github.com/google/btree"

	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// iterBatchSize is how many visible pairs an Iterator materializes per descent into the tree.
const iterBatchSize = 64

// Iterator walks the pairs visible at a version inside a key range. It buffers a small batch at a time,
// so a range of any size can be walked without materializing it.
// Invariant: either Valid is false and the iterator is finished, or Item returns the current pair.
type Iterator struct {
	tree    *btree.BTree
	version uint64
	start   []byte
	end     []byte
	reverse bool

	batch []KvPair
	pos   int
	// cursor is the last key examined in the tree, visible or not.
	cursor    []byte
	exhausted bool
}

// Valid reports whether the iterator is positioned on a pair.
func (it *Iterator) Valid() bool {
	return it.pos < len(it.batch)
}

// Next moves to the following pair.
func (it *Iterator) Next() {
	it.pos++
	if it.pos >= len(it.batch) && !it.exhausted {
		it.fill()
	}
}

// Item returns the current pair. The iterator hands out copies the caller may keep.
func (it *Iterator) Item() KvPair {
	return it.batch[it.pos]
}

// Key returns the current key.
func (it *Iterator) Key() []byte {
	return it.batch[it.pos].Key
}

// Value returns the current value.
func (it *Iterator) Value() []byte {
	return it.batch[it.pos].Value
}

func (it *Iterator) fill() {
	it.batch = it.batch[:0]
	it.pos = 0
	for len(it.batch) == 0 && !it.exhausted {
		if it.reverse {
			it.fillReverse()
		} else {
			it.fillForward()
		}
	}
}

func (it *Iterator) visit(e entry) bool {
	it.cursor = e.key
	if value, ok := e.at(it.version); ok {
		it.batch = append(it.batch, KvPair{Key: clone(e.key), Value: clone(value)})
	}
	return len(it.batch) < iterBatchSize
}

func (it *Iterator) fillForward() {
	from := it.start
	if it.cursor != nil {
		from = codec.KeyAfter(it.cursor)
	}
	full := false
	iter := func(item btree.Item) bool {
		if !it.visit(item.(entry)) {
			full = true
			return false
		}
		return true
	}
	if it.end == nil {
		it.tree.AscendGreaterOrEqual(entry{key: from}, iter)
	} else {
		it.tree.AscendRange(entry{key: from}, entry{key: it.end}, iter)
	}
	if !full {
		it.exhausted = true
	}
}

func (it *Iterator) fillReverse() {
	upper := it.end
	if it.cursor != nil {
		upper = it.cursor
	}
	full := false
	iter := func(item btree.Item) bool {
		e := item.(entry)
		if upper != nil && bytes.Compare(e.key, upper) >= 0 {
			return true
		}
		if bytes.Compare(e.key, it.start) < 0 {
			return false
		}
		if !it.visit(e) {
			full = true
			return false
		}
		return true
	}
	if upper == nil {
		it.tree.Descend(iter)
	} else {
		it.tree.DescendLessOrEqual(entry{key: upper}, iter)
	}
	if !full {
		it.exhausted = true
	}
}
