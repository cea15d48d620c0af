package mvcc

import (
	"bytes"
	"sort"

	"github.com/google/btree"

	"github.com/fdbmem/fdbmem/kv/storage"
	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

type writeKind int

const (
	writeSet writeKind = iota
	writeClear
	// writeAtomic holds atomic operations on a key whose committed value is not known locally.
	writeAtomic
)

type atomicOp struct {
	op    mutation.Opcode
	param []byte
	limit int
}

// pendingWrite is what a transaction knows locally about one key.
type pendingWrite struct {
	key   []byte
	kind  writeKind
	value []byte
	ops   []atomicOp
	// unreadable is set while the value holds a versionstamp that is only known at commit.
	unreadable bool
}

func (w *pendingWrite) Less(than btree.Item) bool {
	return bytes.Compare(w.key, than.(*pendingWrite).key) < 0
}

// apply merges the local state of the key over its committed value.
func (w *pendingWrite) apply(base []byte, exists bool) ([]byte, bool) {
	switch w.kind {
	case writeSet:
		return w.value, true
	case writeClear:
		return nil, false
	}
	for _, op := range w.ops {
		base, exists = mutation.ApplyWithLimit(op.op, base, exists, op.param, op.limit)
	}
	return base, exists
}

var clearedKey = &pendingWrite{kind: writeClear}

// writeBuffer holds the writes of a transaction. It keeps two views of them: the ordered mutation log
// that is handed to the committer, and a per-key index of the local state that reads merge over the
// snapshot.
type writeBuffer struct {
	index *btree.BTree
	// cleared holds the ranges cleared by ClearRange, sorted and merged. Keys written after the clear
	// are in index and take precedence.
	cleared     []storage.KeyRange
	mutations   []storage.Modify
	writeRanges []storage.KeyRange
	size        int
	// valueLimit bounds AppendIfFits results.
	valueLimit int
}

func newWriteBuffer(valueLimit int) *writeBuffer {
	return &writeBuffer{index: btree.New(8), valueLimit: valueLimit}
}

func (b *writeBuffer) empty() bool {
	return len(b.mutations) == 0 && len(b.writeRanges) == 0
}

// lookup returns the local state of key, or nil when the transaction knows nothing about it.
func (b *writeBuffer) lookup(key []byte) *pendingWrite {
	if item := b.index.Get(&pendingWrite{key: key}); item != nil {
		return item.(*pendingWrite)
	}
	if b.inCleared(key) {
		return clearedKey
	}
	return nil
}

func (b *writeBuffer) inCleared(key []byte) bool {
	i := sort.Search(len(b.cleared), func(i int) bool {
		return bytes.Compare(key, b.cleared[i].End) < 0
	})
	return i < len(b.cleared) && b.cleared[i].Contains(key)
}

// pending returns the local states of the keys in [start, end) in ascending order.
func (b *writeBuffer) pending(start, end []byte) []*pendingWrite {
	var writes []*pendingWrite
	b.index.AscendRange(&pendingWrite{key: start}, &pendingWrite{key: end}, func(item btree.Item) bool {
		writes = append(writes, item.(*pendingWrite))
		return true
	})
	return writes
}

func (b *writeBuffer) log(m storage.Modify, r storage.KeyRange) {
	b.mutations = append(b.mutations, m)
	b.writeRanges = append(b.writeRanges, r)
	b.size += m.Size()
}

func (b *writeBuffer) set(key, value []byte) {
	key, value = clone(key), append([]byte{}, value...)
	b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeSet, value: value})
	b.log(storage.Modify{Data: storage.Put{Key: key, Value: value}}, pointRange(key))
}

func (b *writeBuffer) clear(key []byte) {
	key = clone(key)
	b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeClear})
	b.log(storage.Modify{Data: storage.Delete{Key: key}}, pointRange(key))
}

func (b *writeBuffer) clearRange(start, end []byte) {
	start, end = clone(start), clone(end)
	for _, w := range b.pending(start, end) {
		b.index.Delete(w)
	}
	b.cleared = storage.MergeRanges(append(b.cleared, storage.KeyRange{Start: start, End: end}))
	b.log(storage.Modify{Data: storage.DeleteRange{Start: start, End: end}}, storage.KeyRange{Start: start, End: end})
}

// atomic records an atomic operation. Versionstamped keys must already be validated.
func (b *writeBuffer) atomic(key []byte, op mutation.Opcode, param []byte) error {
	key, param = clone(key), clone(param)
	m := storage.Modify{Data: storage.Atomic{Key: key, Op: op, Param: param, ValueLimit: b.valueLimit}}

	switch op {
	case mutation.SetVersionstampedKey:
		// The key is only known at commit, so it is neither indexed nor readable.
		start, end, err := mutation.VersionstampKeyRange(key)
		if err != nil {
			return err
		}
		b.log(m, storage.KeyRange{Start: start, End: end})
		return nil
	case mutation.SetVersionstampedValue:
		b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeSet, unreadable: true})
		b.log(m, pointRange(key))
		return nil
	}

	w := b.lookup(key)
	switch {
	case w == nil:
		b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeAtomic, ops: []atomicOp{{op, param, b.valueLimit}}})
	case w.unreadable:
		// Stays unreadable until commit.
	case w.kind == writeAtomic:
		w.ops = append(w.ops, atomicOp{op, param, b.valueLimit})
	default:
		value, exists := w.apply(nil, false)
		value, exists = mutation.ApplyWithLimit(op, value, exists, param, b.valueLimit)
		if exists {
			b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeSet, value: value})
		} else {
			b.index.ReplaceOrInsert(&pendingWrite{key: key, kind: writeClear})
		}
	}
	b.log(m, pointRange(key))
	return nil
}

func pointRange(key []byte) storage.KeyRange {
	return storage.KeyRange{Start: key, End: codec.KeyAfter(key)}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
