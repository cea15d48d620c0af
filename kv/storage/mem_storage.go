package storage

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
)

const btreeDegree = 32

// MemStorage is the versioned key space. Every key maps to its history of revisions, and reads are
// answered as of a version: the newest revision at or below that version wins.
//
// The key space is a B-tree that is never modified once published. A write clones the current tree
// (copy-on-write, so the clone is cheap), applies a whole batch to the clone and then publishes it
// with a single atomic store. Readers load the current tree without locking and are never blocked by
// writers; a batch is visible either completely or not at all.
type MemStorage struct {
	// writeMu serializes Write and Compact. Readers never take it.
	writeMu sync.Mutex
	root    atomic.Value
	version *atomic.Uint64
}

// KvPair is a key and the value visible for it.
type KvPair struct {
	Key   []byte
	Value []byte
}

type revision struct {
	version   uint64
	value     []byte
	tombstone bool
}

// entry is the history of one key, newest revision first. Entries reachable from a published tree are
// immutable: writers build a new revs slice instead of appending in place.
type entry struct {
	key  []byte
	revs []revision
}

func (e entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(entry).key) < 0
}

// at returns the value visible at version.
func (e entry) at(version uint64) ([]byte, bool) {
	i := sort.Search(len(e.revs), func(i int) bool {
		return e.revs[i].version <= version
	})
	if i == len(e.revs) || e.revs[i].tombstone {
		return nil, false
	}
	return e.revs[i].value, true
}

// latest returns the newest value of the key.
func (e entry) latest() ([]byte, bool) {
	if len(e.revs) == 0 || e.revs[0].tombstone {
		return nil, false
	}
	return e.revs[0].value, true
}

// NewMemStorage creates an empty store at version 0.
func NewMemStorage() *MemStorage {
	s := &MemStorage{
		version: atomic.NewUint64(0),
	}
	s.root.Store(btree.New(btreeDegree))
	return s
}

func (s *MemStorage) tree() *btree.BTree {
	return s.root.Load().(*btree.BTree)
}

// Version returns the newest version applied to the store.
func (s *MemStorage) Version() uint64 {
	return s.version.Load()
}

// Reader returns a reader of the store as of version. The reader pins the current tree, so it keeps
// answering consistently however many writes happen afterwards.
func (s *MemStorage) Reader(version uint64) *Reader {
	return &Reader{
		tree:    s.tree(),
		version: version,
	}
}

// Get returns the value of key at version.
func (s *MemStorage) Get(key []byte, version uint64) ([]byte, bool) {
	return s.Reader(version).Get(key)
}

// Scan returns the pairs visible at version in [start, end), descending when reverse is set. A nil end
// is unbounded. At most limit pairs are returned unless limit is 0.
func (s *MemStorage) Scan(start, end []byte, version uint64, reverse bool, limit int) []KvPair {
	var pairs []KvPair
	for it := s.Reader(version).Iter(start, end, reverse); it.Valid(); it.Next() {
		pairs = append(pairs, it.Item())
		if limit > 0 && len(pairs) >= limit {
			break
		}
	}
	return pairs
}

// Write applies batch at version, which must be newer than every version already applied. The batch is
// applied in order, so a later modification sees the effect of an earlier one on the same key. If any
// modification fails nothing is applied.
func (s *MemStorage) Write(version uint64, batch []Modify) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if applied := s.version.Load(); version <= applied {
		return errors.Errorf("storage: version %d is not newer than applied version %d", version, applied)
	}

	w := &batchWriter{
		tree:    s.tree().Clone(),
		version: version,
	}
	for _, m := range batch {
		if err := w.apply(m); err != nil {
			return err
		}
	}

	s.root.Store(w.tree)
	s.version.Store(version)
	return nil
}

// Reader reads a pinned tree at a fixed version.
type Reader struct {
	tree    *btree.BTree
	version uint64
}

// Version is the version the reader reads at.
func (r *Reader) Version() uint64 {
	return r.version
}

// Get returns a copy of the value of key.
func (r *Reader) Get(key []byte) ([]byte, bool) {
	item := r.tree.Get(entry{key: key})
	if item == nil {
		return nil, false
	}
	value, ok := item.(entry).at(r.version)
	if !ok {
		return nil, false
	}
	return clone(value), true
}

// Iter returns an iterator over [start, end); a nil end is unbounded.
func (r *Reader) Iter(start, end []byte, reverse bool) *Iterator {
	it := &Iterator{
		tree:    r.tree,
		version: r.version,
		start:   start,
		end:     end,
		reverse: reverse,
	}
	it.fill()
	return it
}

type batchWriter struct {
	tree    *btree.BTree
	version uint64
}

func (w *batchWriter) apply(m Modify) error {
	switch data := m.Data.(type) {
	case Put:
		w.put(data.Key, data.Value)
	case Delete:
		w.clear(data.Key)
	case DeleteRange:
		w.clearRange(data.Start, data.End)
	case Atomic:
		return w.atomic(data)
	default:
		return errors.Errorf("storage: unknown modification %T", m.Data)
	}
	return nil
}

func (w *batchWriter) get(key []byte) (entry, bool) {
	item := w.tree.Get(entry{key: key})
	if item == nil {
		return entry{}, false
	}
	return item.(entry), true
}

// push makes rev the newest revision of key. A second write to the same key in one batch replaces the
// first.
func (w *batchWriter) push(key []byte, rev revision) {
	old, ok := w.get(key)
	if !ok {
		old = entry{key: clone(key)}
	}
	var revs []revision
	if len(old.revs) > 0 && old.revs[0].version == rev.version {
		if rev.tombstone && len(old.revs) == 1 {
			// The key only came into existence in this batch.
			w.tree.Delete(old)
			return
		}
		if rev.tombstone && old.revs[1].tombstone {
			revs = make([]revision, len(old.revs)-1)
			copy(revs, old.revs[1:])
			w.tree.ReplaceOrInsert(entry{key: old.key, revs: revs})
			return
		}
		revs = make([]revision, len(old.revs))
		copy(revs[1:], old.revs[1:])
	} else {
		revs = make([]revision, len(old.revs)+1)
		copy(revs[1:], old.revs)
	}
	revs[0] = rev
	w.tree.ReplaceOrInsert(entry{key: old.key, revs: revs})
}

func (w *batchWriter) put(key, value []byte) {
	w.push(key, revision{version: w.version, value: clone(value)})
}

func (w *batchWriter) clear(key []byte) {
	e, ok := w.get(key)
	if !ok {
		return
	}
	if _, live := e.latest(); !live {
		return
	}
	w.push(key, revision{version: w.version, tombstone: true})
}

func (w *batchWriter) clearRange(start, end []byte) {
	var keys [][]byte
	w.tree.AscendRange(entry{key: start}, entry{key: end}, func(item btree.Item) bool {
		e := item.(entry)
		if _, live := e.latest(); live {
			keys = append(keys, e.key)
		}
		return true
	})
	for _, key := range keys {
		w.push(key, revision{version: w.version, tombstone: true})
	}
}

func (w *batchWriter) atomic(data Atomic) error {
	switch {
	case data.Op == mutation.SetVersionstampedKey:
		key, err := mutation.FillVersionstamp(data.Key, mutation.Versionstamp(w.version, 0))
		if err != nil {
			return err
		}
		w.put(key, data.Param)
	case data.Op == mutation.SetVersionstampedValue:
		value, err := mutation.FillVersionstamp(data.Param, mutation.Versionstamp(w.version, 0))
		if err != nil {
			return err
		}
		w.put(data.Key, value)
	case data.Op.Valid():
		var existing []byte
		var exists bool
		if e, ok := w.get(data.Key); ok {
			existing, exists = e.latest()
		}
		value, present := mutation.ApplyWithLimit(data.Op, existing, exists, data.Param, data.ValueLimit)
		if present {
			w.push(data.Key, revision{version: w.version, value: value})
		} else {
			w.clear(data.Key)
		}
	default:
		return errors.Errorf("storage: unknown atomic operation %s", data.Op)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
