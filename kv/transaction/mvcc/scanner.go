package mvcc

import (
	"bytes"

	"github.com/cznic/mathutil"

	"github.com/fdbmem/fdbmem/kv/storage"
)

// mergedIter walks the view of a transaction: the snapshot at its read version overlaid with its own
// writes. Keys cleared locally are skipped, keys written locally take their local value, and keys
// with pending atomic operations get those operations applied over the snapshot value.
// Invariant: either Valid is false, or Key and Value describe the current pair of the view.
type mergedIter struct {
	snap    *storage.Iterator
	buf     *writeBuffer
	local   []*pendingWrite
	reverse bool

	key        []byte
	value      []byte
	unreadable bool
	valid      bool
}

func newMergedIter(reader *storage.Reader, buf *writeBuffer, start, end []byte, reverse bool) *mergedIter {
	it := &mergedIter{
		snap:    reader.Iter(start, end, reverse),
		buf:     buf,
		local:   buf.pending(start, end),
		reverse: reverse,
	}
	if reverse {
		for i, j := 0, len(it.local)-1; i < j; i, j = i+1, j-1 {
			it.local[i], it.local[j] = it.local[j], it.local[i]
		}
	}
	it.Next()
	return it
}

func (it *mergedIter) Valid() bool {
	return it.valid
}

func (it *mergedIter) Key() []byte {
	return it.key
}

func (it *mergedIter) Value() []byte {
	return it.value
}

// Unreadable reports whether the current value is a pending versionstamped value.
func (it *mergedIter) Unreadable() bool {
	return it.unreadable
}

// before reports whether a comes before b in iteration order.
func (it *mergedIter) before(a, b []byte) bool {
	if it.reverse {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

// Next advances to the next pair of the view. The iterator starts positioned on the first pair, so
// Next is also used to prime it.
func (it *mergedIter) Next() {
	for {
		// A key written again after a local range clear has a pending write, whose value does not
		// depend on the snapshot.
		for it.snap.Valid() && it.buf.inCleared(it.snap.Key()) {
			it.snap.Next()
		}

		snapValid, localValid := it.snap.Valid(), len(it.local) > 0
		if !snapValid && !localValid {
			it.valid = false
			it.key, it.value, it.unreadable = nil, nil, false
			return
		}

		if !localValid || (snapValid && it.before(it.snap.Key(), it.local[0].key)) {
			it.key, it.value, it.unreadable = it.snap.Key(), it.snap.Value(), false
			it.valid = true
			it.snap.Next()
			return
		}

		w := it.local[0]
		it.local = it.local[1:]
		var base []byte
		exists := false
		if snapValid && bytes.Equal(it.snap.Key(), w.key) {
			base, exists = it.snap.Value(), true
			it.snap.Next()
		}
		if w.unreadable {
			it.key, it.value, it.unreadable = w.key, nil, true
			it.valid = true
			return
		}
		if value, ok := w.apply(base, exists); ok {
			it.key, it.value, it.unreadable = w.key, value, false
			it.valid = true
			return
		}
	}
}

// ScanOptions control a Scanner.
type ScanOptions struct {
	// BatchSize is the number of pairs fetched per range read. 0 means DefaultScanBatchSize.
	BatchSize int
	// Limit caps the total number of pairs returned. 0 means unlimited.
	Limit   int
	Reverse bool
}

// DefaultScanBatchSize is the batch size of a Scanner when none is given.
const DefaultScanBatchSize = 256

// rangeReader is the part of a transaction a Scanner needs; both Txn and Snapshot provide it.
type rangeReader interface {
	GetRange(begin, end KeySelector, opts RangeOptions) (RangeResult, error)
}

// Scanner is used for reading a range of any size from a transaction. It reads the range in batches,
// continuing each batch from the last key of the previous one, so only one batch is held in memory.
// Invariant: either the scanner is finished, or it holds pairs or can fetch more.
type Scanner struct {
	txn      rangeReader
	begin    KeySelector
	end      KeySelector
	opts     ScanOptions
	batch    []storage.KvPair
	returned int
	more     bool
}

// NewScanner creates a scanner over the range between the two selectors.
func NewScanner(txn rangeReader, begin, end KeySelector, opts ScanOptions) *Scanner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultScanBatchSize
	}
	return &Scanner{
		txn:   txn,
		begin: begin,
		end:   end,
		opts:  opts,
		more:  true,
	}
}

// Next returns the next key/value pair from the scanner. If the scanner is exhausted, then it will
// return `nil, nil, nil`.
func (scan *Scanner) Next() ([]byte, []byte, error) {
	if scan.opts.Limit > 0 && scan.returned >= scan.opts.Limit {
		return nil, nil, nil
	}
	if len(scan.batch) == 0 {
		if !scan.more {
			return nil, nil, nil
		}
		if err := scan.fetch(); err != nil {
			return nil, nil, err
		}
		if len(scan.batch) == 0 {
			return nil, nil, nil
		}
	}
	pair := scan.batch[0]
	scan.batch = scan.batch[1:]
	scan.returned++
	return pair.Key, pair.Value, nil
}

func (scan *Scanner) fetch() error {
	size := scan.opts.BatchSize
	if scan.opts.Limit > 0 {
		size = mathutil.Min(size, scan.opts.Limit-scan.returned)
	}
	result, err := scan.txn.GetRange(scan.begin, scan.end, RangeOptions{Limit: size, Reverse: scan.opts.Reverse})
	if err != nil {
		return err
	}
	scan.batch = result.KeyValues
	scan.more = result.More
	if n := len(result.KeyValues); n > 0 {
		last := result.KeyValues[n-1].Key
		if scan.opts.Reverse {
			scan.end = FirstGreaterOrEqual(last)
		} else {
			scan.begin = FirstGreaterThan(last)
		}
	}
	return nil
}

// Close releases the buffered batch.
func (scan *Scanner) Close() {
	scan.batch = nil
	scan.more = false
}
