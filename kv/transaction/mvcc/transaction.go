package mvcc

import (
	"bytes"
	"sync"

	"github.com/pingcap/errors"

	"github.com/fdbmem/fdbmem/kv/storage"
	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/transaction/oracle"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// TxnState is the lifecycle state of a transaction.
type TxnState int

const (
	StateActive TxnState = iota
	StateCommitting
	StateCommitted
	StateConflicted
	// StateFailed is reached when a commit fails for any reason other than a conflict.
	StateFailed
	StateCancelled
)

var stateNames = map[TxnState]string{
	StateActive:     "active",
	StateCommitting: "committing",
	StateCommitted:  "committed",
	StateConflicted: "conflicted",
	StateFailed:     "failed",
	StateCancelled:  "cancelled",
}

func (s TxnState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Limits are the size limits and range options transactions are checked against.
type Limits struct {
	KeySizeLimit         int
	ValueSizeLimit       int
	TransactionSizeLimit int
	// StrictRange makes range reads with inverted bounds fail with inverted_range instead of
	// returning nothing.
	StrictRange bool
}

// DefaultLimits returns the limits of the real database.
func DefaultLimits() Limits {
	return Limits{
		KeySizeLimit:         10000,
		ValueSizeLimit:       mutation.ValueSizeLimit,
		TransactionSizeLimit: 10000000,
	}
}

// RangeOptions control a single range read.
type RangeOptions struct {
	// Limit caps the number of pairs returned. 0 means unlimited.
	Limit   int
	Reverse bool
}

// RangeResult is the result of a range read. More is set when the limit cut the result short.
type RangeResult struct {
	KeyValues []storage.KvPair
	More      bool
}

// Txn is a transaction. It reads a consistent snapshot of the store at its read version, merged with its
// own buffered writes, and records the key ranges it reads and writes. Nothing it does is visible to
// anyone else until Commit succeeds, at which point all its writes become visible at once.
//
// A Txn may be used from several goroutines.
type Txn struct {
	mu       sync.Mutex
	oracle   *oracle.Oracle
	limits   Limits
	readOnly bool

	state       TxnState
	readVersion uint64
	// registered is set while the read version is registered with the oracle.
	registered bool
	reader     *storage.Reader
	// read is set once anything was read; the read version cannot change afterwards.
	read       bool
	writes     *writeBuffer
	readRanges []storage.KeyRange

	committedVersion uint64
}

// NewTxn begins a transaction reading at the current version of o.
func NewTxn(o *oracle.Oracle, limits Limits, readOnly bool) *Txn {
	t := &Txn{
		oracle:   o,
		limits:   limits,
		readOnly: readOnly,
	}
	t.begin()
	return t
}

func (t *Txn) begin() {
	t.state = StateActive
	t.readVersion = t.oracle.AcquireReadVersion()
	t.registered = true
	t.reader = t.oracle.Store().Reader(t.readVersion)
	t.read = false
	t.writes = newWriteBuffer(t.limits.ValueSizeLimit)
	t.readRanges = nil
	t.committedVersion = 0
}

func (t *Txn) release() {
	if t.registered {
		t.oracle.ReleaseReadVersion(t.readVersion)
		t.registered = false
	}
}

// State returns the lifecycle state of the transaction.
func (t *Txn) State() TxnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReadOnly reports whether the transaction was started read-only.
func (t *Txn) ReadOnly() bool {
	return t.readOnly
}

func (t *Txn) checkUsable() error {
	switch t.state {
	case StateActive:
		return nil
	case StateCommitting:
		return errors.Trace(txnerr.ErrUsedDuringCommit)
	case StateCancelled:
		return errors.Trace(txnerr.ErrTransactionCancelled)
	default:
		return errors.Trace(txnerr.ErrInvalidOperation)
	}
}

func (t *Txn) checkWritable() error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	if t.readOnly {
		return errors.Trace(txnerr.ErrInvalidOperation)
	}
	return nil
}

func checkLegal(key []byte) error {
	if bytes.Compare(key, codec.MaxKey) >= 0 {
		return errors.Trace(txnerr.ErrKeyOutsideLegalRange)
	}
	return nil
}

func (t *Txn) checkKey(key []byte) error {
	if len(key) > t.limits.KeySizeLimit {
		return errors.Trace(txnerr.ErrKeyTooLarge)
	}
	return checkLegal(key)
}

func (t *Txn) checkValue(value []byte) error {
	if len(value) > t.limits.ValueSizeLimit {
		return errors.Trace(txnerr.ErrValueTooLarge)
	}
	return nil
}

// checkRange validates the bounds of a range given by the caller. The end may be the end of the key
// space.
func checkRange(begin, end []byte) error {
	if bytes.Compare(begin, codec.MaxKey) > 0 || bytes.Compare(end, codec.MaxKey) > 0 {
		return errors.Trace(txnerr.ErrKeyOutsideLegalRange)
	}
	if bytes.Compare(begin, end) > 0 {
		return errors.Trace(txnerr.ErrInvertedRange)
	}
	return nil
}

func (t *Txn) addReadRange(r storage.KeyRange) {
	t.readRanges = append(t.readRanges, r)
}

func (t *Txn) open(start, end []byte, reverse bool) *mergedIter {
	return newMergedIter(t.reader, t.writes, start, end, reverse)
}

// GetReadVersion returns the version the transaction reads at.
func (t *Txn) GetReadVersion() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return 0, err
	}
	t.read = true
	return t.readVersion, nil
}

// SetReadVersion makes the transaction read at v instead of the version it began at. It must be called
// before anything is read.
func (t *Txn) SetReadVersion(v uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return err
	}
	if t.read {
		return errors.Trace(txnerr.ErrInvalidOperation)
	}
	if err := t.oracle.PinReadVersion(v); err != nil {
		return err
	}
	t.release()
	t.readVersion = v
	t.registered = true
	t.reader = t.oracle.Store().Reader(v)
	return nil
}

// Get returns the value of key, or nil if the key is not set.
func (t *Txn) Get(key []byte) ([]byte, error) {
	return t.get(key, false)
}

func (t *Txn) get(key []byte, snapshot bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	if err := checkLegal(key); err != nil {
		return nil, err
	}
	t.read = true

	w := t.writes.lookup(key)
	if w != nil && w.kind != writeAtomic {
		// The local write decides the value whatever is committed, so there is nothing to conflict with.
		if w.unreadable {
			return nil, errors.Trace(txnerr.ErrAccessedUnreadable)
		}
		value, ok := w.apply(nil, false)
		return present(clone(value), ok), nil
	}

	if !snapshot {
		t.addReadRange(pointRange(key))
	}
	value, ok := t.reader.Get(key)
	if w != nil {
		value, ok = w.apply(value, ok)
	}
	return present(value, ok), nil
}

// GetKey resolves a key selector over the view of the transaction.
func (t *Txn) GetKey(sel KeySelector) ([]byte, error) {
	return t.getKey(sel, false)
}

func (t *Txn) getKey(sel KeySelector, snapshot bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	t.read = true

	key := clone(sel.resolveIn(t.open))
	if !snapshot {
		lo, hi := sel.Key, key
		if bytes.Compare(lo, hi) > 0 {
			lo, hi = hi, lo
		}
		t.addReadRange(storage.KeyRange{Start: clone(lo), End: codec.KeyAfter(hi)})
	}
	return key, nil
}

// GetRange returns the pairs in the range between the keys two selectors resolve to, end exclusive. An
// empty or inverted range returns no pairs, or fails with inverted_range when the range is inverted and
// StrictRange is set.
func (t *Txn) GetRange(begin, end KeySelector, opts RangeOptions) (RangeResult, error) {
	return t.getRange(begin, end, opts, false)
}

func (t *Txn) getRange(begin, end KeySelector, opts RangeOptions, snapshot bool) (RangeResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return RangeResult{}, err
	}
	if opts.Limit < 0 {
		return RangeResult{}, errors.Trace(txnerr.ErrInvalidOperation)
	}
	t.read = true

	b := begin.resolveIn(t.open)
	e := end.resolveIn(t.open)
	var result RangeResult
	if c := bytes.Compare(b, e); c >= 0 {
		if c > 0 && t.limits.StrictRange {
			return RangeResult{}, errors.Trace(txnerr.ErrInvertedRange)
		}
	} else {
		for it := t.open(b, e, opts.Reverse); it.Valid(); it.Next() {
			if opts.Limit > 0 && len(result.KeyValues) == opts.Limit {
				result.More = true
				break
			}
			if it.Unreadable() {
				return RangeResult{}, errors.Trace(txnerr.ErrAccessedUnreadable)
			}
			result.KeyValues = append(result.KeyValues, storage.KvPair{
				Key:   clone(it.Key()),
				Value: present(clone(it.Value()), true),
			})
		}
	}

	if !snapshot {
		t.addReadRange(rangeConflict(begin, end, b, e, result, opts.Reverse))
	}
	return result, nil
}

// rangeConflict returns the range a range read depends on: everything between the selectors and the
// keys they resolved to, narrowed to the last returned key when the limit cut the result short. An end
// selector with offset 1 resolves to the first key at or after its bound, and the keys from the bound
// up to that key are never returned, so the read does not depend on them.
func rangeConflict(begin, end KeySelector, b, e []byte, result RangeResult, reverse bool) storage.KeyRange {
	lo := begin.Key
	if bytes.Compare(b, lo) < 0 {
		lo = b
	}
	hi := end.Key
	if end.OrEqual {
		hi = codec.KeyAfter(end.Key)
	}
	if end.Offset != 1 {
		if after := codec.KeyAfter(e); bytes.Compare(after, hi) > 0 {
			hi = after
		}
	}
	if result.More {
		last := result.KeyValues[len(result.KeyValues)-1].Key
		if reverse {
			lo = last
		} else {
			hi = codec.KeyAfter(last)
		}
	}
	return storage.KeyRange{Start: clone(lo), End: clone(hi)}
}

// Scan returns a scanner that reads the range between the selectors in batches.
func (t *Txn) Scan(begin, end KeySelector, opts ScanOptions) *Scanner {
	return NewScanner(t, begin, end, opts)
}

// Set sets key to value.
func (t *Txn) Set(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkValue(value); err != nil {
		return err
	}
	t.writes.set(key, value)
	return nil
}

// Clear removes key.
func (t *Txn) Clear(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.checkKey(key); err != nil {
		return err
	}
	t.writes.clear(key)
	return nil
}

// ClearRange removes every key in [begin, end).
func (t *Txn) ClearRange(begin, end []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := checkRange(begin, end); err != nil {
		return err
	}
	t.writes.clearRange(begin, end)
	return nil
}

// Atomic merges param into the value of key with op when the transaction commits. It never makes the
// transaction depend on the current value of key, so concurrent atomic operations on one key do not
// conflict.
func (t *Txn) Atomic(key []byte, op mutation.Opcode, param []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if !op.Valid() {
		return errors.Trace(txnerr.ErrInvalidOperation)
	}
	switch op {
	case mutation.SetVersionstampedKey:
		if err := mutation.ValidateVersionstamp(key); err != nil {
			return err
		}
		if err := t.checkKey(key[:len(key)-4]); err != nil {
			return err
		}
	case mutation.SetVersionstampedValue:
		if err := t.checkKey(key); err != nil {
			return err
		}
		if err := mutation.ValidateVersionstamp(param); err != nil {
			return err
		}
	default:
		if err := t.checkKey(key); err != nil {
			return err
		}
	}
	if err := t.checkValue(param); err != nil {
		return err
	}
	return t.writes.atomic(key, op, param)
}

// AddReadConflictRange makes the transaction conflict with writes to [begin, end) as if it had read
// the range.
func (t *Txn) AddReadConflictRange(begin, end []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return err
	}
	if err := checkRange(begin, end); err != nil {
		return err
	}
	t.addReadRange(storage.KeyRange{Start: clone(begin), End: clone(end)})
	return nil
}

// AddReadConflictKey is AddReadConflictRange for a single key.
func (t *Txn) AddReadConflictKey(key []byte) error {
	return t.AddReadConflictRange(key, codec.KeyAfter(key))
}

// AddWriteConflictRange makes transactions that read [begin, end) conflict with this one as if it had
// written the range.
func (t *Txn) AddWriteConflictRange(begin, end []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := checkRange(begin, end); err != nil {
		return err
	}
	t.writes.writeRanges = append(t.writes.writeRanges, storage.KeyRange{Start: clone(begin), End: clone(end)})
	return nil
}

// AddWriteConflictKey is AddWriteConflictRange for a single key.
func (t *Txn) AddWriteConflictKey(key []byte) error {
	return t.AddWriteConflictRange(key, codec.KeyAfter(key))
}

// size is the number of bytes the transaction sends to the committer.
func (t *Txn) size() int {
	n := t.writes.size
	for _, r := range t.readRanges {
		n += len(r.Start) + len(r.End)
	}
	for _, r := range t.writes.writeRanges {
		n += len(r.Start) + len(r.End)
	}
	return n
}

// Commit commits the transaction. On success every buffered write becomes visible at a single new
// version; on failure nothing is applied. A transaction that wrote nothing commits without a version.
func (t *Txn) Commit() error {
	t.mu.Lock()
	if err := t.checkUsable(); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.size() > t.limits.TransactionSizeLimit {
		t.state = StateFailed
		t.release()
		t.mu.Unlock()
		return errors.Trace(txnerr.ErrTransactionTooLarge)
	}
	req := &oracle.CommitRequest{
		ReadVersion: t.readVersion,
		Mutations:   t.writes.mutations,
		ReadRanges:  t.readRanges,
		WriteRanges: t.writes.writeRanges,
	}
	t.state = StateCommitting
	t.mu.Unlock()

	version, err := t.oracle.TryCommit(req)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.release()
	switch {
	case err == nil:
		t.state = StateCommitted
		t.committedVersion = version
	case txnerr.IsConflict(err):
		t.state = StateConflicted
	default:
		t.state = StateFailed
	}
	return err
}

// CommittedVersion returns the version the transaction committed at. It is 0 until the transaction
// commits, and stays 0 for a transaction that wrote nothing.
func (t *Txn) CommittedVersion() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committedVersion
}

// Versionstamp returns the versionstamp of the commit, which is what versionstamped operations of the
// transaction were filled with.
func (t *Txn) Versionstamp() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateCommitted || t.committedVersion == 0 {
		return nil, errors.Trace(txnerr.ErrInvalidOperation)
	}
	return mutation.Versionstamp(t.committedVersion, 0), nil
}

// Cancel abandons the transaction. Its buffered writes are dropped and further use fails with
// transaction_cancelled. Cancelling a transaction that is committing or has committed does nothing.
func (t *Txn) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCommitting || t.state == StateCommitted {
		return
	}
	t.state = StateCancelled
	t.release()
	t.writes = newWriteBuffer(t.limits.ValueSizeLimit)
	t.readRanges = nil
}

// Reset returns the transaction to the state of a new one, reading at the current version. It is what
// a retry loop calls before running the transaction again.
func (t *Txn) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateCommitting {
		return errors.Trace(txnerr.ErrUsedDuringCommit)
	}
	t.release()
	t.begin()
	return nil
}

// Snapshot returns a view of the transaction whose reads record no conflict ranges.
func (t *Txn) Snapshot() *Snapshot {
	return &Snapshot{txn: t}
}

func present(value []byte, ok bool) []byte {
	if !ok {
		return nil
	}
	if value == nil {
		return []byte{}
	}
	return value
}
