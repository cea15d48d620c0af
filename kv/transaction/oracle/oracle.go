package oracle

import (
	"sort"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/storage"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
)

// The oracle is the single authority for versions. It hands out read versions, decides whether a
// transaction may commit and assigns commit versions. Commits are serialized: conflict checking,
// applying the mutations and advancing the version happen under one lock, so versions are assigned in
// commit order and a transaction that sees a version sees every commit up to it.
//
// Conflict checking is optimistic. Every successful commit leaves a record of the key ranges it wrote;
// a transaction fails with not_committed if any record newer than its read version overlaps a range
// it read.

// CommitRequest is everything the oracle needs to commit one transaction.
type CommitRequest struct {
	ReadVersion uint64
	Mutations   []storage.Modify
	ReadRanges  []storage.KeyRange
	WriteRanges []storage.KeyRange
}

// ReadOnly reports whether committing the request changes nothing.
func (r *CommitRequest) ReadOnly() bool {
	return len(r.Mutations) == 0 && len(r.WriteRanges) == 0
}

type commitRecord struct {
	version uint64
	// writes is sorted and merged.
	writes []storage.KeyRange
}

// Oracle commits transactions against a MemStorage.
type Oracle struct {
	store *storage.MemStorage

	// mu serializes commits and compactions.
	mu      sync.Mutex
	version *atomic.Uint64
	history []commitRecord

	readers struct {
		sync.Mutex
		// active counts the open transactions reading at each version.
		active map[uint64]int
		// floor is the oldest version that can still be read.
		floor uint64
	}
}

// New creates an oracle over store, continuing from the version store is at.
func New(store *storage.MemStorage) *Oracle {
	o := &Oracle{
		store:   store,
		version: atomic.NewUint64(store.Version()),
	}
	o.readers.active = make(map[uint64]int)
	versionGauge.Set(float64(store.Version()))
	return o
}

// Store returns the store the oracle commits to.
func (o *Oracle) Store() *storage.MemStorage {
	return o.store
}

// CurrentVersion returns the newest committed version.
func (o *Oracle) CurrentVersion() uint64 {
	return o.version.Load()
}

// Floor returns the oldest version that can still be read.
func (o *Oracle) Floor() uint64 {
	o.readers.Lock()
	defer o.readers.Unlock()
	return o.readers.floor
}

// AcquireReadVersion returns the current version and registers a reader at it. The version cannot be
// compacted away until ReleaseReadVersion is called.
func (o *Oracle) AcquireReadVersion() uint64 {
	o.readers.Lock()
	defer o.readers.Unlock()
	v := o.version.Load()
	o.readers.active[v]++
	return v
}

// PinReadVersion registers a reader at an explicit version.
func (o *Oracle) PinReadVersion(v uint64) error {
	o.readers.Lock()
	defer o.readers.Unlock()
	if v < o.readers.floor {
		return errors.Trace(txnerr.ErrTransactionTooOld)
	}
	if v > o.version.Load() {
		return errors.Trace(txnerr.ErrFutureVersion)
	}
	o.readers.active[v]++
	return nil
}

// ReleaseReadVersion unregisters a reader registered by AcquireReadVersion or PinReadVersion.
func (o *Oracle) ReleaseReadVersion(v uint64) {
	o.readers.Lock()
	defer o.readers.Unlock()
	if n := o.readers.active[v]; n > 1 {
		o.readers.active[v] = n - 1
	} else {
		delete(o.readers.active, v)
	}
}

// ActiveReaders returns the number of registered readers.
func (o *Oracle) ActiveReaders() int {
	o.readers.Lock()
	defer o.readers.Unlock()
	n := 0
	for _, c := range o.readers.active {
		n += c
	}
	return n
}

// TryCommit checks req for conflicts and applies its mutations at a new version, which it returns. A
// read-only request always succeeds without consuming a version and returns 0.
func (o *Oracle) TryCommit(req *CommitRequest) (uint64, error) {
	if req.ReadOnly() {
		commitCounter.WithLabelValues("read_only").Inc()
		return 0, nil
	}
	start := time.Now()
	defer func() {
		commitDuration.Observe(time.Since(start).Seconds())
	}()

	o.mu.Lock()
	defer o.mu.Unlock()

	if req.ReadVersion < o.Floor() {
		commitCounter.WithLabelValues("too_old").Inc()
		return 0, errors.Trace(txnerr.ErrTransactionTooOld)
	}
	current := o.version.Load()
	if req.ReadVersion > current {
		commitCounter.WithLabelValues("future_version").Inc()
		return 0, errors.Trace(txnerr.ErrFutureVersion)
	}

	if len(req.ReadRanges) > 0 {
		reads := storage.MergeRanges(req.ReadRanges)
		if conflict, ok := o.findConflict(req.ReadVersion, reads); ok {
			commitCounter.WithLabelValues("conflict").Inc()
			log.Debug("transaction conflict",
				zap.Uint64("read-version", req.ReadVersion),
				zap.Uint64("conflicting-version", conflict))
			return 0, errors.Trace(txnerr.ErrNotCommitted)
		}
	}

	next := current + 1
	if err := o.store.Write(next, req.Mutations); err != nil {
		commitCounter.WithLabelValues("error").Inc()
		log.Warn("commit failed to apply",
			zap.Uint64("version", next),
			zap.Error(err))
		return 0, err
	}
	o.history = append(o.history, commitRecord{
		version: next,
		writes:  storage.MergeRanges(req.WriteRanges),
	})
	o.version.Store(next)

	commitCounter.WithLabelValues("committed").Inc()
	versionGauge.Set(float64(next))
	historyGauge.Set(float64(len(o.history)))
	return next, nil
}

// findConflict returns the version of the oldest commit after readVersion that wrote into reads.
func (o *Oracle) findConflict(readVersion uint64, reads []storage.KeyRange) (uint64, bool) {
	i := sort.Search(len(o.history), func(i int) bool {
		return o.history[i].version > readVersion
	})
	for ; i < len(o.history); i++ {
		if storage.RangesIntersect(reads, o.history[i].writes) {
			return o.history[i].version, true
		}
	}
	return 0, false
}

// Compact raises the read floor to the older of the oldest registered reader and the current version
// minus retention, then discards store history and conflict records nobody can observe anymore.
// Transactions reading below the new floor fail with transaction_too_old.
func (o *Oracle) Compact(retention uint64) (storage.CompactStats, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.version.Load()
	floor := uint64(0)
	if current > retention {
		floor = current - retention
	}

	o.readers.Lock()
	for v := range o.readers.active {
		if v < floor {
			floor = v
		}
	}
	if floor < o.readers.floor {
		floor = o.readers.floor
	}
	o.readers.floor = floor
	o.readers.Unlock()

	stats, err := o.store.Compact(floor)
	if err != nil {
		return stats, err
	}

	i := sort.Search(len(o.history), func(i int) bool {
		return o.history[i].version > floor
	})
	o.history = append(o.history[:0], o.history[i:]...)

	compactionCounter.Inc()
	prunedRevisionsCounter.Add(float64(stats.Revisions))
	historyGauge.Set(float64(len(o.history)))
	log.Info("compacted history",
		zap.Uint64("floor", floor),
		zap.Uint64("version", current),
		zap.Int("removed-keys", stats.Keys),
		zap.Int("removed-revisions", stats.Revisions))
	return stats, nil
}
