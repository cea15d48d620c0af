package db

import (
	"io"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/config"
	"github.com/fdbmem/fdbmem/kv/storage"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/transaction/oracle"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
	"github.com/fdbmem/fdbmem/kv/util/worker"
)

// DB is an in-memory database. Transactions begun on it see snapshot isolation and commit with
// optimistic conflict detection.
type DB struct {
	conf   *config.Config
	limits mvcc.Limits
	oracle *oracle.Oracle

	wg        sync.WaitGroup
	compactor *worker.Worker
	closeCh   chan struct{}
	closed    *atomic.Bool
}

// Open creates an empty database configured by conf.
func Open(conf *config.Config) (*DB, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := CheckAPIVersion(conf.APIVersion); err != nil {
		return nil, err
	}
	db := &DB{
		conf: conf,
		limits: mvcc.Limits{
			KeySizeLimit:         int(conf.KeySizeLimit),
			ValueSizeLimit:       int(conf.ValueSizeLimit),
			TransactionSizeLimit: int(conf.TransactionSizeLimit),
			StrictRange:          conf.StrictRange,
		},
		oracle:  oracle.New(storage.NewMemStorage()),
		closeCh: make(chan struct{}),
		closed:  atomic.NewBool(false),
	}
	if conf.Compaction.Enabled {
		db.startCompaction()
	}
	log.Info("database opened",
		zap.Bool("compaction", conf.Compaction.Enabled),
		zap.Int("retry-limit", conf.RetryLimit))
	return db, nil
}

// Close stops background work. Transactions begun afterwards fail.
func (db *DB) Close() error {
	if !db.closed.CAS(false, true) {
		return nil
	}
	close(db.closeCh)
	if db.compactor != nil {
		db.compactor.Stop()
	}
	db.wg.Wait()
	log.Info("database closed", zap.Uint64("version", db.oracle.CurrentVersion()))
	return nil
}

func (db *DB) begin(readOnly bool) (*mvcc.Txn, error) {
	if db.closed.Load() {
		return nil, errors.Trace(txnerr.ErrInvalidOperation)
	}
	return mvcc.NewTxn(db.oracle, db.limits, readOnly), nil
}

// BeginTransaction starts a transaction reading at the current version.
func (db *DB) BeginTransaction() (*mvcc.Txn, error) {
	return db.begin(false)
}

// BeginReadOnlyTransaction starts a transaction that rejects writes.
func (db *DB) BeginReadOnlyTransaction() (*mvcc.Txn, error) {
	return db.begin(true)
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.conf
}

// Oracle returns the commit oracle of the database.
func (db *DB) Oracle() *oracle.Oracle {
	return db.oracle
}

// Store returns the versioned store behind the database.
func (db *DB) Store() *storage.MemStorage {
	return db.oracle.Store()
}

// Version returns the newest committed version.
func (db *DB) Version() uint64 {
	return db.oracle.CurrentVersion()
}

// Compact prunes history older than the configured retention that no open transaction reads.
func (db *DB) Compact() (storage.CompactStats, error) {
	return db.oracle.Compact(db.conf.Compaction.VersionRetention)
}

// Dump writes the whole key space and its history to w.
func (db *DB) Dump(w io.Writer) error {
	return db.Store().Dump(w)
}

type compactTask struct{}

type compactHandler struct {
	db *DB
}

func (h *compactHandler) Handle(t worker.Task) {
	if _, ok := t.(compactTask); !ok {
		log.Error("unexpected compaction task", zap.Reflect("task", t))
		return
	}
	if _, err := h.db.Compact(); err != nil {
		log.Warn("compaction failed", zap.Error(err))
	}
}

func (db *DB) startCompaction() {
	db.compactor = worker.NewWorker("compactor", &db.wg)
	db.compactor.Start(&compactHandler{db: db})

	interval := db.conf.Compaction.Interval.Duration
	db.wg.Add(1)
	go func() {
		defer db.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				db.compactor.Schedule(compactTask{})
			case <-db.closeCh:
				return
			}
		}
	}()
}
