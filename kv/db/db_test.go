package db

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fdbmem/fdbmem/kv/config"
	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

func openTestDB(t *testing.T, conf *config.Config) *DB {
	if conf == nil {
		conf = config.NewTestConfig()
	}
	db, err := Open(conf)
	require.Nil(t, err)
	return db
}

func TestHelloWorld(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	set := func(value string) uint64 {
		txn, err := db.BeginTransaction()
		require.Nil(t, err)
		require.Nil(t, txn.Set([]byte("hello"), []byte(value)))
		require.Nil(t, txn.Commit())
		return txn.CommittedVersion()
	}

	v1 := set("World!")
	check, err := db.BeginReadOnlyTransaction()
	require.Nil(t, err)
	value, err := check.Get([]byte("hello"))
	require.Nil(t, err)
	assert.Equal(t, "World!", string(value))
	require.Nil(t, check.Commit())

	v2 := set("Le Monde!")
	reader, err := db.BeginReadOnlyTransaction()
	require.Nil(t, err)
	readVersion, err := reader.GetReadVersion()
	require.Nil(t, err)
	assert.Equal(t, v2, readVersion)
	v3 := set("Sekai!")
	assert.True(t, v1 < v2 && v2 < v3)

	value, err = reader.Get([]byte("hello"))
	require.Nil(t, err)
	assert.Equal(t, "Le Monde!", string(value))
	require.Nil(t, reader.Commit())

	latest, err := db.BeginReadOnlyTransaction()
	require.Nil(t, err)
	value, err = latest.Get([]byte("hello"))
	require.Nil(t, err)
	assert.Equal(t, "Sekai!", string(value))
	latest.Cancel()

	assert.Equal(t, v3, db.Version())
	assert.Equal(t, 0, db.Oracle().ActiveReaders())
}

func TestTransactReturnsResult(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	ctx := context.Background()
	_, err := db.Transact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
		return nil, txn.Set([]byte("k"), []byte("v"))
	})
	require.Nil(t, err)

	result, err := db.ReadTransact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
		return txn.Get([]byte("k"))
	})
	require.Nil(t, err)
	assert.Equal(t, []byte("v"), result)

	_, err = db.ReadTransact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
		return nil, txn.Set([]byte("k"), []byte("w"))
	})
	assert.Equal(t, txnerr.CodeClientInvalidOperation, txnerr.CodeOf(err))
}

func TestTransactRetriesConflicts(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	attempts := 0
	result, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		attempts++
		value, err := txn.Get([]byte("counter"))
		if err != nil {
			return nil, err
		}
		if attempts == 1 {
			// Commit a competing write after the read.
			other, err := db.BeginTransaction()
			require.Nil(t, err)
			require.Nil(t, other.Set([]byte("counter"), codec.EncodeInt64(10)))
			require.Nil(t, other.Commit())
		}
		next := codec.EncodeInt64(codec.DecodeInt64(value) + 1)
		return next, txn.Set([]byte("counter"), next)
	})
	require.Nil(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(11), codec.DecodeInt64(result.([]byte)))
}

func TestTransactRecoversCodedPanics(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	attempts := 0
	_, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		attempts++
		if attempts < 3 {
			panic(txnerr.ErrNotCommitted)
		}
		return nil, txn.Set([]byte("k"), []byte("v"))
	})
	require.Nil(t, err)
	assert.Equal(t, 3, attempts)

	// Errors returned by a transaction are traced, and still carry their code.
	stale, err := db.BeginTransaction()
	require.Nil(t, err)
	stale.Cancel()
	attempts = 0
	assert.NotPanics(t, func() {
		_, err = db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
			attempts++
			if _, err := stale.Get([]byte("k")); err != nil {
				panic(err)
			}
			return nil, nil
		})
	})
	assert.Equal(t, txnerr.CodeTransactionCancelled, txnerr.CodeOf(err))
	assert.Equal(t, 1, attempts)

	conflicts := 0
	_, err = db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		if conflicts < 2 {
			conflicts++
			panic(errors.Trace(txnerr.ErrNotCommitted))
		}
		return nil, txn.Set([]byte("k"), []byte("w"))
	})
	require.Nil(t, err)
	assert.Equal(t, 2, conflicts)

	assert.Panics(t, func() {
		db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
			panic(errors.New("uncoded"))
		})
	})
	assert.Panics(t, func() {
		db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
			panic("boom")
		})
	})
}

func TestTransactDoesNotRetryOtherErrors(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	attempts := 0
	_, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		attempts++
		return nil, txn.Set([]byte("\xff\x01"), []byte("v"))
	})
	assert.Equal(t, txnerr.CodeKeyOutsideLegalRange, txnerr.CodeOf(err))
	assert.Equal(t, 1, attempts)
}

func TestTransactRetryLimit(t *testing.T) {
	conf := config.NewTestConfig()
	conf.RetryLimit = 2
	db := openTestDB(t, conf)
	defer db.Close()

	attempts := 0
	_, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		attempts++
		return nil, txnerr.ErrTransactionTooOld
	})
	assert.Equal(t, txnerr.CodeTransactionTooOld, txnerr.CodeOf(err))
	assert.Equal(t, 3, attempts)
}

func TestTransactHonorsContext(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := db.Transact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
		attempts++
		cancel()
		return nil, txnerr.ErrNotCommitted
	})
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 0, db.Oracle().ActiveReaders())
}

func TestConcurrentAtomicAdds(t *testing.T) {
	db := openTestDB(t, nil)
	defer db.Close()

	const workers, adds = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < adds; j++ {
				_, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
					return nil, txn.Atomic([]byte("hits"), mutation.Add, codec.EncodeInt64(1))
				})
				assert.Nil(t, err)
			}
		}()
	}
	wg.Wait()

	result, err := db.ReadTransact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
		return txn.Get([]byte("hits"))
	})
	require.Nil(t, err)
	assert.Equal(t, int64(workers*adds), codec.DecodeInt64(result.([]byte)))
	assert.Equal(t, uint64(workers*adds), db.Version())
}

func TestBackgroundCompaction(t *testing.T) {
	conf := config.NewTestConfig()
	conf.Compaction.Enabled = true
	conf.Compaction.Interval = config.NewDuration(10 * time.Millisecond)
	conf.Compaction.VersionRetention = 2
	db := openTestDB(t, conf)
	defer db.Close()

	for i := 0; i < 10; i++ {
		_, err := db.Transact(context.Background(), func(txn *mvcc.Txn) (interface{}, error) {
			return nil, txn.Set([]byte("k"), []byte{byte(i)})
		})
		require.Nil(t, err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for db.Oracle().Floor() < 8 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, uint64(8), db.Oracle().Floor())
	assert.True(t, db.Store().Stats().Revisions <= 3)

	var buf bytes.Buffer
	require.Nil(t, db.Dump(&buf))
	assert.Contains(t, buf.String(), "version 10")
}

func TestClosedDB(t *testing.T) {
	db := openTestDB(t, nil)
	require.Nil(t, db.Close())
	require.Nil(t, db.Close())

	_, err := db.BeginTransaction()
	assert.Equal(t, txnerr.CodeClientInvalidOperation, txnerr.CodeOf(err))
}

func TestCheckAPIVersion(t *testing.T) {
	assert.Nil(t, CheckAPIVersion(""))
	assert.Nil(t, CheckAPIVersion("6.0.0"))
	assert.Nil(t, CheckAPIVersion("6.1.0"))
	assert.NotNil(t, CheckAPIVersion("6.2.0"))
	assert.NotNil(t, CheckAPIVersion("5.2.0"))
	assert.NotNil(t, CheckAPIVersion("six"))

	conf := config.NewTestConfig()
	conf.APIVersion = "7.0.0"
	_, err := Open(conf)
	assert.NotNil(t, err)
}
