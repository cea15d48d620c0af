package db

import (
	"context"
	"math/rand"
	"time"

	"github.com/cznic/mathutil"
	"github.com/opentracing/opentracing-go"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/transaction/txnerr"
)

const initialRetryDelay = 10 * time.Millisecond

// Transact runs fn in a transaction and commits it. When fn or the commit fails with a retryable error
// the transaction is reset and everything is run again after a backoff, up to the configured retry
// limit, so fn must be safe to run more than once. fn may also abort by panicking with a txnerr.Error.
// The value fn returned in the attempt that committed is returned.
func (db *DB) Transact(ctx context.Context, fn func(*mvcc.Txn) (interface{}, error)) (interface{}, error) {
	return db.transact(ctx, false, fn)
}

// ReadTransact is Transact with a read-only transaction.
func (db *DB) ReadTransact(ctx context.Context, fn func(*mvcc.Txn) (interface{}, error)) (interface{}, error) {
	return db.transact(ctx, true, fn)
}

func (db *DB) transact(ctx context.Context, readOnly bool, fn func(*mvcc.Txn) (interface{}, error)) (interface{}, error) {
	txn, err := db.begin(readOnly)
	if err != nil {
		return nil, err
	}
	defer txn.Cancel()

	delay := initialRetryDelay
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}

		result, err := db.attempt(ctx, txn, attempt, fn)
		if err == nil {
			transactCounter.WithLabelValues("committed").Inc()
			return result, nil
		}
		if !txnerr.IsRetryable(err) {
			transactCounter.WithLabelValues("failed").Inc()
			return nil, err
		}
		if limit := db.conf.RetryLimit; limit >= 0 && attempt >= limit {
			transactCounter.WithLabelValues("retry_limit").Inc()
			return nil, err
		}

		retryCounter.Inc()
		wait := jitter(delay)
		log.Debug("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		case <-time.After(wait):
		}
		delay = time.Duration(mathutil.MinInt64(int64(delay)*2, int64(db.conf.MaxRetryDelay.Duration)))

		if err := txn.Reset(); err != nil {
			return nil, err
		}
	}
}

func (db *DB) attempt(ctx context.Context, txn *mvcc.Txn, attempt int, fn func(*mvcc.Txn) (interface{}, error)) (result interface{}, err error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "fdbmem.transact")
	span.SetTag("attempt", attempt)
	defer func() {
		if err != nil {
			span.SetTag("error", true)
			span.LogKV("event", "error", "message", err.Error())
		} else {
			span.SetTag("version", txn.CommittedVersion())
		}
		span.Finish()
	}()

	result, err = run(txn, fn)
	if err != nil {
		return nil, err
	}
	if err = txn.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// run calls fn, turning a panic with a coded error, wrapped or not, into an error.
func run(txn *mvcc.Txn, fn func(*mvcc.Txn) (interface{}, error)) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok || txnerr.CodeOf(e) == 0 {
				panic(r)
			}
			result, err = nil, e
		}
	}()
	return fn(txn)
}

// jitter spreads d uniformly over [d/2, d).
func jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half))
}
