// Package bench drives concurrent counter workloads against a database and reports throughput,
// conflicts and latency percentiles.
package bench

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/olekukonko/tablewriter"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fdbmem/fdbmem/kv/db"
	"github.com/fdbmem/fdbmem/kv/transaction/mutation"
	"github.com/fdbmem/fdbmem/kv/transaction/mvcc"
	"github.com/fdbmem/fdbmem/kv/util/codec"
)

// Workload names.
const (
	// WorkloadAtomic increments counters with blind atomic adds, which never conflict.
	WorkloadAtomic = "atomic"
	// WorkloadReadModifyWrite reads a counter and writes it back incremented.
	WorkloadReadModifyWrite = "rmw"
)

type Options struct {
	Workload string
	Workers  int
	// Operations is the total number of transactions to commit.
	Operations int
	// Counters is the number of distinct counter keys; fewer keys mean more contention.
	Counters int
	// Rate caps the transactions started per second over all workers. 0 means unlimited.
	Rate float64
	// Prefix is prepended to the counter keys.
	Prefix string
}

func DefaultOptions() Options {
	return Options{
		Workload:   WorkloadAtomic,
		Workers:    8,
		Operations: 10000,
		Counters:   16,
		Prefix:     "bench/",
	}
}

func (o *Options) validate() error {
	if o.Workload != WorkloadAtomic && o.Workload != WorkloadReadModifyWrite {
		return errors.Errorf("unknown workload %q", o.Workload)
	}
	if o.Workers <= 0 || o.Operations <= 0 || o.Counters <= 0 {
		return errors.New("workers, operations and counters must be greater than 0")
	}
	if o.Rate < 0 {
		return errors.New("rate must not be negative")
	}
	return nil
}

type Result struct {
	Workload   string
	Operations int
	Retries    int64
	Elapsed    time.Duration
	// Latencies of whole transactions including retries, in milliseconds.
	Mean, P50, P95, P99, Max float64
	// Total is the sum of every counter after the run.
	Total int64
}

// Throughput returns committed transactions per second.
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Operations) / r.Elapsed.Seconds()
}

// Render writes r as a table.
func (r *Result) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Workload", "Ops", "Retries", "Elapsed", "Ops/s", "Mean(ms)", "P50(ms)", "P95(ms)", "P99(ms)", "Max(ms)"})
	table.Append([]string{
		r.Workload,
		fmt.Sprint(r.Operations),
		fmt.Sprint(r.Retries),
		r.Elapsed.Round(time.Millisecond).String(),
		fmt.Sprintf("%.1f", r.Throughput()),
		fmt.Sprintf("%.3f", r.Mean),
		fmt.Sprintf("%.3f", r.P50),
		fmt.Sprintf("%.3f", r.P95),
		fmt.Sprintf("%.3f", r.P99),
		fmt.Sprintf("%.3f", r.Max),
	})
	table.Render()
}

func counterKey(prefix string, i int) []byte {
	return []byte(fmt.Sprintf("%s%06d", prefix, i))
}

// Run executes the workload described by opts against d.
func Run(ctx context.Context, d *db.DB, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Workers)
	}

	var (
		wg        sync.WaitGroup
		next      = atomic.NewInt64(0)
		retries   = atomic.NewInt64(0)
		mu        sync.Mutex
		latencies = make([]float64, 0, opts.Operations)
		firstErr  error
	)
	log.Info("benchmark started",
		zap.String("workload", opts.Workload),
		zap.Int("workers", opts.Workers),
		zap.Int("operations", opts.Operations))

	start := time.Now()
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			local := make([]float64, 0, opts.Operations/opts.Workers+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for next.Inc() <= int64(opts.Operations) {
				if err := limiter.Wait(ctx); err != nil {
					setErr(&mu, &firstErr, err)
					return
				}
				key := counterKey(opts.Prefix, rnd.Intn(opts.Counters))
				begin := time.Now()
				attempts := 0
				_, err := d.Transact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
					attempts++
					return nil, increment(txn, opts.Workload, key)
				})
				if err != nil {
					setErr(&mu, &firstErr, err)
					return
				}
				retries.Add(int64(attempts - 1))
				local = append(local, float64(time.Since(begin))/float64(time.Millisecond))
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if firstErr != nil {
		return nil, firstErr
	}

	result := &Result{
		Workload:   opts.Workload,
		Operations: len(latencies),
		Retries:    retries.Load(),
		Elapsed:    elapsed,
	}
	if err := summarize(result, latencies); err != nil {
		return nil, err
	}
	total, err := sumCounters(ctx, d, opts)
	if err != nil {
		return nil, err
	}
	result.Total = total
	log.Info("benchmark finished",
		zap.Duration("elapsed", elapsed),
		zap.Int64("retries", result.Retries),
		zap.Float64("ops-per-second", result.Throughput()))
	return result, nil
}

func setErr(mu *sync.Mutex, target *error, err error) {
	mu.Lock()
	defer mu.Unlock()
	if *target == nil {
		*target = err
	}
}

func increment(txn *mvcc.Txn, workload string, key []byte) error {
	if workload == WorkloadAtomic {
		return txn.Atomic(key, mutation.Add, codec.EncodeInt64(1))
	}
	value, err := txn.Get(key)
	if err != nil {
		return err
	}
	return txn.Set(key, codec.EncodeInt64(codec.DecodeInt64(value)+1))
}

func summarize(r *Result, latencies []float64) error {
	if len(latencies) == 0 {
		return nil
	}
	var err error
	if r.Mean, err = stats.Mean(latencies); err != nil {
		return errors.Trace(err)
	}
	if r.P50, err = stats.Percentile(latencies, 50); err != nil {
		return errors.Trace(err)
	}
	if r.P95, err = stats.Percentile(latencies, 95); err != nil {
		return errors.Trace(err)
	}
	if r.P99, err = stats.Percentile(latencies, 99); err != nil {
		return errors.Trace(err)
	}
	if r.Max, err = stats.Max(latencies); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func sumCounters(ctx context.Context, d *db.DB, opts Options) (int64, error) {
	begin, end, err := codec.PrefixRange([]byte(opts.Prefix))
	if err != nil {
		return 0, err
	}
	total, err := d.ReadTransact(ctx, func(txn *mvcc.Txn) (interface{}, error) {
		var sum int64
		scan := txn.Snapshot().Scan(mvcc.FirstGreaterOrEqual(begin), mvcc.FirstGreaterOrEqual(end), mvcc.ScanOptions{})
		defer scan.Close()
		for {
			key, value, err := scan.Next()
			if err != nil {
				return nil, err
			}
			if key == nil {
				return sum, nil
			}
			sum += codec.DecodeInt64(value)
		}
	})
	if err != nil {
		return 0, err
	}
	return total.(int64), nil
}
