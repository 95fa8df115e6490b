// landfill-bench measures Put/Get throughput (total elapsed time and
// operations per second) against a
// Landfill store under configurable value size and concurrency.
package main

import (
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/calvinalkan/landfill"
	"github.com/calvinalkan/landfill/internal/storeconfig"
)

// Config holds all benchmark configuration.
type Config struct {
	StoreDir    string
	Count       int
	ValueSize   int
	Concurrency int
}

// Result holds one phase's timing.
type Result struct {
	Label   string
	Ops     int
	Elapsed time.Duration
}

func (r Result) opsPerSec() float64 {
	return float64(r.Ops) / r.Elapsed.Seconds()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := Config{}

	fs := pflag.NewFlagSet("landfill-bench", pflag.ContinueOnError)
	fs.StringVar(&cfg.StoreDir, "store-dir", "", "store directory (overrides config file)")
	fs.IntVar(&cfg.Count, "count", 100_000, "number of Put/Get operations")
	fs.IntVar(&cfg.ValueSize, "value-size", 256, "size in bytes of each stored value")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent workers")
	configPath := fs.String("config", "", "path to a JWCC config file")

	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: landfill-bench [flags]\n\n")
		fmt.Fprint(os.Stderr, "Benchmarks Put/Get throughput against a Landfill store.\n\n")
		fmt.Fprint(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	storeCfg, err := storeconfig.Load(storeconfig.SearchPath(*configPath), *configPath != "", cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.StoreDir = storeCfg.StoreDir

	if cfg.Count < 1 {
		return fmt.Errorf("count must be positive, got %d", cfg.Count)
	}

	store, err := landfill.Open(cfg.StoreDir, landfill.Options{})
	if err != nil {
		return fmt.Errorf("opening store %q: %w", cfg.StoreDir, err)
	}
	defer store.Close()

	fmt.Printf("Benchmarking %d operations, value-size=%d, concurrency=%d, store=%s\n",
		cfg.Count, cfg.ValueSize, cfg.Concurrency, cfg.StoreDir)

	values := generateValues(cfg.Count, cfg.ValueSize)

	putResult, offsets, err := benchPut(store, values, cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("put benchmark: %w", err)
	}

	getResult, err := benchGet(store, offsets, cfg.Concurrency)
	if err != nil {
		return fmt.Errorf("get benchmark: %w", err)
	}

	report(putResult, getResult)

	stat := store.Stat()
	fmt.Printf("\nFinal store stats: head=%d bytes, mapped=%d bytes, index buckets=%d\n",
		stat.HeadOffset, stat.MappedCapacity, stat.IndexBuckets)

	return nil
}

func generateValues(count, size int) [][]byte {
	values := make([][]byte, count)

	for i := range values {
		v := make([]byte, size)
		_, _ = rand.Read(v)
		values[i] = v
	}

	return values
}

func benchPut(store *landfill.Store, values [][]byte, concurrency int) (Result, []uint64, error) {
	offsets := make([]uint64, len(values))

	start := time.Now()

	if err := runConcurrent(len(values), concurrency, func(i int) error {
		off, err := store.Put(values[i])
		if err != nil {
			return err
		}

		offsets[i] = off

		return nil
	}); err != nil {
		return Result{}, nil, err
	}

	return Result{Label: "put", Ops: len(values), Elapsed: time.Since(start)}, offsets, nil
}

func benchGet(store *landfill.Store, offsets []uint64, concurrency int) (Result, error) {
	start := time.Now()

	if err := runConcurrent(len(offsets), concurrency, func(i int) error {
		_, _, err := store.Get(offsets[i])

		return err
	}); err != nil {
		return Result{}, err
	}

	return Result{Label: "get", Ops: len(offsets), Elapsed: time.Since(start)}, nil
}

// runConcurrent partitions [0, n) across concurrency workers and runs f
// on each index, returning the first error observed.
func runConcurrent(n, concurrency int, f func(i int) error) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		wg       sync.WaitGroup
		next     int64
		errOnce  sync.Once
		firstErr error
	)

	worker := func() {
		defer wg.Done()

		for {
			i := int(atomic.AddInt64(&next, 1)) - 1
			if i >= n {
				return
			}

			if err := f(i); err != nil {
				errOnce.Do(func() { firstErr = err })

				return
			}
		}
	}

	wg.Add(concurrency)

	for w := 0; w < concurrency; w++ {
		go worker()
	}

	wg.Wait()

	return firstErr
}

func report(put, get Result) {
	fmt.Printf("\nResults:\n")
	fmt.Printf("  Put: %d ops in %v (%.0f ops/sec)\n", put.Ops, put.Elapsed.Round(time.Millisecond), put.opsPerSec())
	fmt.Printf("  Get: %d ops in %v (%.0f ops/sec)\n", get.Ops, get.Elapsed.Round(time.Millisecond), get.opsPerSec())
}
