package client

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"matchbook/wire"
)

// BenchConfig drives a load run: Concurrency workers, each with its own
// connection, send Requests orders spaced by Interval after Warmup
// unmeasured requests.
type BenchConfig struct {
	Addr        string
	Instrument  string
	Requests    int
	Concurrency int
	Interval    time.Duration
	Warmup      int
	Timeout     time.Duration
}

type BenchResult struct {
	Latencies []time.Duration
	Elapsed   time.Duration

	Min, Mean, P50, P95, P99, Max time.Duration
	Throughput                    float64 // requests per second
	Errors                        int
}

// RunBench executes the load run. Orders alternate sides around a fixed
// price so roughly half of them trade and the book stays shallow.
func RunBench(cfg BenchConfig) (*BenchResult, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("bench: requests must be positive, got %d", cfg.Requests)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, cfg.Requests*cfg.Concurrency)
		errs      int
	)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			local, failed := benchWorker(cfg, worker)
			mu.Lock()
			latencies = append(latencies, local...)
			errs += failed
			mu.Unlock()
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if len(latencies) == 0 {
		return nil, fmt.Errorf("bench: all %d requests failed", cfg.Requests*cfg.Concurrency)
	}

	res := &BenchResult{Latencies: latencies, Elapsed: elapsed, Errors: errs}
	res.summarize()
	return res, nil
}

func benchWorker(cfg BenchConfig, worker int) (latencies []time.Duration, errs int) {
	c, err := Dial(cfg.Addr, cfg.Timeout)
	if err != nil {
		return nil, cfg.Requests
	}
	defer c.Close()

	send := func(i int) (time.Duration, error) {
		side := wire.SideBuy
		if i%2 == 1 {
			side = wire.SideSell
		}
		begin := time.Now()
		_, err := c.Place(cfg.Instrument, side, 100, 1)
		return time.Since(begin), err
	}

	for i := 0; i < cfg.Warmup; i++ {
		if _, err := send(i); err != nil {
			break
		}
	}

	latencies = make([]time.Duration, 0, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		lat, err := send(i + worker) // offset staggers sides across workers
		if err != nil {
			errs++
			var terr *TransportError
			if errors.As(err, &terr) {
				// The connection is gone; the remaining requests from
				// this worker cannot be sent.
				errs += cfg.Requests - i - 1
				break
			}
			continue
		}
		latencies = append(latencies, lat)
		if cfg.Interval > 0 {
			time.Sleep(cfg.Interval)
		}
	}
	return latencies, errs
}

func (r *BenchResult) summarize() {
	sorted := make([]time.Duration, len(r.Latencies))
	copy(sorted, r.Latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	n := len(sorted)
	r.Min = sorted[0]
	r.Max = sorted[n-1]
	r.Mean = total / time.Duration(n)
	r.P50 = percentile(sorted, 50)
	r.P95 = percentile(sorted, 95)
	r.P99 = percentile(sorted, 99)
	r.Throughput = float64(n) / r.Elapsed.Seconds()
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}

// Report prints the latency summary.
func (r *BenchResult) Report(w io.Writer) {
	fmt.Fprintf(w, "requests: %d  errors: %d  elapsed: %s  throughput: %.1f req/s\n",
		len(r.Latencies), r.Errors, r.Elapsed.Round(time.Millisecond), r.Throughput)
	fmt.Fprintf(w, "latency: min=%s mean=%s p50=%s p95=%s p99=%s max=%s\n",
		r.Min, r.Mean, r.P50, r.P95, r.P99, r.Max)
}

// WriteCSV emits one (index, latency_us) row per measured request, in
// completion order, for the external charting consumer.
func (r *BenchResult) WriteCSV(w io.Writer) {
	fmt.Fprintln(w, "request,latency_us")
	for i, d := range r.Latencies {
		fmt.Fprintf(w, "%d,%d\n", i, d.Microseconds())
	}
}
