// Package measure drives concurrent authenticated reads through the
// token broker and OData proxy to estimate how much load a downstream
// environment sustains. Each worker runs its iterations sequentially
// under a per-request timeout and records one sample per request; the
// run is summarized into a latency report tagged with a unique run ID.
package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/auth"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/logger"
	"github.com/danhnguyen-xiontechs/measure-capacity-d365fno-obo/pkg/odata"
)

//go:generate mockgen -destination=mocks/mock_measure.go -package=mocks -source=measure.go Reader

// Reader issues a single authenticated read against the downstream
// environment. *odata.Client satisfies this interface.
type Reader interface {
	Read(ctx context.Context, entity, query string) (json.RawMessage, error)
}

// Config describes one measurement run.
type Config struct {
	// Workers is the number of concurrent callers to simulate.
	Workers int

	// Iterations is the number of reads each worker issues.
	Iterations int

	// Entity is the entity set the reads target.
	Entity string

	// Query is an optional OData query string appended to each read.
	Query string

	// Timeout bounds each individual request. Unlike the serving path,
	// measurement requests always carry an explicit deadline.
	Timeout time.Duration

	// Assertion is the raw inbound token the reads run on behalf of.
	Assertion string
}

// Validate checks that the run configuration is complete.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.Iterations < 1 {
		return fmt.Errorf("iterations must be at least 1")
	}
	if c.Entity == "" {
		return fmt.Errorf("entity is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Assertion == "" {
		return fmt.Errorf("assertion is required")
	}
	return nil
}

// Sample records the outcome of a single request.
type Sample struct {
	// Worker identifies the worker that issued the request, starting at 0.
	Worker int

	// Seq is the request's position within its worker, starting at 0.
	Seq int

	// Status is the downstream HTTP status when one was observed: 200 for
	// successful reads, the rejection status when the downstream answered
	// non-2xx, and 0 when the request never produced a response.
	Status int

	// Latency is how long the request took, success or not.
	Latency time.Duration

	// Err holds the failure message, empty on success.
	Err string
}

// OK reports whether the request succeeded.
func (s Sample) OK() bool {
	return s.Err == ""
}

// Report summarizes a completed run.
type Report struct {
	RunID      string
	Entity     string
	Workers    int
	Iterations int

	Total     int
	Succeeded int
	Failed    int

	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration

	// Latency aggregates cover all samples, failures included, since a
	// slow rejection still occupies downstream capacity.
	MinLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	MaxLatency time.Duration

	// RequestsPerSecond is the observed throughput across all workers.
	RequestsPerSecond float64
}

// Runner executes measurement runs against a single proxy.
type Runner struct {
	proxy Reader
}

// NewRunner creates a runner that issues its reads through proxy.
func NewRunner(proxy Reader) (*Runner, error) {
	if proxy == nil {
		return nil, fmt.Errorf("proxy is required")
	}
	return &Runner{proxy: proxy}, nil
}

// Run executes the configured workload and returns the aggregate report
// together with every per-request sample in worker order. A rejected or
// timed-out request is recorded as a failed sample, not a run failure;
// Run itself only fails on invalid configuration or when ctx is
// canceled before the workload completes.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Report, []Sample, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	runID := uuid.NewString()
	logger.Infof("Starting capacity run %s: %d workers x %d iterations against %s",
		runID, cfg.Workers, cfg.Iterations, cfg.Entity)

	ctx = auth.WithAssertion(ctx, &auth.Assertion{Raw: cfg.Assertion})

	// Each worker owns one slice, so no locking is needed around samples.
	perWorker := make([][]Sample, cfg.Workers)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			samples := make([]Sample, 0, cfg.Iterations)
			for seq := 0; seq < cfg.Iterations; seq++ {
				samples = append(samples, r.request(gctx, cfg, w, seq))
				if gctx.Err() != nil {
					perWorker[w] = samples
					return gctx.Err()
				}
			}
			perWorker[w] = samples
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)

	samples := make([]Sample, 0, cfg.Workers*cfg.Iterations)
	for _, ws := range perWorker {
		samples = append(samples, ws...)
	}
	if err != nil {
		return nil, samples, fmt.Errorf("capacity run %s aborted: %w", runID, err)
	}

	report := summarize(runID, cfg, samples, elapsed)
	logger.Infof("Capacity run %s complete: %d/%d succeeded in %s (%.1f req/s, p95 %s)",
		runID, report.Succeeded, report.Total, report.Elapsed.Round(time.Millisecond),
		report.RequestsPerSecond, report.P95Latency.Round(time.Millisecond))
	return report, samples, nil
}

// request issues one read under the per-request timeout and converts
// the outcome into a sample.
func (r *Runner) request(ctx context.Context, cfg Config, worker, seq int) Sample {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	_, err := r.proxy.Read(reqCtx, cfg.Entity, cfg.Query)
	sample := Sample{
		Worker:  worker,
		Seq:     seq,
		Status:  200,
		Latency: time.Since(start),
	}
	if err != nil {
		sample.Err = err.Error()
		sample.Status = 0
		if netErr, ok := odata.IsNetworkError(err); ok {
			sample.Status = netErr.Status
		}
	}
	return sample
}

// summarize folds the samples into an aggregate report.
func summarize(runID string, cfg Config, samples []Sample, elapsed time.Duration) *Report {
	report := &Report{
		RunID:      runID,
		Entity:     cfg.Entity,
		Workers:    cfg.Workers,
		Iterations: cfg.Iterations,
		Total:      len(samples),
		Elapsed:    elapsed,
	}

	latencies := make([]time.Duration, 0, len(samples))
	var sum time.Duration
	for _, s := range samples {
		if s.OK() {
			report.Succeeded++
		} else {
			report.Failed++
		}
		latencies = append(latencies, s.Latency)
		sum += s.Latency
	}
	if len(latencies) == 0 {
		return report
	}

	slices.Sort(latencies)
	report.MinLatency = latencies[0]
	report.MaxLatency = latencies[len(latencies)-1]
	report.AvgLatency = sum / time.Duration(len(latencies))
	report.P50Latency = percentile(latencies, 0.50)
	report.P95Latency = percentile(latencies, 0.95)
	if elapsed > 0 {
		report.RequestsPerSecond = float64(len(samples)) / elapsed.Seconds()
	}
	return report
}

// percentile returns the value at quantile q from an ascending sorted
// slice. For N values, the quantile sits at position ceil(N*q), counted
// from 1.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	pos := int(math.Ceil(float64(len(sorted)) * q))
	if pos < 1 {
		pos = 1
	}
	if pos > len(sorted) {
		pos = len(sorted)
	}
	return sorted[pos-1]
}
