// Package loadtest drives a weighted mix of repository operations through
// the dispatcher and reports latency, throughput, outcomes and resource
// peaks.
package loadtest

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/dal"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/metrics"
	"github.com/ajitpratap0/brick2/pkg/performance"
	"github.com/ajitpratap0/brick2/pkg/repository"
)

// latencySamples bounds the samples kept for percentiles
const latencySamples = 200_000

// Target is the dispatcher contract the harness drives
type Target interface {
	Dispatch(ctx context.Context, op *dal.Operation) (*dal.Result, error)
	Stats() dispatcher.Stats
}

// Runner executes load runs
type Runner struct {
	cfg     config.LoadTestConfig
	dialect datastore.Dialect
	mix     *mix
	logger  *zap.Logger
	metrics *metrics.Registry
	seed    uint64
}

// NewRunner validates cfg and creates a runner building statements for
// dialect. reg may be nil.
func NewRunner(cfg config.LoadTestConfig, dialect datastore.Dialect, logger *zap.Logger, reg *metrics.Registry) (*Runner, error) {
	if cfg.Concurrency < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "concurrency must be >= 1")
	}
	if cfg.Requests <= 0 && cfg.Duration <= 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "one of requests or duration must be set")
	}
	m, err := newMix(cfg.Mix)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		dialect: dialect,
		mix:     m,
		logger:  logger.With(zap.String("component", "loadtest")),
		metrics: reg,
		seed:    uint64(time.Now().UnixNano()),
	}, nil
}

// WithSeed fixes the random seed of the operation mix
func (r *Runner) WithSeed(seed uint64) *Runner {
	r.seed = seed
	return r
}

type recorder struct {
	latency *metrics.LatencyTracker
	count   atomic.Int64
	errors  atomic.Int64
}

// Run seeds an owner and a campaign, then runs the mix until the request
// count is reached, the duration elapses or ctx ends
func (r *Runner) Run(ctx context.Context, target Target) (*Report, error) {
	st := &state{store: repository.NewStore(r.dialect, target)}
	if err := r.seedState(ctx, st); err != nil {
		return nil, err
	}

	ops := make(map[string]*recorder, len(r.mix.entries))
	for _, name := range r.mix.names() {
		ops[name] = &recorder{latency: metrics.NewLatencyTracker(latencySamples)}
	}
	overall := metrics.NewLatencyTracker(latencySamples)
	throughput := metrics.NewThroughputTracker(r.metrics.ThroughputGauge())

	results := newOutcomes()

	runCtx := ctx
	if r.cfg.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.Duration)
		defer cancel()
	}

	r.logger.Info("load run starting",
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Int("requests", r.cfg.Requests),
		zap.Duration("duration", r.cfg.Duration),
		zap.Strings("mix", r.mix.names()))

	monitor := performance.NewResourceMonitor(25 * time.Millisecond)
	monitor.Start()
	start := time.Now()

	var issued atomic.Int64
	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < r.cfg.Concurrency; w++ {
		rng := rand.New(rand.NewPCG(r.seed, uint64(w)))
		g.Go(func() error {
			for gctx.Err() == nil {
				if r.cfg.Requests > 0 && issued.Add(1) > int64(r.cfg.Requests) {
					return nil
				}
				e := r.mix.pick(rng)
				rec := ops[e.name]

				op, err := e.scenario(st, rng)
				if err != nil {
					return err
				}

				began := time.Now()
				res, err := target.Dispatch(gctx, op)
				elapsed := time.Since(began)

				if err != nil && gctx.Err() != nil && interrupted(err) {
					// the run ended under this request
					return nil
				}

				rec.count.Add(1)
				rec.latency.Record(elapsed)
				overall.Record(elapsed)
				throughput.Increment(1)

				if err != nil {
					rec.errors.Add(1)
					results.add(string(errors.TypeOf(err)))
					continue
				}
				results.add(OutcomeOK)
				if e.name == "create_campaign" {
					if id := createdID(res); id > 0 {
						st.addCampaign(id)
					}
				}
			}
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	usage := monitor.Stop()
	throughput.GetAndReset()
	if err != nil {
		return nil, err
	}

	stats := target.Stats()
	report := &Report{
		Started:      start,
		Duration:     elapsed,
		Concurrency:  r.cfg.Concurrency,
		Outcomes:     results.snapshot(),
		Operations:   make(map[string]OperationReport, len(ops)),
		Latency:      summarize(overall),
		PeakInFlight: stats.PeakInFlight,
		PeakLeased:   stats.Pool.PeakLeased,
		PoolMax:      stats.Pool.Max,
		Resources:    usage,
		Dispatcher:   stats,
	}
	for name, rec := range ops {
		report.Operations[name] = OperationReport{
			Count:   rec.count.Load(),
			Errors:  rec.errors.Load(),
			Latency: summarize(rec.latency),
		}
		report.Total += rec.count.Load()
		report.Failed += rec.errors.Load()
	}
	report.Succeeded = report.Total - report.Failed
	if secs := elapsed.Seconds(); secs > 0 {
		report.Throughput = float64(report.Total) / secs
	}

	r.logger.Info("load run finished",
		zap.Int64("total", report.Total),
		zap.Int64("failed", report.Failed),
		zap.Float64("throughput", report.Throughput),
		zap.Duration("p99", report.Latency.P99),
		zap.Int("peak_leased", report.PeakLeased))
	return report, nil
}

// seedState creates the user owning the generated campaigns and one
// campaign for the read scenarios
func (r *Runner) seedState(ctx context.Context, st *state) error {
	suffix := strconv.FormatUint(r.seed%1_000_000, 10)
	user, err := st.store.Users.Create(ctx, map[string]interface{}{
		"email":           "loadtest+" + suffix + "@example.com",
		"username":        "loadtest_" + suffix,
		"full_name":       "Load Test",
		"hashed_password": "not-a-real-hash",
	})
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "failed to seed load test user")
	}
	st.ownerID = user.RecordID()

	campaign, err := st.store.Campaigns.Create(ctx, map[string]interface{}{
		"platform": "google_ads",
		"name":     "Load Seed " + suffix,
		"status":   "active",
		"owner_id": st.ownerID,
	})
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "failed to seed load test campaign")
	}
	st.addCampaign(campaign.RecordID())
	return nil
}

func interrupted(err error) bool {
	return errors.IsType(err, errors.ErrorTypeCancelled) || errors.IsType(err, errors.ErrorTypeTimeout)
}

func createdID(res *dal.Result) int64 {
	if rec, ok := res.First(); ok {
		return rec.RecordID()
	}
	return res.LastInsertID
}

func summarize(l *metrics.LatencyTracker) Latency {
	p := l.Percentiles(50, 95, 99)
	return Latency{P50: p[0], P95: p[1], P99: p[2], Max: l.Max(), Mean: l.Mean()}
}
