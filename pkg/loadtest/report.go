package loadtest

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/json"
	"github.com/ajitpratap0/brick2/pkg/performance"
)

// OutcomeOK counts successful operations in Report.Outcomes
const OutcomeOK = "ok"

// Latency summarises a latency distribution
type Latency struct {
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
}

// OperationReport covers one scenario of the mix
type OperationReport struct {
	Count   int64   `json:"count"`
	Errors  int64   `json:"errors"`
	Latency Latency `json:"latency"`
}

// Report is the result of one load run
type Report struct {
	Started     time.Time                  `json:"started"`
	Duration    time.Duration              `json:"duration"`
	Concurrency int                        `json:"concurrency"`
	Total       int64                      `json:"total"`
	Succeeded   int64                      `json:"succeeded"`
	Failed      int64                      `json:"failed"`
	Outcomes    map[string]int64           `json:"outcomes"`
	Operations  map[string]OperationReport `json:"operations"`
	Throughput  float64                    `json:"throughput_per_second"`
	Latency     Latency                    `json:"latency"`

	PeakInFlight int `json:"peak_in_flight"`
	PeakLeased   int `json:"peak_leased"`
	PoolMax      int `json:"pool_max"`

	Resources  performance.ResourceUsage `json:"resources"`
	Dispatcher dispatcher.Stats          `json:"dispatcher"`
}

// Budgets bound a run; zero fields are not checked
type Budgets struct {
	P99       time.Duration `json:"p99"`
	MemoryMB  int           `json:"memory_mb"`
	MaxLeased int           `json:"max_leased"`
}

// BudgetsFrom derives budgets from the load configuration; the lease budget
// is the pool maximum
func BudgetsFrom(cfg config.LoadTestConfig, poolMax int) Budgets {
	return Budgets{P99: cfg.P99Budget, MemoryMB: cfg.MemoryBudgetMB, MaxLeased: poolMax}
}

// Check returns a validation error listing every exceeded budget
func (r *Report) Check(b Budgets) error {
	var violations []string
	if b.P99 > 0 && r.Latency.P99 > b.P99 {
		violations = append(violations, fmt.Sprintf("p99 latency %v exceeds %v", r.Latency.P99, b.P99))
	}
	if b.MemoryMB > 0 && r.Resources.PeakHeapMB() > float64(b.MemoryMB) {
		violations = append(violations, fmt.Sprintf("peak heap %.1fMB exceeds %dMB", r.Resources.PeakHeapMB(), b.MemoryMB))
	}
	if b.MaxLeased > 0 && r.PeakLeased > b.MaxLeased {
		violations = append(violations, fmt.Sprintf("peak leased connections %d exceeds %d", r.PeakLeased, b.MaxLeased))
	}
	if len(violations) == 0 {
		return nil
	}
	return errors.Newf(errors.ErrorTypeValidation, "%d load budget(s) exceeded", len(violations)).
		WithDetail("violations", violations)
}

// ErrorRate returns failed over total operations
func (r *Report) ErrorRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Failed) / float64(r.Total)
}

// WriteJSON writes the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode report")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteSummary writes a short human readable summary
func (r *Report) WriteSummary(w io.Writer) error {
	outcomes := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)

	_, err := fmt.Fprintf(w, "requests: %d (%d ok, %d failed) in %v, %.1f req/s\n", r.Total, r.Succeeded, r.Failed, r.Duration.Round(time.Millisecond), r.Throughput)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "latency: p50=%v p95=%v p99=%v max=%v\n", r.Latency.P50, r.Latency.P95, r.Latency.P99, r.Latency.Max)
	fmt.Fprintf(w, "peak in-flight: %d, peak leased: %d/%d, peak heap: %.1fMB, peak rss: %.1fMB\n",
		r.PeakInFlight, r.PeakLeased, r.PoolMax, r.Resources.PeakHeapMB(), float64(r.Resources.PeakRSSBytes)/(1<<20))
	for _, k := range outcomes {
		fmt.Fprintf(w, "  %-16s %d\n", k, r.Outcomes[k])
	}
	return nil
}

type outcomes struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newOutcomes() *outcomes {
	return &outcomes{counts: make(map[string]int64)}
}

func (o *outcomes) add(kind string) {
	o.mu.Lock()
	o.counts[kind]++
	o.mu.Unlock()
}

func (o *outcomes) snapshot() map[string]int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int64, len(o.counts))
	for k, v := range o.counts {
		out[k] = v
	}
	return out
}
