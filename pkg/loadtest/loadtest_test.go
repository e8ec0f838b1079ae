package loadtest

import (
	"bytes"
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/brick2/internal/dispatcher"
	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/datastore"
	"github.com/ajitpratap0/brick2/pkg/driver/sim"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/json"
	"github.com/ajitpratap0/brick2/pkg/models"
	"github.com/ajitpratap0/brick2/pkg/repository"
	"github.com/ajitpratap0/brick2/pkg/testutil"
)

type targetOptions struct {
	dialect     datastore.Dialect
	latency     time.Duration
	poolMax     int
	maxInFlight int
}

func newTarget(t *testing.T, o targetOptions) *dispatcher.Dispatcher {
	t.Helper()
	dialect := o.dialect
	stack := testutil.NewStack(t, testutil.StackOptions{
		Sim: sim.Options{
			Latency:   o.latency,
			Dialect:   &dialect,
			Responder: NewFixture(20).Respond,
		},
		Pool:        testutil.PoolConfig(o.poolMax),
		MaxInFlight: o.maxInFlight,
	})
	return stack.Dispatcher
}

func loadConfig() config.LoadTestConfig {
	cfg := config.Default().LoadTest
	cfg.Concurrency = 8
	cfg.Requests = 200
	cfg.P99Budget = time.Second
	cfg.MemoryBudgetMB = 4096
	return cfg
}

func TestFixtureServesRepositories(t *testing.T) {
	for _, dialect := range []datastore.Dialect{datastore.Postgres, datastore.MySQL} {
		t.Run(dialect.Name, func(t *testing.T) {
			d := newTarget(t, targetOptions{dialect: dialect, poolMax: 2, maxInFlight: 8})
			store := repository.NewStore(dialect, d)
			ctx := context.Background()

			recs, err := store.Campaigns.List(ctx, repository.Page{Limit: 5})
			require.NoError(t, err)
			require.Len(t, recs, 5)
			_, ok := recs[0].(models.Campaign)
			assert.True(t, ok)

			ads, err := store.Ads.ListByCampaign(ctx, 42, repository.Page{})
			require.NoError(t, err)
			require.Len(t, ads, 20)
			assert.Equal(t, int64(42), ads[0].(models.Ad).CampaignID)

			created, err := store.Leads.Create(ctx, map[string]interface{}{"campaign_id": int64(3), "email": "a@b.c"})
			require.NoError(t, err)
			assert.Greater(t, created.RecordID(), int64(0))

			got, err := store.Campaigns.Get(ctx, 17)
			require.NoError(t, err)
			assert.Equal(t, int64(17), got.RecordID())

			n, err := store.Users.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(20), n)

			require.NoError(t, store.Ads.Delete(ctx, 1))
		})
	}
}

func TestRunCompletesRequestCount(t *testing.T) {
	d := newTarget(t, targetOptions{dialect: datastore.Postgres, latency: time.Millisecond, poolMax: 4, maxInFlight: 64})
	cfg := loadConfig()

	r, err := NewRunner(cfg, datastore.Postgres, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	report, err := r.WithSeed(7).Run(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, int64(200), report.Total)
	assert.Equal(t, int64(200), report.Outcomes[OutcomeOK])
	assert.Zero(t, report.Failed)
	assert.LessOrEqual(t, report.PeakLeased, 4)
	assert.Equal(t, 4, report.PoolMax)
	assert.Greater(t, report.Throughput, float64(0))
	assert.Greater(t, report.Latency.P99, time.Duration(0))
	assert.LessOrEqual(t, report.Latency.P50, report.Latency.P99)
	assert.Greater(t, report.Resources.PeakHeapInuseBytes, uint64(0))

	var sum int64
	for _, op := range report.Operations {
		sum += op.Count
	}
	assert.Equal(t, report.Total, sum)

	assert.NoError(t, report.Check(BudgetsFrom(cfg, 4)))

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Contains(t, decoded, "latency")

	buf.Reset()
	require.NoError(t, report.WriteSummary(&buf))
	assert.Contains(t, buf.String(), "requests: 200")
}

func TestRunWithReadBackDialect(t *testing.T) {
	d := newTarget(t, targetOptions{dialect: datastore.MySQL, poolMax: 2, maxInFlight: 16})
	cfg := loadConfig()
	cfg.Mix = map[string]int{"create_campaign": 1, "get_campaign": 1}
	cfg.Requests = 50

	r, err := NewRunner(cfg, datastore.MySQL, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	report, err := r.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.Outcomes[OutcomeOK])
}

func TestRunForDuration(t *testing.T) {
	d := newTarget(t, targetOptions{dialect: datastore.Postgres, latency: time.Millisecond, poolMax: 2, maxInFlight: 16})
	cfg := loadConfig()
	cfg.Requests = 0
	cfg.Duration = 100 * time.Millisecond

	r, err := NewRunner(cfg, datastore.Postgres, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	report, err := r.Run(context.Background(), d)
	require.NoError(t, err)
	assert.Greater(t, report.Total, int64(0))
	assert.GreaterOrEqual(t, report.Duration, 100*time.Millisecond)
	assert.Less(t, report.Duration, 2*time.Second)
}

func TestRunCountsRejections(t *testing.T) {
	d := newTarget(t, targetOptions{dialect: datastore.Postgres, latency: 10 * time.Millisecond, poolMax: 1, maxInFlight: 1})
	cfg := loadConfig()
	cfg.Requests = 60

	r, err := NewRunner(cfg, datastore.Postgres, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	report, err := r.Run(context.Background(), d)
	require.NoError(t, err)

	assert.Equal(t, int64(60), report.Total)
	assert.Greater(t, report.Outcomes[string(errors.ErrorTypeRejected)], int64(0))
	assert.Equal(t, report.Total, report.Succeeded+report.Failed)
	assert.Equal(t, 1, report.PeakLeased)
	assert.Equal(t, 1, report.PeakInFlight)
}

func TestNewRunnerValidates(t *testing.T) {
	cases := map[string]func(*config.LoadTestConfig){
		"no workers":      func(c *config.LoadTestConfig) { c.Concurrency = 0 },
		"unbounded":       func(c *config.LoadTestConfig) { c.Requests, c.Duration = 0, 0 },
		"unknown op":      func(c *config.LoadTestConfig) { c.Mix = map[string]int{"drop_tables": 1} },
		"empty mix":       func(c *config.LoadTestConfig) { c.Mix = map[string]int{"list_ads": 0} },
		"negative weight": func(c *config.LoadTestConfig) { c.Mix = map[string]int{"list_ads": -1} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := loadConfig()
			mutate(&cfg)
			_, err := NewRunner(cfg, datastore.Postgres, nil, nil)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestMixFollowsWeights(t *testing.T) {
	m, err := newMix(map[string]int{"list_campaigns": 3, "get_campaign": 1})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		counts[m.pick(rng).name]++
	}
	assert.InDelta(t, 3000, counts["list_campaigns"], 200)
	assert.InDelta(t, 1000, counts["get_campaign"], 200)
}

func TestCheckReportsViolations(t *testing.T) {
	r := &Report{Latency: Latency{P99: 2 * time.Second}, PeakLeased: 5}
	err := r.Check(Budgets{P99: time.Second, MaxLeased: 4, MemoryMB: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Len(t, e.Details["violations"], 2)

	assert.NoError(t, r.Check(Budgets{}))
}

func TestFixtureServesMemoriesAndSessions(t *testing.T) {
	d := newTarget(t, targetOptions{dialect: datastore.Postgres, poolMax: 2, maxInFlight: 8})
	store := repository.NewStore(datastore.Postgres, d)
	ctx := context.Background()

	stats, err := store.Memories.Statistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stats.TotalMemories)
	assert.Len(t, stats.ByType, 3)
	assert.Equal(t, models.MemoryTypeSummary{Count: 10, AvgImportance: 1}, stats.ByType["memory_type-1"])

	found, err := store.Memories.Search(ctx, "insight", repository.MemoryFilter{}, repository.Page{Limit: 4})
	require.NoError(t, err)
	assert.Len(t, found, 4)

	rec, err := store.Sessions.Retry(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.RecordID())
}
