package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/loadtest"
)

type loadFlags struct {
	concurrency int
	requests    int
	duration    time.Duration
	p99Budget   time.Duration
	memoryMB    int
	seed        uint64
	output      string
}

func (f *loadFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.concurrency, "concurrency", 0, "Concurrent workers (default from config)")
	fl.IntVar(&f.requests, "requests", 0, "Total requests to issue (default from config)")
	fl.DurationVar(&f.duration, "duration", 0, "Run for this long instead of a request count")
	fl.DurationVar(&f.p99Budget, "p99-budget", 0, "Fail when p99 latency exceeds this")
	fl.IntVar(&f.memoryMB, "memory-budget", 0, "Fail when peak heap in use exceeds this many MB")
	fl.Uint64Var(&f.seed, "seed", 0, "Random seed of the operation mix (0 = time based)")
}

func (f *loadFlags) apply(cfg *config.LoadTestConfig) {
	if f.concurrency > 0 {
		cfg.Concurrency = f.concurrency
	}
	if f.duration > 0 {
		cfg.Duration = f.duration
		cfg.Requests = 0
	}
	if f.requests > 0 {
		cfg.Requests = f.requests
	}
	if f.p99Budget > 0 {
		cfg.P99Budget = f.p99Budget
	}
	if f.memoryMB > 0 {
		cfg.MemoryBudgetMB = f.memoryMB
	}
}

func newLoadTestCmd(g *globalFlags) *cobra.Command {
	f := &loadFlags{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive the dispatcher with a weighted operation mix and report latency",
		Long: `Drive the dispatcher with the configured operation mix and write a JSON report.
The command exits non-zero when the p99 latency, memory or pool budgets are exceeded.

Example:
  brick2 loadtest --driver sim --concurrency 64 --requests 50000 --output report.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			f.apply(&cfg.LoadTest)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runLoad(ctx, cfg, f.seed)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if f.output != "" && f.output != "-" {
				file, err := os.Create(f.output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			if err := report.WriteJSON(out); err != nil {
				return err
			}
			_ = report.WriteSummary(cmd.ErrOrStderr())
			return report.Check(loadtest.BudgetsFrom(cfg.LoadTest, cfg.Pool.Max))
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&f.output, "output", "o", "-", "Report path, - for stdout")
	return cmd
}

// runLoad builds the stack, runs the harness against the dispatcher and
// shuts the stack down
func runLoad(ctx context.Context, cfg *config.Config, seed uint64) (*loadtest.Report, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(sctx); err != nil {
			a.log.Warn("shutdown did not complete", zap.Error(err))
		}
	}()

	runner, err := loadtest.NewRunner(cfg.LoadTest, a.driver.Dialect(), a.log, a.obs.Metrics())
	if err != nil {
		return nil, err
	}
	if seed != 0 {
		runner.WithSeed(seed)
	}
	return runner.Run(ctx, a.dispatcher)
}
