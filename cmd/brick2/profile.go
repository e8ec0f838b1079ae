package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/brick2/pkg/logger"
	"github.com/ajitpratap0/brick2/pkg/performance"
)

func newProfileCmd(g *globalFlags) *cobra.Command {
	f := &loadFlags{}
	var (
		outputDir string
		types     string
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Capture pprof profiles while running a load mix",
		Long: `Run the load mix for a fixed duration while capturing pprof profiles.

Examples:
  brick2 profile --types cpu --duration 30s
  brick2 profile --types all --output ./profiles --driver sim`,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := performance.ParseProfileTypes(types)
			if err != nil {
				return err
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			f.apply(&cfg.LoadTest)
			cfg.LoadTest.Requests = 0
			if cfg.LoadTest.Duration <= 0 {
				cfg.LoadTest.Duration = 30 * time.Second
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profiling %v of load, types: %v, output: %s\n", cfg.LoadTest.Duration, profiles, outputDir)

			if err := logger.Init(cfg.Logging); err != nil {
				return err
			}
			p := performance.NewProfiler(outputDir, profiles, logger.Get())
			if err := p.Start(); err != nil {
				return err
			}
			report, runErr := runLoad(ctx, cfg, f.seed)
			files, err := p.Stop()
			if runErr != nil {
				return runErr
			}
			if err != nil {
				return err
			}

			_ = report.WriteSummary(out)
			for _, file := range files {
				fmt.Fprintf(out, "wrote %s\n", file)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "./profiles", "Output directory for profiles")
	cmd.Flags().StringVar(&types, "types", "cpu,heap", "Profile types (cpu,heap,block,mutex,goroutine,all)")
	return cmd
}
