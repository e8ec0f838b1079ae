package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/brick2/pkg/api"
	"github.com/ajitpratap0/brick2/pkg/health"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long: `Run the HTTP API server until SIGINT or SIGTERM. On shutdown the server stops
accepting connections, in-flight requests drain and the pool is closed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}

			checker := health.NewChecker(a.dispatcher, cfg.Dispatcher.HealthInterval, cfg.Dispatcher.HealthTimeout, a.log)
			srv, err := api.NewServer(api.Options{
				Server:     cfg.Server,
				Pool:       cfg.Pool,
				Dispatcher: a.dispatcher,
				Dialect:    a.driver.Dialect(),
				Health:     checker,
				Metrics:    a.obs.Metrics(),
				Logger:     a.log,
				Version:    version,
			})
			if err != nil {
				_ = a.close(context.Background())
				return err
			}

			eg, ectx := errgroup.WithContext(ctx)
			if cfg.Dispatcher.HealthInterval > 0 {
				eg.Go(func() error {
					checker.Start(ectx)
					<-ectx.Done()
					checker.Stop()
					return nil
				})
			}
			eg.Go(func() error { return srv.Run(ectx) })
			runErr := eg.Wait()

			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := a.close(sctx); err != nil {
				a.log.Error("shutdown did not complete", zap.Error(err))
				if runErr == nil {
					runErr = err
				}
			}
			a.log.Info("server stopped")
			return runErr
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "Listen address override (host:port)")
	return cmd
}
