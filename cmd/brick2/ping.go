package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/health"
)

func newPingCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe the configured data store once through the dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			checker := health.NewChecker(a.dispatcher, cfg.Dispatcher.HealthInterval, cfg.Dispatcher.HealthTimeout, a.log)
			s := checker.Check(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s in %v\n", a.driver.Name(), s.Status, s.Latency)
			if s.Status != health.StatusHealthy {
				return errors.Newf(errors.ErrorTypeConnectionLost, "ping failed: %s", s.LastError).
					WithDetail("error_type", s.LastErrorType)
			}
			return nil
		},
	}
}
