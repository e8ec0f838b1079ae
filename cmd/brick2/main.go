package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/brick2/pkg/config"
)

var version = "2.0.0"

// globalFlags are shared by every command
type globalFlags struct {
	configFile string
	driver     string
	logLevel   string
	poolMax    int
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "brick2",
		Short: "BRICK 2 - Ad Orchestrator Backend",
		Long: `brick2 serves users, campaigns, ads, performance records and leads over HTTP.
Every request reaches the data store through a bounded connection pool behind
an admission-controlled dispatcher.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configFile, "config", "c", "", "Path to YAML configuration file")
	pf.StringVar(&g.driver, "driver", "", "Database driver override (postgres, mysql, sqlite, sim)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	pf.IntVar(&g.poolMax, "pool-max", 0, "Connection pool maximum override")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(g),
		newServeCmd(g),
		newPingCmd(g),
		newLoadTestCmd(g),
		newProfileCmd(g),
	)
	return root
}

// load reads the configuration and applies flag overrides
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.driver != "" {
		cfg.Database.Driver = g.driver
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.poolMax > 0 {
		cfg.Pool.Max = g.poolMax
		if cfg.Pool.Min > cfg.Pool.Max {
			cfg.Pool.Min = cfg.Pool.Max
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "brick2 v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
