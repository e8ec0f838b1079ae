package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BRICK2_POOL_POOL_MAX
const EnvPrefix = "BRICK2"

// Load builds a Config from defaults, an optional YAML file and BRICK2_*
// environment variables, in increasing order of precedence. An empty
// filePath skips the file layer. ${VAR} references inside the file are
// substituted before parsing.
func Load(filePath string) (*Config, error) {
	v := NewViper()

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		content := substituteEnvVars(string(data))
		if err := v.ReadConfig(bytes.NewReader([]byte(content))); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper returns a viper instance seeded with Default() and bound to the
// BRICK2 environment prefix. Callers may bind cobra flags to it before Unmarshal.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_request_timeout", d.Server.MaxRequestTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.enable_compression", d.Server.EnableCompression)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.connect_timeout", d.Database.ConnectTimeout)
	v.SetDefault("database.sim_latency", d.Database.SimLatency)

	v.SetDefault("pool.pool_min", d.Pool.Min)
	v.SetDefault("pool.pool_max", d.Pool.Max)
	v.SetDefault("pool.acquire_timeout", d.Pool.AcquireTimeout)
	v.SetDefault("pool.query_timeout", d.Pool.QueryTimeout)
	v.SetDefault("pool.idle_ttl", d.Pool.IdleTTL)
	v.SetDefault("pool.reap_interval", d.Pool.ReapInterval)
	v.SetDefault("pool.health_check_after", d.Pool.HealthCheckAfter)
	v.SetDefault("pool.cancel_grace", d.Pool.CancelGrace)
	v.SetDefault("pool.max_result_rows", d.Pool.MaxResultRows)

	v.SetDefault("dispatcher.max_in_flight", d.Dispatcher.MaxInFlight)
	v.SetDefault("dispatcher.health_interval", d.Dispatcher.HealthInterval)
	v.SetDefault("dispatcher.health_timeout", d.Dispatcher.HealthTimeout)
	v.SetDefault("dispatcher.slow_threshold", d.Dispatcher.SlowThreshold)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("observability.enable_metrics", d.Observability.EnableMetrics)
	v.SetDefault("observability.enable_tracing", d.Observability.EnableTracing)
	v.SetDefault("observability.tracing_exporter", d.Observability.TracingExporter)
	v.SetDefault("observability.sampling_rate", d.Observability.SamplingRate)
	v.SetDefault("observability.service_name", d.Observability.ServiceName)

	v.SetDefault("loadtest.concurrency", d.LoadTest.Concurrency)
	v.SetDefault("loadtest.requests", d.LoadTest.Requests)
	v.SetDefault("loadtest.duration", d.LoadTest.Duration)
	v.SetDefault("loadtest.p99_budget", d.LoadTest.P99Budget)
	v.SetDefault("loadtest.memory_budget_mb", d.LoadTest.MemoryBudgetMB)
	v.SetDefault("loadtest.mix", d.LoadTest.Mix)
}

// Save saves a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Marshal renders cfg as YAML with durations in their string form
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
