// Package config provides the unified configuration system for BRICK2.
// A single Config structure carries every section the service needs:
//   - Server: HTTP listener, timeouts and CORS
//   - Database: driver selection and connection parameters
//   - Pool: connection pool bounds and per-operation deadlines
//   - Dispatcher: admission control and health checking
//   - Logging, Observability: zap, Prometheus and OpenTelemetry settings
//   - LoadTest: defaults for the load/benchmark harness
//
// Example usage:
//
//	cfg, err := config.Load("brick2.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Pool.Max = 20
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"net/url"
	"runtime"
	"time"

	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/logger"
)

// Config is the root configuration structure
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server" json:"server"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database" json:"database"`
	Pool          PoolConfig          `mapstructure:"pool" yaml:"pool" json:"pool"`
	Dispatcher    DispatcherConfig    `mapstructure:"dispatcher" yaml:"dispatcher" json:"dispatcher"`
	Logging       logger.Config       `mapstructure:"logging" yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability" json:"observability"`
	LoadTest      LoadTestConfig      `mapstructure:"loadtest" yaml:"loadtest" json:"loadtest"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Address is the listen address (host:port)
	Address string `mapstructure:"address" yaml:"address" json:"address"`
	// Environment is reported by the health endpoint (development, production)
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
	// MaxConnections caps concurrently accepted TCP connections (0 = unlimited)
	MaxConnections  int           `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// MaxRequestTimeout bounds the X-Request-Timeout header a client may send
	MaxRequestTimeout time.Duration `mapstructure:"max_request_timeout" yaml:"max_request_timeout" json:"max_request_timeout"`
	// CORSOrigins lists allowed origins; empty disables CORS headers
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
	// EnableCompression gzips responses for clients that accept it
	EnableCompression bool `mapstructure:"enable_compression" yaml:"enable_compression" json:"enable_compression"`
}

// DatabaseConfig selects the driver and how to reach the data store
type DatabaseConfig struct {
	// Driver is one of postgres, mysql, sqlite, sim
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	// DSN overrides the individual connection fields when set
	DSN      string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Name     string `mapstructure:"name" yaml:"name" json:"name"`
	User     string `mapstructure:"user" yaml:"user" json:"user"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
	// ConnectTimeout bounds a single dial of a new connection
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	// SimLatency is the per-call latency of the sim driver
	SimLatency time.Duration `mapstructure:"sim_latency" yaml:"sim_latency" json:"sim_latency"`
}

// PoolConfig contains connection pool bounds and per-operation limits
type PoolConfig struct {
	Min int `mapstructure:"pool_min" yaml:"pool_min" json:"pool_min"`
	Max int `mapstructure:"pool_max" yaml:"pool_max" json:"pool_max"`
	// AcquireTimeout bounds the wait for a free connection
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout" json:"acquire_timeout"`
	// QueryTimeout is the default deadline of an operation
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout" json:"query_timeout"`
	// IdleTTL closes idle connections beyond Min after this much inactivity
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl" json:"idle_ttl"`
	// ReapInterval is how often idle connections are inspected
	ReapInterval time.Duration `mapstructure:"reap_interval" yaml:"reap_interval" json:"reap_interval"`
	// HealthCheckAfter pings idle connections unused for longer than this before lending them (0 = never)
	HealthCheckAfter time.Duration `mapstructure:"health_check_after" yaml:"health_check_after" json:"health_check_after"`
	// CancelGrace is how long a cancelled call may take to confirm before its connection is discarded
	CancelGrace time.Duration `mapstructure:"cancel_grace" yaml:"cancel_grace" json:"cancel_grace"`
	// MaxResultRows bounds the records materialized by one operation
	MaxResultRows int `mapstructure:"max_result_rows" yaml:"max_result_rows" json:"max_result_rows"`
}

// DispatcherConfig contains admission control and health settings
type DispatcherConfig struct {
	// MaxInFlight is the concurrency ceiling of the in-flight set
	MaxInFlight    int           `mapstructure:"max_in_flight" yaml:"max_in_flight" json:"max_in_flight"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval" json:"health_interval"`
	HealthTimeout  time.Duration `mapstructure:"health_timeout" yaml:"health_timeout" json:"health_timeout"`
	// SlowThreshold logs dispatches slower than this at warn level (0 = off)
	SlowThreshold time.Duration `mapstructure:"slow_threshold" yaml:"slow_threshold" json:"slow_threshold"`
}

// ObservabilityConfig contains metrics and tracing settings
type ObservabilityConfig struct {
	EnableMetrics bool `mapstructure:"enable_metrics" yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool `mapstructure:"enable_tracing" yaml:"enable_tracing" json:"enable_tracing"`
	// TracingExporter is stdout or none
	TracingExporter string  `mapstructure:"tracing_exporter" yaml:"tracing_exporter" json:"tracing_exporter"`
	SamplingRate    float64 `mapstructure:"sampling_rate" yaml:"sampling_rate" json:"sampling_rate"`
	ServiceName     string  `mapstructure:"service_name" yaml:"service_name" json:"service_name"`
}

// LoadTestConfig contains defaults for the load harness
type LoadTestConfig struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	Requests    int           `mapstructure:"requests" yaml:"requests" json:"requests"`
	Duration    time.Duration `mapstructure:"duration" yaml:"duration" json:"duration"`
	// P99Budget fails the run when the 99th percentile latency exceeds it (0 = unchecked)
	P99Budget time.Duration `mapstructure:"p99_budget" yaml:"p99_budget" json:"p99_budget"`
	// MemoryBudgetMB fails the run when peak heap in use exceeds it (0 = unchecked)
	MemoryBudgetMB int `mapstructure:"memory_budget_mb" yaml:"memory_budget_mb" json:"memory_budget_mb"`
	// Mix weights load operation names; keys must not contain dots
	Mix map[string]int `mapstructure:"mix" yaml:"mix" json:"mix"`
}

// Default returns a configuration with production-ready defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":8000",
			Environment:       "development",
			MaxConnections:    1024,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   20 * time.Second,
			MaxRequestTimeout: 30 * time.Second,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:8080"},
			EnableCompression: true,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			Name:           "brick_orchestration",
			User:           "brick",
			ConnectTimeout: 5 * time.Second,
			SimLatency:     2 * time.Millisecond,
		},
		Pool: PoolConfig{
			Min:              2,
			Max:              runtime.NumCPU() * 4,
			AcquireTimeout:   2 * time.Second,
			QueryTimeout:     5 * time.Second,
			IdleTTL:          5 * time.Minute,
			ReapInterval:     30 * time.Second,
			HealthCheckAfter: time.Minute,
			CancelGrace:      250 * time.Millisecond,
			MaxResultRows:    1000,
		},
		Dispatcher: DispatcherConfig{
			MaxInFlight:    256,
			HealthInterval: 15 * time.Second,
			HealthTimeout:  2 * time.Second,
			SlowThreshold:  500 * time.Millisecond,
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Observability: ObservabilityConfig{
			EnableMetrics:   true,
			EnableTracing:   false,
			TracingExporter: "stdout",
			SamplingRate:    0.1,
			ServiceName:     "brick2",
		},
		LoadTest: LoadTestConfig{
			Concurrency:    32,
			Requests:       10000,
			P99Budget:      250 * time.Millisecond,
			MemoryBudgetMB: 256,
			Mix: map[string]int{
				"list_campaigns":   4,
				"get_campaign":     3,
				"create_campaign":  5,
				"list_ads":         3,
				"create_ad":        2,
				"list_performance": 3,
				"list_leads":       2,
				"create_lead":      1,
				"create_memory":    1,
				"search_memories":  1,
				"start_session":    1,
			},
		},
	}
}

// Validate validates the configuration for correctness.
// Returns a config error describing the first invalid field.
func (c *Config) Validate() error {
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite", "sim":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unsupported database driver %q", c.Database.Driver)
	}
	if c.Dispatcher.MaxInFlight <= 0 {
		return errors.New(errors.ErrorTypeConfig, "max_in_flight must be positive")
	}
	if c.Server.MaxConnections < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_connections cannot be negative")
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return errors.New(errors.ErrorTypeConfig, "sampling_rate must be within [0,1]")
	}
	return nil
}

// Validate checks the pool bounds and timeouts
func (p *PoolConfig) Validate() error {
	if p.Min < 0 {
		return errors.New(errors.ErrorTypeConfig, "pool_min cannot be negative")
	}
	if p.Max <= 0 {
		return errors.New(errors.ErrorTypeConfig, "pool_max must be positive")
	}
	if p.Min > p.Max {
		return errors.Newf(errors.ErrorTypeConfig, "pool_min (%d) exceeds pool_max (%d)", p.Min, p.Max)
	}
	if p.AcquireTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "acquire_timeout must be positive")
	}
	if p.QueryTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "query_timeout must be positive")
	}
	if p.IdleTTL < 0 || p.ReapInterval < 0 || p.HealthCheckAfter < 0 || p.CancelGrace < 0 {
		return errors.New(errors.ErrorTypeConfig, "durations cannot be negative")
	}
	if p.MaxResultRows < 0 {
		return errors.New(errors.ErrorTypeConfig, "max_result_rows cannot be negative")
	}
	return nil
}

// ConnString returns the DSN for the configured driver, building one from
// the individual fields when DSN is empty.
func (d *DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:   "/" + d.Name,
		}
		if d.User != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
		q := u.Query()
		if d.ConnectTimeout > 0 {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(d.ConnectTimeout.Seconds())))
		}
		u.RawQuery = q.Encode()
		return u.String()
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
			d.User, d.Password, d.Host, d.Port, d.Name, d.ConnectTimeout)
	case "sqlite":
		if d.Name == "" {
			return "file:brick2.db?_foreign_keys=on"
		}
		return d.Name
	default:
		return ""
	}
}
