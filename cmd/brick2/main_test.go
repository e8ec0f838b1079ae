package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/brick2/pkg/config"
	"github.com/ajitpratap0/brick2/pkg/errors"
	"github.com/ajitpratap0/brick2/pkg/json"
	"github.com/ajitpratap0/brick2/pkg/loadtest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "brick2 v"+version)
}

func TestConfigCommandAppliesOverrides(t *testing.T) {
	out, err := execute(t, "config", "--driver", "sim", "--pool-max", "1", "--log-level", "error")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "sim", cfg.Database.Driver)
	assert.Equal(t, 1, cfg.Pool.Max)
	assert.Equal(t, 1, cfg.Pool.Min)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestConfigCommandRejectsUnknownDriver(t *testing.T) {
	_, err := execute(t, "config", "--driver", "oracle")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoadTestCommandWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	_, err := execute(t, "loadtest",
		"--driver", "sim", "--log-level", "error", "--pool-max", "4",
		"--concurrency", "4", "--requests", "100",
		"--p99-budget", "5s", "--memory-budget", "4096",
		"--seed", "7", "--output", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report loadtest.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, int64(100), report.Total)
	assert.Equal(t, int64(100), report.Succeeded)
	assert.LessOrEqual(t, report.PeakLeased, 4)
	assert.Equal(t, 4, report.PoolMax)
}

func TestPingCommandWithSimDriver(t *testing.T) {
	out, err := execute(t, "ping", "--driver", "sim", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "sim: healthy")
}
