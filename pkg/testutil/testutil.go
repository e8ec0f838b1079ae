// Package testutil provides the test fixtures shared by BRICK2 packages
package testutil

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestContext returns a context with a 30-second timeout that is cancelled
// when the test completes
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RequireEnv returns the value of the environment variable name and skips
// the test when it is unset or when running in short mode. Integration tests
// against real databases use it to find their DSN.
func RequireEnv(t *testing.T, name string) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}
