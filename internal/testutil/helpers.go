package testutil

import (
	"os"
	"testing"
)

// RequireLive skips the test unless the TOGGLE_LIVE_TEST environment
// variable is set. Tests behind this gate talk to a real pfSense or
// UniFi endpoint and need credentials from the environment.
func RequireLive(t *testing.T) {
	t.Helper()
	if os.Getenv("TOGGLE_LIVE_TEST") == "" {
		t.Skip("Skipping test: requires TOGGLE_LIVE_TEST environment")
	}
}

// LiveEnv returns the named environment variable, skipping the test
// when it is unset. Call RequireLive first so the skip reason is
// consistent.
func LiveEnv(t *testing.T, name string) string {
	t.Helper()
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("Skipping test: %s not set", name)
	}
	return v
}
