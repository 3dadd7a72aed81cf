// Package buildinfo holds the product identity and build-time metadata
// stamped in via -ldflags.
package buildinfo

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	// Name is the product name used in logs and HTTP headers.
	Name = "pfsense-toggle"

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "TOGGLE"

	// DefaultConfigPath is where the daemon looks for its config
	// when --config is not given.
	DefaultConfigPath = "/etc/pfsense-toggle/config.hcl"

	// DefaultStateDir holds the state and audit databases.
	DefaultStateDir = "/var/lib/pfsense-toggle"
)

// Set at build time via -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// UserAgent returns the User-Agent string sent on outbound HTTP requests.
func UserAgent() string {
	return Name + "/" + Version + " (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

// StateDir returns the state directory, honoring TOGGLE_STATE_DIR.
func StateDir() string {
	if dir := os.Getenv(EnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	return DefaultStateDir
}

// ConfigPath returns the config file path, honoring TOGGLE_CONFIG.
func ConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// StatePath returns the path of a file inside the state directory.
func StatePath(name string) string {
	return filepath.Join(StateDir(), name)
}
