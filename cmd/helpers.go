// Package cmd implements the CLI subcommands. The daemon-side commands
// (serve, check, init, apikey) work on the local machine; the control
// commands talk to a running daemon through internal/client.
package cmd

import (
	"flag"
	"os"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/client"
)

// DefaultRemote is where control commands look for the daemon unless
// --remote or TOGGLE_REMOTE says otherwise.
const DefaultRemote = "http://127.0.0.1:8787"

// ClientFlags registers the --remote and --api-key flags shared by every
// control command. Environment variables provide the defaults so a shell
// profile can point the CLI at a remote daemon once.
func ClientFlags(fs *flag.FlagSet) (remote, apiKey *string) {
	defaultRemote := os.Getenv(buildinfo.EnvPrefix + "_REMOTE")
	if defaultRemote == "" {
		defaultRemote = DefaultRemote
	}
	defaultKey := os.Getenv(buildinfo.EnvPrefix + "_API_KEY")

	remote = fs.String("remote", defaultRemote, "Daemon base URL")
	fs.StringVar(remote, "r", defaultRemote, "Daemon base URL (short)")
	apiKey = fs.String("api-key", defaultKey, "API key for authenticated requests")
	fs.StringVar(apiKey, "k", defaultKey, "API key (short)")
	return remote, apiKey
}

// newClient builds the API client used by the control commands.
func newClient(remote, apiKey string) *client.Client {
	opts := []client.Option{client.WithTimeout(15 * time.Second)}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.New(remote, opts...)
}
