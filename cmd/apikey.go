package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
)

// apiKeyBytes is the entropy of a generated key; rendered as hex it
// becomes a 64-character key.
const apiKeyBytes = 32

// RunAPIKey dispatches the apikey subcommands. The daemon stores only
// the bcrypt hash; the plaintext key exists only in this command's
// output.
func RunAPIKey(args []string) error {
	if len(args) == 0 {
		return apiKeyUsage()
	}

	switch args[0] {
	case "generate", "create":
		return apiKeyGenerate(args[1:])
	case "hash":
		return apiKeyHash(args[1:])
	case "help":
		return apiKeyUsage()
	default:
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
}

func apiKeyUsage() error {
	fmt.Printf(`%s API Key Management

Usage:
  %s apikey <command> [options]

Commands:
  generate    Generate a new API key and its bcrypt hash
  hash        Hash an existing key for the config file    hash <key>
  help        Show this help

Generate Options:
  --json, -j  Output in JSON format (for scripting)

The daemon never sees the plaintext key; put the hash in the config
file and pass the key to the CLI via --api-key or %s_API_KEY.

Examples:
  %s apikey generate
  %s apikey generate --json
  %s apikey hash my-existing-secret
`, buildinfo.Name, buildinfo.Name, buildinfo.EnvPrefix,
		buildinfo.Name, buildinfo.Name, buildinfo.Name)
	return nil
}

func apiKeyGenerate(args []string) error {
	jsonOutput := false
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			jsonOutput = true
		default:
			return fmt.Errorf("unknown option: %s", arg)
		}
	}

	key, hash, err := newAPIKey()
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"api_key":      key,
			"api_key_hash": hash,
		})
	}

	fmt.Println()
	fmt.Println("API key generated. SAVE THE KEY NOW - it is not stored anywhere.")
	fmt.Println()
	fmt.Printf("API Key: %s\n", key)
	fmt.Println()
	fmt.Println("Add the hash to your config file:")
	fmt.Println()
	fmt.Println("  api {")
	fmt.Println("      require_auth = true")
	fmt.Printf("      api_key_hash = %q\n", hash)
	fmt.Println("  }")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  export %s_API_KEY=%s\n", buildinfo.EnvPrefix, key)
	fmt.Printf("  %s status\n", buildinfo.Name)
	fmt.Println()

	return nil
}

func apiKeyHash(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s apikey hash <key>", buildinfo.Name)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash key: %w", err)
	}

	fmt.Printf("api_key_hash = %q\n", string(hash))
	return nil
}

// newAPIKey generates a random key and its bcrypt hash.
func newAPIKey() (key, hash string, err error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	key = hex.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return key, string(h), nil
}
