package cmd

import (
	"fmt"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/config"
)

// RunInit writes a starter configuration file for the user to edit.
// Refuses to overwrite an existing file.
func RunInit(path string) error {
	if err := config.WriteStarter(path); err != nil {
		return err
	}

	fmt.Printf("Starter configuration written to %s\n", path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Fill in the pfsense block (API client ID and token)")
	fmt.Println("  2. Set each subject's rule_tracker to the tracking ID of its block rule")
	fmt.Printf("  3. Validate with: %s check %s\n", buildinfo.Name, path)
	fmt.Printf("  4. Start with:    %s serve -c %s\n", buildinfo.Name, path)
	return nil
}
