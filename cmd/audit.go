package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	yaml "gopkg.in/yaml.v2"
)

// RunAudit prints recent audit trail entries, newest first.
func RunAudit(remote, apiKey, subject, action string, limit int, asYAML bool) error {
	c := newClient(remote, apiKey)

	entries, err := c.Audit(subject, action, limit)
	if err != nil {
		return err
	}

	if asYAML {
		out, err := yaml.Marshal(entries)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		os.Stdout.Write(out)
		return nil
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries match.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSOURCE\tSUBJECT\tACTION\tDETAIL")
	for _, e := range entries {
		subj := e.Subject
		if subj == "" {
			subj = "-"
		}
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"),
			e.Source, subj, e.Action, detail)
	}
	w.Flush()
	return nil
}
