package cmd

import (
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/client"
)

// RunWatch streams daemon events to stdout until the connection drops
// or the user interrupts.
func RunWatch(remote, apiKey string, types []string) error {
	c := newClient(remote, apiKey)

	if len(types) > 0 {
		fmt.Printf("Watching events (%v) from %s\n", types, remote)
	} else {
		fmt.Printf("Watching all events from %s\n", remote)
	}

	return c.Watch(types, func(evt client.StreamEvent) {
		ts := evt.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		payload := string(evt.Data)
		if payload == "" || payload == "null" {
			fmt.Printf("%s  %-20s\n", ts.Local().Format("15:04:05"), evt.Type)
			return
		}
		fmt.Printf("%s  %-20s %s\n", ts.Local().Format("15:04:05"), evt.Type, payload)
	})
}
