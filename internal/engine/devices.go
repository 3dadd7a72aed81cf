package engine

import (
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// mergeKnown folds freshly observed clients into the subject's
// persistent known-device set and returns the merged set. The set only
// grows; a device seen once stays known so later blocks reach devices
// that are offline at block time. Excluded MACs never enter the set.
func (e *Engine) mergeKnown(subject string, clients []unifi.Client) []string {
	existing, err := e.known.Get(subject)
	if err != nil {
		e.logger.Warn("known set load failed", "subject", subject, "error", err)
	}

	merged := sortedMACs(existing, macsOf(clients, e.excluded))
	if len(merged) > len(existing) {
		if err := e.known.Set(subject, merged); err != nil {
			e.logger.Warn("known set persist failed", "subject", subject, "error", err)
		}
		e.logger.Info("learned devices", "subject", subject, "new", len(merged)-len(existing), "total", len(merged))
	}

	metrics.Get().KnownDevices.WithLabelValues(subject).Set(float64(len(merged)))
	return merged
}

// macsOf extracts normalized client MACs, dropping excluded ones.
func macsOf(clients []unifi.Client, excluded map[string]bool) []string {
	out := make([]string, 0, len(clients))
	for _, c := range clients {
		mac := validation.NormalizeMAC(c.MAC)
		if mac == "" || excluded[mac] {
			continue
		}
		out = append(out, mac)
	}
	return out
}
