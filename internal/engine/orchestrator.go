package engine

import (
	"context"

	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
)

// orchestrate runs the post-patch side-effect chain for one subject.
// Every downstream call fails independently and nothing rolls back; the
// persistent known-device set plus the next tick give convergence.
func (e *Engine) orchestrate(ctx context.Context, sub *config.SubjectConfig, rule *pfsense.Rule, allowed bool) {
	if allowed {
		e.orchestrateAllow(ctx, sub, rule)
	} else {
		e.orchestrateBlock(ctx, sub, rule)
	}
}

// orchestrateBlock tears down what a freshly blocked rule does not
// reach on its own: established connection states, and devices that
// could hop to another network. Order matters only in that states die
// before devices are queried, so lingering flows do not mask clients.
func (e *Engine) orchestrateBlock(ctx context.Context, sub *config.SubjectConfig, rule *pfsense.Rule) {
	addrs := e.resolveRuleAddresses(ctx, sub, rule)
	for _, addr := range addrs {
		if err := e.firewall.KillStatesForAddress(ctx, addr); err != nil {
			e.logger.Warn("state kill failed", "subject", sub.Name, "address", addr, "error", err)
		}
	}

	if e.wireless == nil {
		return
	}

	clients, err := e.wireless.ClientsAtAddresses(ctx, addrs)
	if err != nil {
		// Proceed with the cached set; newly appeared devices are
		// picked up once the controller answers again.
		e.logger.Warn("wireless client query failed", "subject", sub.Name, "error", err)
		clients = nil
	}

	known := e.mergeKnown(sub.Name, clients)

	var blockedNow []string
	for _, mac := range known {
		if e.excluded[mac] {
			continue
		}
		if err := e.wireless.BlockClient(ctx, mac); err != nil {
			e.logger.Warn("device block failed", "subject", sub.Name, "mac", mac, "error", err)
			continue
		}
		blockedNow = append(blockedNow, mac)
		e.hub.EmitDevice(events.EventDeviceBlocked, sub.Name, mac)
	}

	if err := e.blocked.Set(sub.Name, blockedNow); err != nil {
		e.logger.Warn("blocked set persist failed", "subject", sub.Name, "error", err)
	}
}

// orchestrateAllow lifts device blocks. The union of the blocked and
// known sets is unblocked so devices blocked in an earlier run under a
// different set still come back.
func (e *Engine) orchestrateAllow(ctx context.Context, sub *config.SubjectConfig, rule *pfsense.Rule) {
	if e.wireless == nil {
		return
	}

	known, err := e.known.Get(sub.Name)
	if err != nil {
		e.logger.Warn("known set load failed", "subject", sub.Name, "error", err)
	}
	blocked, err := e.blocked.Get(sub.Name)
	if err != nil {
		e.logger.Warn("blocked set load failed", "subject", sub.Name, "error", err)
	}

	macs := sortedMACs(known, blocked)
	if len(macs) == 0 {
		// First run on an empty cache: fall back to a live query so an
		// unblock still reaches devices blocked out-of-band.
		addrs := e.resolveRuleAddresses(ctx, sub, rule)
		if clients, err := e.wireless.ClientsAtAddresses(ctx, addrs); err == nil {
			for _, c := range clients {
				macs = append(macs, c.MAC)
			}
			macs = sortedMACs(macs)
		} else {
			e.logger.Warn("wireless client query failed", "subject", sub.Name, "error", err)
		}
	}

	for _, mac := range macs {
		if e.excluded[mac] {
			continue
		}
		if err := e.wireless.UnblockClient(ctx, mac); err != nil {
			e.logger.Warn("device unblock failed", "subject", sub.Name, "mac", mac, "error", err)
			continue
		}
		e.hub.EmitDevice(events.EventDeviceUnblocked, sub.Name, mac)
	}

	if err := e.blocked.Clear(sub.Name); err != nil {
		e.logger.Warn("blocked set clear failed", "subject", sub.Name, "error", err)
	}
}

// resolveRuleAddresses expands the rule's source into concrete
// addresses. An unresolvable source yields an empty list and the chain
// carries on with cached device state.
func (e *Engine) resolveRuleAddresses(ctx context.Context, sub *config.SubjectConfig, rule *pfsense.Rule) []string {
	if rule == nil {
		return nil
	}
	addrs, err := e.firewall.ResolveSource(ctx, rule.Source)
	if err != nil {
		e.logger.Warn("source resolve failed", "subject", sub.Name, "error", err)
		return nil
	}
	return addrs
}
