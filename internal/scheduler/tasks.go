package scheduler

import (
	"context"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/logging"
)

// NewReconcileTask creates the task that drives the periodic access
// reconciliation pass.
func NewReconcileTask(run TaskFunc, interval time.Duration) *Task {
	return &Task{
		ID:          "reconcile",
		Name:        "Access Reconcile",
		Description: "Converge firewall rules and device blocks with the desired access state",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     2 * time.Minute,
		Func:        run,
	}
}

// NewAuditPruneTask creates a daily task that trims the audit trail to
// its configured cap.
func NewAuditPruneTask(prune func() (int64, error)) *Task {
	return &Task{
		ID:          "audit-prune",
		Name:        "Audit Prune",
		Description: "Delete audit entries beyond the retention cap",
		Schedule:    Daily(3, 0),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     1 * time.Minute,
		Func: func(ctx context.Context) error {
			removed, err := prune()
			if err != nil {
				return err
			}
			if removed > 0 {
				logging.Info("audit trail pruned", "removed", removed)
			}
			return nil
		},
	}
}
