package monitor

import (
	"context"
	"time"

	"github.com/hearthward/jarvisd/internal/state"
	"github.com/hearthward/jarvisd/pkg/proxmox"
)

// Autonomy levels. The runbook engine acts only when the configured level
// meets the runbook's requirement.
const (
	LevelObserve   = 0
	LevelAlert     = 1
	LevelRecommend = 2
	LevelActReport = 3
	LevelActSilent = 4
)

// Cluster is the hypervisor slice the monitor polls and the runbook engine
// verifies against.
type Cluster interface {
	Nodes(ctx context.Context) ([]proxmox.Resource, error)
	Guests(ctx context.Context) ([]proxmox.Resource, error)
	Storage(ctx context.Context) ([]proxmox.Resource, error)
}

// Runbook maps an incident condition to an automated response. The table is
// static and matched first-entry-wins; not every condition has a runbook.
type Runbook struct {
	ID            string
	Condition     state.Condition
	Tool          string
	RequiredLevel int
	VerifyDelay   time.Duration

	// Args builds the tool arguments for an incident. Runbooks pass
	// confirmed=true; autonomy is the confirmation.
	Args func(inc state.Change) map[string]any

	// Verify re-polls the relevant resource after VerifyDelay and reports
	// whether the incident is resolved. A false return is a recorded
	// outcome, not an error.
	Verify func(ctx context.Context, cluster Cluster, inc state.Change) bool
}

// defaultRunbooks is the static runbook table.
var defaultRunbooks = []Runbook{
	{
		ID:            "restart-crashed-vm",
		Condition:     state.CondVMCrashed,
		Tool:          "start_vm",
		RequiredLevel: LevelActReport,
		VerifyDelay:   20 * time.Second,
		Args: func(inc state.Change) map[string]any {
			return map[string]any{"vmid": inc.VMID, "confirmed": true}
		},
		Verify: verifyGuestRunning,
	},
	{
		ID:            "restart-crashed-ct",
		Condition:     state.CondCTCrashed,
		Tool:          "start_vm",
		RequiredLevel: LevelActReport,
		VerifyDelay:   10 * time.Second,
		Args: func(inc state.Change) map[string]any {
			return map[string]any{"vmid": inc.VMID, "confirmed": true}
		},
		Verify: verifyGuestRunning,
	},
}

// matchRunbook returns the first runbook whose trigger matches the condition.
func matchRunbook(table []Runbook, cond state.Condition) (Runbook, bool) {
	for _, rb := range table {
		if rb.Condition == cond {
			return rb, true
		}
	}
	return Runbook{}, false
}

// verifyGuestRunning re-fetches the guest list and reports whether the
// incident's VMID is running again.
func verifyGuestRunning(ctx context.Context, cluster Cluster, inc state.Change) bool {
	guests, err := cluster.Guests(ctx)
	if err != nil {
		return false
	}
	for _, g := range guests {
		if g.VMID == inc.VMID {
			return g.Status == "running"
		}
	}
	return false
}
