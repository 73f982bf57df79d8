// Package safety implements the safety kernel that gates every tool
// invocation in the control plane: action tiers, the protected-resource
// table, path/URL/command/node-name sanitization, secret-file detection,
// approval keywords, per-call override propagation, and audit logging.
//
// Every decision function here is total and pure with respect to the network:
// it consults only its arguments and the in-process tables, and on any
// recognised failure returns a structured denial rather than an error.
//
// All exported types are safe for concurrent use.
package safety

// Tier classifies a tool's blast radius. The tier is declared once when the
// tool is registered and never changes.
type Tier string

const (
	// TierGreen marks read-only tools with no side effects. Always permitted.
	TierGreen Tier = "GREEN"

	// TierYellow marks non-destructive writes. Permitted with an audit entry.
	TierYellow Tier = "YELLOW"

	// TierRed marks destructive or consequential actions (stop, restart,
	// lock). Requires an explicit confirmed=true argument.
	TierRed Tier = "RED"

	// TierOrange marks privileged or irreversible actions (delete, arbitrary
	// command execution). Requires the configured approval keyword.
	TierOrange Tier = "ORANGE"

	// TierBlack marks tools that are forbidden by default and permitted only
	// under an active override context. Unknown tool names resolve to
	// TierBlack as the fail-safe.
	TierBlack Tier = "BLACK"
)

// IsValid reports whether t is a recognised tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierGreen, TierYellow, TierRed, TierOrange, TierBlack:
		return true
	}
	return false
}

// Caller identifies the origin of a tool invocation.
type Caller string

const (
	CallerAPI     Caller = "api"
	CallerMonitor Caller = "monitor"
	CallerVoice   Caller = "voice"
	CallerChat    Caller = "chat"
)

// CallContext carries the per-request call metadata through the dispatcher
// into tool handlers. The Override flag is scoped to this value only: it is
// never stored globally, so concurrent requests cannot observe each other's
// elevation.
type CallContext struct {
	// Caller is the origin of the invocation.
	Caller Caller

	// Override marks a privileged operator override for this call only.
	Override bool
}
