package safety

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/hearthward/jarvisd/internal/events"
)

// Decision is the outcome of a [Kernel.CheckSafety] evaluation.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Reason is a short user-facing explanation when Allowed is false, or a
	// note on why an otherwise-blocked call was permitted (override).
	Reason string

	// Tier is the resolved tier of the tool under evaluation.
	Tier Tier
}

// Config holds the safety kernel's closed tables. Zero-value fields fall back
// to the package defaults, which describe a conventional Proxmox homelab.
type Config struct {
	// ApprovalKeyword is the phrase required by ORANGE-tier tools. Matching
	// is case-insensitive after trimming surrounding whitespace.
	ApprovalKeyword string

	// ProtectedVMIDs maps VM/CT identifiers to a short description of why
	// they are protected (e.g. the VM hosting this control plane).
	ProtectedVMIDs map[int]string

	// ProtectedServices lists service names that host the plane itself.
	// Tool calls naming them (or whose command string contains them) are
	// protected-blocked.
	ProtectedServices []string

	// AllowedPathBases are the directory roots under which sanitized paths
	// must live.
	AllowedPathBases []string

	// ProtectedPaths are path prefixes that are always blocked. A prefix
	// ending in a separator protects the whole subtree.
	ProtectedPaths []string
}

// AuditSink receives safety audit events. Implementations must not block for
// long and should swallow their own failures; the kernel treats audit
// delivery as best-effort.
type AuditSink interface {
	Record(ev events.Event)
}

// Kernel is the safety kernel. Construct with [NewKernel], register tool
// tiers at startup via [Kernel.RegisterTier], then evaluate calls with
// [Kernel.CheckSafety] and the sanitization helpers.
type Kernel struct {
	approvalKeyword   string
	protectedVMIDs    map[int]string
	protectedServices []string
	allowedBases      []string
	protectedPaths    []string
	blocklist         []netip.Prefix

	audit AuditSink

	// lookup resolves a hostname to addresses. Defaults to the system
	// resolver; tests substitute a static table.
	lookup func(ctx context.Context, host string) ([]netip.Addr, error)

	mu    sync.RWMutex
	tiers map[string]Tier
}

// NewKernel creates a [Kernel] from cfg, filling zero-value tables with the
// package defaults and building the IP blocklist once.
func NewKernel(cfg Config, audit AuditSink) *Kernel {
	k := &Kernel{
		approvalKeyword:   cfg.ApprovalKeyword,
		protectedVMIDs:    cfg.ProtectedVMIDs,
		protectedServices: cfg.ProtectedServices,
		allowedBases:      cfg.AllowedPathBases,
		protectedPaths:    cfg.ProtectedPaths,
		blocklist:         buildBlocklist(),
		audit:             audit,
		tiers:             make(map[string]Tier),
	}
	k.lookup = func(ctx context.Context, host string) ([]netip.Addr, error) {
		return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	}
	if k.approvalKeyword == "" {
		k.approvalKeyword = defaultApprovalKeyword
	}
	if k.protectedVMIDs == nil {
		k.protectedVMIDs = defaultProtectedVMIDs()
	}
	if len(k.protectedServices) == 0 {
		k.protectedServices = defaultProtectedServices()
	}
	if len(k.allowedBases) == 0 {
		k.allowedBases = defaultAllowedBases()
	}
	if len(k.protectedPaths) == 0 {
		k.protectedPaths = defaultProtectedPaths()
	}
	return k
}

// RegisterTier records the tier for a named tool. Called once per tool at
// startup by the dispatcher.
func (k *Kernel) RegisterTier(name string, tier Tier) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tiers[name] = tier
}

// ToolTier returns the tier registered for name. Unknown names return
// [TierBlack] so that an unregistered tool can never slip through a gap in
// the table.
func (k *Kernel) ToolTier(name string) Tier {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if t, ok := k.tiers[name]; ok {
		return t
	}
	return TierBlack
}

// ValidateApprovalKeyword reports whether the given phrase matches the
// configured approval keyword, ignoring case and surrounding whitespace.
func (k *Kernel) ValidateApprovalKeyword(given string) bool {
	return strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(k.approvalKeyword))
}

// CheckSafety evaluates a tool call against the tier and protected-resource
// tables. The result is a pure function of (name, args, confirmed, override)
// and the in-process tables; it never touches the network.
//
// Evaluation order: tier lookup, protected-resource check, override, BLACK,
// ORANGE keyword, RED confirmation, YELLOW/GREEN, fail-safe block.
func (k *Kernel) CheckSafety(name string, args map[string]any, confirmed, override bool) Decision {
	tier := k.ToolTier(name)

	if pc := k.IsProtectedResource(args); pc.Protected {
		if override {
			k.logAudit("protected-override", fmt.Sprintf("tool=%s %s", name, pc.Reason), args)
			return Decision{Allowed: true, Reason: "protected resource permitted under operator override", Tier: tier}
		}
		k.logAudit("protected-block", fmt.Sprintf("tool=%s %s", name, pc.Reason), args)
		return Decision{Allowed: false, Reason: pc.Reason, Tier: tier}
	}

	if override {
		k.logAudit("override-allow", fmt.Sprintf("tool=%s tier=%s", name, tier), args)
		return Decision{Allowed: true, Reason: "permitted under operator override", Tier: tier}
	}

	switch tier {
	case TierBlack:
		k.logAudit("black-block", fmt.Sprintf("tool=%s", name), args)
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("%q is a BLACK-tier action and is forbidden without an operator override", name),
			Tier:    tier,
		}

	case TierOrange:
		keyword, _ := args["keyword"].(string)
		if !k.ValidateApprovalKeyword(keyword) {
			k.logAudit("orange-block", fmt.Sprintf("tool=%s approval keyword missing or wrong", name), args)
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("%q is an ORANGE-tier action and requires the approval keyword", name),
				Tier:    tier,
			}
		}
		return Decision{Allowed: true, Tier: tier}

	case TierRed:
		if !confirmed {
			k.logAudit("red-block", fmt.Sprintf("tool=%s not confirmed", name), args)
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("%q is a RED-tier action and must be confirmed (set confirmed=true)", name),
				Tier:    tier,
			}
		}
		return Decision{Allowed: true, Tier: tier}

	case TierYellow, TierGreen:
		return Decision{Allowed: true, Tier: tier}
	}

	// Unrecognised tier value: fail safe.
	k.logAudit("tier-block", fmt.Sprintf("tool=%s unrecognised tier %q", name, tier), args)
	return Decision{Allowed: false, Reason: fmt.Sprintf("unrecognised tier %q for tool %q", tier, name), Tier: TierBlack}
}

// ProtectedCheck is the result of [Kernel.IsProtectedResource].
type ProtectedCheck struct {
	Protected bool
	Reason    string
}

// IsProtectedResource reports whether any canonical argument key in args
// names a protected resource: vmid/id against the protected VM table,
// service against the protected service list, or a command string containing
// a protected service name.
func (k *Kernel) IsProtectedResource(args map[string]any) ProtectedCheck {
	if args == nil {
		return ProtectedCheck{}
	}

	for _, key := range []string{"vmid", "id"} {
		if v, ok := args[key]; ok {
			if id, ok := asInt(v); ok {
				if desc, hit := k.protectedVMIDs[id]; hit {
					return ProtectedCheck{
						Protected: true,
						Reason:    fmt.Sprintf("VMID %d is protected: %s", id, desc),
					}
				}
			}
		}
	}

	if svc, ok := args["service"].(string); ok {
		for _, p := range k.protectedServices {
			if strings.EqualFold(strings.TrimSpace(svc), p) {
				return ProtectedCheck{
					Protected: true,
					Reason:    fmt.Sprintf("service %q hosts the control plane and is protected", p),
				}
			}
		}
	}

	if cmd, ok := args["command"].(string); ok {
		lower := strings.ToLower(cmd)
		for _, p := range k.protectedServices {
			if strings.Contains(lower, strings.ToLower(p)) {
				return ProtectedCheck{
					Protected: true,
					Reason:    fmt.Sprintf("command references protected service %q", p),
				}
			}
		}
	}

	return ProtectedCheck{}
}

// asInt coerces the JSON-ish numeric representations that appear in tool
// argument maps into an int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &i); err == nil {
			return i, true
		}
	}
	return 0, false
}
