package safety

import (
	"strings"
	"sync"
	"testing"

	"github.com/hearthward/jarvisd/internal/events"
)

// recordingSink captures audit events for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Record(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestKernel(t *testing.T) (*Kernel, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	k := NewKernel(Config{ApprovalKeyword: "execute order 66"}, sink)
	k.RegisterTier("get_cluster_status", TierGreen)
	k.RegisterTier("start_vm", TierYellow)
	k.RegisterTier("stop_vm", TierRed)
	k.RegisterTier("run_command", TierOrange)
	k.RegisterTier("reboot_node", TierBlack)
	return k, sink
}

func TestCheckSafetyTiers(t *testing.T) {
	k, _ := newTestKernel(t)

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		confirmed bool
		override  bool
		allowed   bool
		reasonHas string
		tier      Tier
	}{
		{
			name:    "green always allowed",
			tool:    "get_cluster_status",
			allowed: true,
			tier:    TierGreen,
		},
		{
			name:    "yellow allowed",
			tool:    "start_vm",
			args:    map[string]any{"vmid": 200},
			allowed: true,
			tier:    TierYellow,
		},
		{
			name:      "red without confirmation blocked",
			tool:      "stop_vm",
			args:      map[string]any{"vmid": 200},
			allowed:   false,
			reasonHas: "confirmed",
			tier:      TierRed,
		},
		{
			name:      "red with confirmation allowed",
			tool:      "stop_vm",
			args:      map[string]any{"vmid": 200},
			confirmed: true,
			allowed:   true,
			tier:      TierRed,
		},
		{
			name:      "orange without keyword blocked",
			tool:      "run_command",
			args:      map[string]any{"command": "ls /tmp"},
			allowed:   false,
			reasonHas: "approval keyword",
			tier:      TierOrange,
		},
		{
			name:    "orange with keyword allowed",
			tool:    "run_command",
			args:    map[string]any{"command": "ls /tmp", "keyword": "  Execute Order 66 "},
			allowed: true,
			tier:    TierOrange,
		},
		{
			name:      "black blocked",
			tool:      "reboot_node",
			args:      map[string]any{"node": "Home"},
			allowed:   false,
			reasonHas: "BLACK",
			tier:      TierBlack,
		},
		{
			name:     "black allowed under override",
			tool:     "reboot_node",
			args:     map[string]any{"node": "Home"},
			override: true,
			allowed:  true,
			tier:     TierBlack,
		},
		{
			name:      "unknown tool resolves to black",
			tool:      "drop_database",
			allowed:   false,
			reasonHas: "BLACK",
			tier:      TierBlack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := k.CheckSafety(tt.tool, tt.args, tt.confirmed, tt.override)
			if d.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (reason %q)", d.Allowed, tt.allowed, d.Reason)
			}
			if d.Tier != tt.tier {
				t.Errorf("Tier = %s, want %s", d.Tier, tt.tier)
			}
			if tt.reasonHas != "" && !strings.Contains(d.Reason, tt.reasonHas) {
				t.Errorf("Reason %q does not contain %q", d.Reason, tt.reasonHas)
			}
		})
	}
}

func TestDenialsAreAudited(t *testing.T) {
	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		confirmed bool
	}{
		{
			name: "black denial",
			tool: "reboot_node",
			args: map[string]any{"node": "pve"},
		},
		{
			name: "red denial without confirmation",
			tool: "stop_vm",
			args: map[string]any{"vmid": 200},
		},
		{
			name: "orange denial without keyword",
			tool: "run_command",
			args: map[string]any{"command": "ls /tmp"},
		},
		{
			name: "unknown tool denial",
			tool: "drop_database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, sink := newTestKernel(t)
			d := k.CheckSafety(tt.tool, tt.args, tt.confirmed, false)
			if d.Allowed {
				t.Fatalf("expected denial, got allowed (reason %q)", d.Reason)
			}
			if got := sink.count(); got != 1 {
				t.Fatalf("audit events = %d, want exactly 1", got)
			}
			ev := sink.events[0]
			if ev.Type != "action" || ev.Severity != events.SeverityWarning {
				t.Errorf("audit event type=%q severity=%q, want action/warning", ev.Type, ev.Severity)
			}
			if !strings.Contains(ev.Message, tt.tool) {
				t.Errorf("audit message %q does not name tool %q", ev.Message, tt.tool)
			}
		})
	}
}

func TestAllowedCallsNotAudited(t *testing.T) {
	k, sink := newTestKernel(t)

	k.CheckSafety("get_cluster_status", nil, false, false)
	k.CheckSafety("start_vm", map[string]any{"vmid": 200}, false, false)
	k.CheckSafety("stop_vm", map[string]any{"vmid": 200}, true, false)
	k.CheckSafety("run_command", map[string]any{"command": "ls", "keyword": "execute order 66"}, false, false)

	if got := sink.count(); got != 0 {
		t.Errorf("audit events = %d, want 0 for allowed non-override calls", got)
	}
}

func TestCheckSafetyDeterministic(t *testing.T) {
	k, _ := newTestKernel(t)
	args := map[string]any{"vmid": 200}
	first := k.CheckSafety("stop_vm", args, false, false)
	for i := 0; i < 50; i++ {
		if got := k.CheckSafety("stop_vm", args, false, false); got != first {
			t.Fatalf("decision changed between identical evaluations: %+v vs %+v", got, first)
		}
	}
}

func TestProtectedResourceOverridesTier(t *testing.T) {
	k, sink := newTestKernel(t)

	// Confirmation does not help against a protected VMID.
	d := k.CheckSafety("stop_vm", map[string]any{"node": "pve", "vmid": 103}, true, false)
	if d.Allowed {
		t.Fatal("protected VMID 103 must be blocked regardless of confirmation")
	}
	if !strings.Contains(d.Reason, "103") {
		t.Errorf("reason %q does not name VMID 103", d.Reason)
	}
	if sink.count() == 0 {
		t.Error("protected block must produce an audit event")
	}

	// A privileged override may pass through.
	d = k.CheckSafety("stop_vm", map[string]any{"vmid": 103}, true, true)
	if !d.Allowed {
		t.Errorf("override should permit the protected resource, got %q", d.Reason)
	}
}

func TestIsProtectedResource(t *testing.T) {
	k, _ := newTestKernel(t)

	tests := []struct {
		name      string
		args      map[string]any
		protected bool
	}{
		{"vmid int", map[string]any{"vmid": 103}, true},
		{"vmid float from json", map[string]any{"vmid": float64(103)}, true},
		{"vmid string", map[string]any{"vmid": "103"}, true},
		{"id key", map[string]any{"id": 103}, true},
		{"other vmid", map[string]any{"vmid": 200}, false},
		{"protected service", map[string]any{"service": "jarvisd"}, true},
		{"command mentioning service", map[string]any{"command": "systemctl status jarvisd"}, true},
		{"benign command", map[string]any{"command": "df -h"}, false},
		{"nil args", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := k.IsProtectedResource(tt.args).Protected; got != tt.protected {
				t.Errorf("Protected = %v, want %v", got, tt.protected)
			}
		})
	}
}

func TestValidateApprovalKeyword(t *testing.T) {
	k, _ := newTestKernel(t)
	if !k.ValidateApprovalKeyword("EXECUTE ORDER 66") {
		t.Error("keyword match should be case-insensitive")
	}
	if !k.ValidateApprovalKeyword("\texecute order 66\n") {
		t.Error("keyword match should trim whitespace")
	}
	if k.ValidateApprovalKeyword("execute order 67") {
		t.Error("wrong keyword must not validate")
	}
	if k.ValidateApprovalKeyword("") {
		t.Error("empty keyword must not validate")
	}
}

func TestOverrideIsScopedPerCall(t *testing.T) {
	k, _ := newTestKernel(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		override := i%2 == 0
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := k.CheckSafety("reboot_node", map[string]any{"node": "pve"}, false, override)
			if d.Allowed != override {
				t.Errorf("override=%v but Allowed=%v: overrides leaked across calls", override, d.Allowed)
			}
		}()
	}
	wg.Wait()
}
