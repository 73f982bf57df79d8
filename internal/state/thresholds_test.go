package state

import "testing"

func node(name string, diskPct, ramPct, cpuPct float64) NodeObservation {
	return NodeObservation{
		Name:    name,
		Status:  "online",
		Disk:    int64(diskPct * 10),
		MaxDisk: 1000,
		Mem:     int64(ramPct * 10),
		MaxMem:  1000,
		CPU:     cpuPct / 100,
	}
}

func TestThresholdHysteresis(t *testing.T) {
	e := NewThresholdEvaluator()

	// First crossing fires.
	v := e.Evaluate([]NodeObservation{node("pve", 92, 50, 10)})
	if len(v) != 1 || v[0].Rule.Condition != CondDiskHigh {
		t.Fatalf("violations = %+v, want one DISK_HIGH", v)
	}

	// Still above: no re-fire.
	if v := e.Evaluate([]NodeObservation{node("pve", 93, 50, 10)}); len(v) != 0 {
		t.Fatalf("re-fired while still above threshold: %+v", v)
	}

	// Falls back below: key cleared.
	if v := e.Evaluate([]NodeObservation{node("pve", 80, 50, 10)}); len(v) != 0 {
		t.Fatalf("clearing should not emit: %+v", v)
	}

	// Re-crossing fires again.
	if v := e.Evaluate([]NodeObservation{node("pve", 91, 50, 10)}); len(v) != 1 {
		t.Fatalf("re-entry did not fire: %+v", v)
	}
}

func TestThresholdEqualityDoesNotFire(t *testing.T) {
	e := NewThresholdEvaluator()
	// Exactly 90% disk: strict > means no violation.
	if v := e.Evaluate([]NodeObservation{node("pve", 90, 0, 0)}); len(v) != 0 {
		t.Fatalf("equality fired: %+v", v)
	}
}

func TestThresholdSeverityEscalation(t *testing.T) {
	e := NewThresholdEvaluator()

	v := e.Evaluate([]NodeObservation{node("pve", 96, 0, 0)})
	if len(v) != 1 || v[0].Rule.Condition != CondDiskCritical {
		t.Fatalf("violations = %+v, want one DISK_CRITICAL", v)
	}
	// The high rule must not also fire for the same reading.
	for _, got := range v {
		if got.Rule.Condition == CondDiskHigh {
			t.Error("DISK_HIGH fired alongside DISK_CRITICAL")
		}
	}
}

func TestOfflineNodesSkipped(t *testing.T) {
	e := NewThresholdEvaluator()
	offline := node("backup", 99, 99, 99)
	offline.Status = "offline"
	if v := e.Evaluate([]NodeObservation{offline}); len(v) != 0 {
		t.Fatalf("offline node evaluated: %+v", v)
	}
}

func TestRAMAndCPURules(t *testing.T) {
	e := NewThresholdEvaluator()
	v := e.Evaluate([]NodeObservation{node("pve", 10, 96, 97)})
	conds := map[Condition]bool{}
	for _, got := range v {
		conds[got.Rule.Condition] = true
	}
	if !conds[CondRAMCritical] {
		t.Error("RAM_CRITICAL missing")
	}
	if !conds[CondCPUHigh] {
		t.Error("CPU_HIGH missing")
	}
	if conds[CondRAMHigh] {
		t.Error("RAM_HIGH must be suppressed by RAM_CRITICAL")
	}
}

func TestViolationKey(t *testing.T) {
	v := Violation{Rule: ThresholdRule{Condition: CondDiskHigh}, Node: "pve"}
	if v.Key() != "DISK_HIGH:pve" {
		t.Errorf("Key = %q", v.Key())
	}
}
