package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/state"
	"github.com/hearthward/jarvisd/pkg/proxmox"
)

type fakeMonitorStore struct {
	mu        sync.Mutex
	events    []events.Event
	snapshots []string
	pruned    []time.Time
}

func (f *fakeMonitorStore) RecordEvent(ctx context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeMonitorStore) RecordSnapshot(ctx context.Context, snapshotJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, snapshotJSON)
	return nil
}

func (f *fakeMonitorStore) PruneAutonomyActions(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, cutoff)
	return 0, nil
}

func (f *fakeMonitorStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeMonitorStore) eventTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Title)
	}
	return out
}

func newTestMonitor(t *testing.T, cluster *fakeCluster) (*Monitor, *fakeMonitorStore, *fakeExecutor) {
	t.Helper()
	st := &fakeMonitorStore{}
	executor := &fakeExecutor{}
	engine := NewEngine(executor, &fakePrefs{level: LevelActSilent}, &fakeAudit{}, nil, cluster, events.NewBus(), testMetrics(t))
	engine.sleep = func(ctx context.Context, d time.Duration) {}
	m := New(cluster, engine, st, events.NewBus(), testMetrics(t))
	return m, st, executor
}

func TestPollCriticalFirstObservationSeeds(t *testing.T) {
	cluster := &fakeCluster{
		nodes: []proxmox.Resource{{Node: "pve1", Type: "node", Status: "online"}},
		guests: []proxmox.Resource{
			{VMID: 200, Name: "nas", Node: "pve1", Type: "qemu", Status: "running"},
		},
	}
	m, st, _ := newTestMonitor(t, cluster)

	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("pollCritical: %v", err)
	}
	if len(st.events) != 0 {
		t.Errorf("first poll emitted events: %v", st.eventTitles())
	}
	if len(st.snapshots) != 1 {
		t.Errorf("snapshots = %d, want 1", len(st.snapshots))
	}
}

func TestPollCriticalDispatchesCrash(t *testing.T) {
	cluster := &fakeCluster{
		nodes: []proxmox.Resource{{Node: "pve1", Type: "node", Status: "online"}},
		guests: []proxmox.Resource{
			{VMID: 200, Name: "nas", Node: "pve1", Type: "qemu", Status: "running"},
		},
	}
	m, st, executor := newTestMonitor(t, cluster)

	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("seed poll: %v", err)
	}
	cluster.setGuestStatus(200, "stopped")
	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("crash poll: %v", err)
	}

	var sawCrash bool
	for _, title := range st.eventTitles() {
		if strings.Contains(title, "VM_CRASHED") {
			sawCrash = true
		}
	}
	if !sawCrash {
		t.Fatalf("no crash event recorded: %v", st.eventTitles())
	}

	// The incident is dispatched fire-and-forget; wait briefly for the
	// engine goroutine to reach the executor.
	deadline := time.Now().Add(2 * time.Second)
	for executor.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if executor.callCount() != 1 {
		t.Fatalf("executor calls = %d, want 1", executor.callCount())
	}
	if executor.calls[0].tool != "start_vm" {
		t.Errorf("tool = %q", executor.calls[0].tool)
	}
}

func TestPollCriticalRecoveryIsInformational(t *testing.T) {
	cluster := &fakeCluster{
		nodes: []proxmox.Resource{{Node: "pve1", Type: "node", Status: "online"}},
		guests: []proxmox.Resource{
			{VMID: 200, Name: "nas", Node: "pve1", Type: "qemu", Status: "stopped"},
		},
	}
	m, st, executor := newTestMonitor(t, cluster)

	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("seed poll: %v", err)
	}
	cluster.setGuestStatus(200, "running")
	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("recovery poll: %v", err)
	}

	var recovered *events.Event
	for i, ev := range st.events {
		if strings.Contains(ev.Title, "VM_RECOVERED") {
			recovered = &st.events[i]
		}
	}
	if recovered == nil {
		t.Fatalf("no recovery event: %v", st.eventTitles())
	}
	if recovered.Severity != events.SeverityInfo || recovered.Type != "status" {
		t.Errorf("recovery event = %+v", recovered)
	}

	time.Sleep(50 * time.Millisecond)
	if executor.callCount() != 0 {
		t.Error("recovery dispatched a remediation")
	}
}

func TestPollImportantThresholds(t *testing.T) {
	cluster := &fakeCluster{
		nodes: []proxmox.Resource{{
			Node: "pve1", Type: "node", Status: "online",
			Disk: 96, MaxDisk: 100, Mem: 50, MaxMem: 100,
		}},
	}
	m, st, _ := newTestMonitor(t, cluster)

	if err := m.pollImportant(context.Background()); err != nil {
		t.Fatalf("pollImportant: %v", err)
	}
	if len(st.events) != 1 {
		t.Fatalf("events = %v", st.eventTitles())
	}
	ev := st.events[0]
	if !strings.Contains(ev.Title, "DISK_CRITICAL") || ev.Severity != events.SeverityCritical {
		t.Errorf("event = %+v", ev)
	}

	// Hysteresis: the same reading does not fire twice.
	if err := m.pollImportant(context.Background()); err != nil {
		t.Fatalf("second pollImportant: %v", err)
	}
	if len(st.events) != 1 {
		t.Errorf("violation re-fired: %v", st.eventTitles())
	}
}

func TestPollRoutineHeartbeat(t *testing.T) {
	cluster := &fakeCluster{
		nodes: []proxmox.Resource{
			{Node: "pve1", Type: "node", Status: "online"},
			{Node: "pve2", Type: "node", Status: "offline"},
		},
	}
	m, st, _ := newTestMonitor(t, cluster)

	// Before any critical poll there is nothing to report.
	if err := m.pollRoutine(context.Background()); err != nil {
		t.Fatalf("pollRoutine: %v", err)
	}
	if len(st.events) != 0 {
		t.Fatalf("heartbeat before first observation: %v", st.eventTitles())
	}

	if err := m.pollCritical(context.Background()); err != nil {
		t.Fatalf("pollCritical: %v", err)
	}
	if err := m.pollRoutine(context.Background()); err != nil {
		t.Fatalf("pollRoutine: %v", err)
	}

	last := st.events[len(st.events)-1]
	if last.Title != "Cluster degraded" || last.Severity != events.SeverityWarning {
		t.Errorf("heartbeat = %+v", last)
	}
}

func TestPollBackgroundStorageSweep(t *testing.T) {
	cluster := &fakeCluster{
		pools: []proxmox.Resource{
			{Storage: "local-zfs", Node: "pve1", Type: "storage", Disk: 96, MaxDisk: 100},
			{Storage: "backup", Node: "pve1", Type: "storage", Disk: 87, MaxDisk: 100},
			{Storage: "fast", Node: "pve2", Type: "storage", Disk: 10, MaxDisk: 100},
		},
	}
	m, st, _ := newTestMonitor(t, cluster)

	if err := m.pollBackground(context.Background()); err != nil {
		t.Fatalf("pollBackground: %v", err)
	}
	if len(st.events) != 2 {
		t.Fatalf("events = %v", st.eventTitles())
	}
	if st.events[0].Severity != events.SeverityCritical {
		t.Errorf("local-zfs severity = %s", st.events[0].Severity)
	}
	if st.events[1].Severity != events.SeverityWarning {
		t.Errorf("backup severity = %s", st.events[1].Severity)
	}
	if len(st.pruned) != 1 {
		t.Errorf("prune calls = %d", len(st.pruned))
	}
}

func TestChangeEventMapping(t *testing.T) {
	cases := []struct {
		cond     state.Condition
		wantType string
		wantSev  events.Severity
	}{
		{state.CondNodeUnreachable, "alert", events.SeverityCritical},
		{state.CondVMCrashed, "alert", events.SeverityError},
		{state.CondNodeRecovered, "status", events.SeverityInfo},
		{state.CondVMRecovered, "status", events.SeverityInfo},
	}
	for _, tc := range cases {
		ev := changeEvent(state.Change{Condition: tc.cond, Target: "x", Node: "pve1"})
		if ev.Type != tc.wantType || ev.Severity != tc.wantSev {
			t.Errorf("%s: event = %s/%s, want %s/%s", tc.cond, ev.Type, ev.Severity, tc.wantType, tc.wantSev)
		}
		if ev.Source != events.SourceMonitor || ev.Node != "pve1" {
			t.Errorf("%s: event = %+v", tc.cond, ev)
		}
	}
}
