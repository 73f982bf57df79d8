// Package monitor is the autonomous heart of the control plane: four
// periodic tiers scan the hypervisor, detected incidents flow into the
// runbook [Engine], and every autonomous decision is guarded, audited, and
// broadcast.
//
// Each tier is independently wrapped; a failing or panicking tier never
// disables another, and the monitor never takes the process down.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/resilience"
	"github.com/hearthward/jarvisd/internal/state"
	"github.com/hearthward/jarvisd/pkg/proxmox"
)

// Tier cadences. Offset from the common snapshot-emitter cadences (10 s,
// 30 s) so the plane does not pile onto the hypervisor API in lockstep with
// other pollers.
const (
	criticalInterval   = 12 * time.Second
	importantInterval  = 32 * time.Second
	routineInterval    = 5 * time.Minute
	backgroundInterval = 30 * time.Minute

	// startupDelay precedes the first poll of every tier.
	startupDelay = 5 * time.Second

	// auditRetention bounds the autonomy audit log.
	auditRetention = 30 * 24 * time.Hour

	// snapshotRetention bounds the cluster snapshot history.
	snapshotRetention = 7 * 24 * time.Hour

	// Storage sweep thresholds, percent used.
	storageWarnPct     = 85
	storageCriticalPct = 95
)

// MonitorStore is the store slice the tiers write to.
type MonitorStore interface {
	RecordEvent(ctx context.Context, ev events.Event) error
	RecordSnapshot(ctx context.Context, snapshotJSON string) error
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
	PruneAutonomyActions(ctx context.Context, cutoff time.Time) (int64, error)
}

// Monitor owns the four polling tiers and feeds the runbook [Engine].
type Monitor struct {
	cluster    Cluster
	breaker    *resilience.CircuitBreaker
	tracker    *state.Tracker
	thresholds *state.ThresholdEvaluator
	engine     *Engine
	store      MonitorStore
	bus        *events.Bus
	metrics    *observe.Metrics
}

// New assembles a [Monitor]. The hypervisor client is wrapped in a circuit
// breaker so a flapping API trips fast instead of stacking slow timeouts
// across tiers.
func New(cluster Cluster, engine *Engine, st MonitorStore, bus *events.Bus, metrics *observe.Metrics) *Monitor {
	return &Monitor{
		cluster:    cluster,
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "hypervisor"}),
		tracker:    state.NewTracker(),
		thresholds: state.NewThresholdEvaluator(),
		engine:     engine,
		store:      st,
		bus:        bus,
		metrics:    metrics,
	}
}

// Engine returns the runbook engine, for the monitor status endpoint.
func (m *Monitor) Engine() *Engine {
	return m.engine
}

// Tracker returns the cluster state tracker, for the monitor status endpoint.
func (m *Monitor) Tracker() *state.Tracker {
	return m.tracker
}

// Run starts the four tiers and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	tiers := []struct {
		name     string
		interval time.Duration
		poll     func(context.Context) error
	}{
		{"critical", criticalInterval, m.pollCritical},
		{"important", importantInterval, m.pollImportant},
		{"routine", routineInterval, m.pollRoutine},
		{"background", backgroundInterval, m.pollBackground},
	}
	for _, tier := range tiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runTier(ctx, tier.name, tier.interval, tier.poll)
		}()
	}
	wg.Wait()
}

// runTier is the shared tier loop: startup delay, then a ticker, each tick
// isolated against both errors and panics.
func (m *Monitor) runTier(ctx context.Context, name string, interval time.Duration, poll func(context.Context) error) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.safePoll(ctx, name, poll)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safePoll(ctx, name, poll)
		}
	}
}

func (m *Monitor) safePoll(ctx context.Context, name string, poll func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("monitor tier panicked", "tier", name, "panic", r)
		}
	}()

	start := time.Now()
	err := poll(ctx)
	m.metrics.MonitorPollDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("monitor poll failed", "tier", name, "error", err)
	}
}

// fetchNodes routes the node query through the circuit breaker.
func (m *Monitor) fetchNodes(ctx context.Context) ([]proxmox.Resource, error) {
	var out []proxmox.Resource
	err := m.breaker.Execute(func() error {
		var err error
		out, err = m.cluster.Nodes(ctx)
		return err
	})
	return out, err
}

func (m *Monitor) fetchGuests(ctx context.Context) ([]proxmox.Resource, error) {
	var out []proxmox.Resource
	err := m.breaker.Execute(func() error {
		var err error
		out, err = m.cluster.Guests(ctx)
		return err
	})
	return out, err
}

// pollCritical fetches nodes and guests in parallel, feeds the state
// tracker, and dispatches each change: record, broadcast, and (for incident
// conditions) fire-and-forget into the runbook engine.
func (m *Monitor) pollCritical(ctx context.Context) error {
	var nodes, guests []proxmox.Resource
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = m.fetchNodes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		guests, err = m.fetchGuests(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("monitor: critical poll: %w", err)
	}

	changes := m.tracker.UpdateNodes(nodeObservations(nodes))
	changes = append(changes, m.tracker.UpdateGuests(guestObservations(guests))...)

	for _, ch := range changes {
		m.metrics.RecordIncident(ctx, string(ch.Condition))
		ev := changeEvent(ch)
		if err := m.store.RecordEvent(ctx, ev); err != nil {
			slog.Error("event write failed", "event_type", ev.Type, "error", err)
		}
		m.bus.Publish(ev)

		if isIncident(ch.Condition) {
			go m.engine.HandleIncident(ctx, ch)
		}
	}

	m.recordSnapshot(ctx, nodes, guests)
	return nil
}

// pollImportant evaluates node resource thresholds and reports each newly
// entered violation.
func (m *Monitor) pollImportant(ctx context.Context) error {
	nodes, err := m.fetchNodes(ctx)
	if err != nil {
		return fmt.Errorf("monitor: important poll: %w", err)
	}

	for _, v := range m.thresholds.Evaluate(nodeObservations(nodes)) {
		sev := events.SeverityWarning
		if v.Rule.Severity == "critical" {
			sev = events.SeverityCritical
		}
		ev := events.New("alert", sev, events.SourceMonitor,
			fmt.Sprintf("%s on %s", v.Rule.Condition, v.Node),
			fmt.Sprintf("%s usage on %s is %.1f%% (threshold %.0f%%)", v.Rule.Metric, v.Node, v.Value, v.Rule.Threshold))
		ev.Node = v.Node
		if err := m.store.RecordEvent(ctx, ev); err != nil {
			slog.Error("event write failed", "event_type", ev.Type, "error", err)
		}
		m.bus.Publish(ev)
	}
	return nil
}

// pollRoutine emits the cluster heartbeat.
func (m *Monitor) pollRoutine(ctx context.Context) error {
	online, total := m.tracker.OnlineNodeCount()
	if total == 0 {
		// Nothing observed yet; the critical tier has not completed a poll.
		return nil
	}

	sev := events.SeverityInfo
	title := "All systems nominal"
	msg := fmt.Sprintf("%d of %d nodes online", online, total)
	if online < total {
		sev = events.SeverityWarning
		title = "Cluster degraded"
	}
	ev := events.New("status", sev, events.SourceMonitor, title, msg)
	if err := m.store.RecordEvent(ctx, ev); err != nil {
		slog.Error("event write failed", "event_type", ev.Type, "error", err)
	}
	m.bus.Publish(ev)
	return nil
}

// pollBackground sweeps storage capacity and prunes the autonomy audit log.
func (m *Monitor) pollBackground(ctx context.Context) error {
	pools, err := m.cluster.Storage(ctx)
	if err != nil {
		return fmt.Errorf("monitor: background poll: %w", err)
	}

	for _, p := range pools {
		if p.MaxDisk == 0 {
			continue
		}
		pct := float64(p.Disk) / float64(p.MaxDisk) * 100
		if pct < storageWarnPct {
			continue
		}
		sev := events.SeverityWarning
		if pct >= storageCriticalPct {
			sev = events.SeverityCritical
		}
		ev := events.New("alert", sev, events.SourceMonitor,
			fmt.Sprintf("Storage %s at %.1f%%", p.Storage, pct),
			fmt.Sprintf("Storage pool %s on %s has used %.1f%% of capacity", p.Storage, p.Node, pct))
		ev.Node = p.Node
		if err := m.store.RecordEvent(ctx, ev); err != nil {
			slog.Error("event write failed", "event_type", ev.Type, "error", err)
		}
		m.bus.Publish(ev)
	}

	if n, err := m.store.PruneAutonomyActions(ctx, time.Now().Add(-auditRetention)); err != nil {
		slog.Error("audit prune failed", "error", err)
	} else if n > 0 {
		slog.Info("pruned autonomy audit records", "count", n)
	}
	if n, err := m.store.PruneSnapshots(ctx, time.Now().Add(-snapshotRetention)); err != nil {
		slog.Error("snapshot prune failed", "error", err)
	} else if n > 0 {
		slog.Info("pruned cluster snapshots", "count", n)
	}
	return nil
}

// recordSnapshot persists a compact cluster snapshot for the dashboard's
// history view. Best-effort.
func (m *Monitor) recordSnapshot(ctx context.Context, nodes, guests []proxmox.Resource) {
	snap := map[string]any{
		"nodes":  nodes,
		"guests": guests,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := m.store.RecordSnapshot(ctx, string(data)); err != nil {
		slog.Error("snapshot write failed", "error", err)
	}
}

// isIncident reports whether a condition should enter the runbook engine.
// Recoveries are informational only.
func isIncident(c state.Condition) bool {
	switch c {
	case state.CondNodeRecovered, state.CondVMRecovered:
		return false
	}
	return true
}

// changeEvent maps a tracker change to its broadcast event.
func changeEvent(ch state.Change) events.Event {
	var (
		typ = "alert"
		sev = events.SeverityError
	)
	switch ch.Condition {
	case state.CondNodeUnreachable:
		sev = events.SeverityCritical
	case state.CondNodeRecovered, state.CondVMRecovered:
		typ = "status"
		sev = events.SeverityInfo
	}
	ev := events.New(typ, sev, events.SourceMonitor,
		fmt.Sprintf("%s: %s", ch.Condition, ch.Target), ch.Detail)
	ev.Node = ch.Node
	return ev
}

// nodeObservations converts hypervisor node resources to tracker input.
func nodeObservations(nodes []proxmox.Resource) []state.NodeObservation {
	out := make([]state.NodeObservation, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, state.NodeObservation{
			Name:    n.Node,
			Status:  n.Status,
			CPU:     n.CPU,
			MaxCPU:  int(n.MaxCPU),
			Mem:     n.Mem,
			MaxMem:  n.MaxMem,
			Disk:    n.Disk,
			MaxDisk: n.MaxDisk,
		})
	}
	return out
}

// guestObservations converts hypervisor guest resources to tracker input.
func guestObservations(guests []proxmox.Resource) []state.GuestObservation {
	out := make([]state.GuestObservation, 0, len(guests))
	for _, g := range guests {
		kind := state.KindVM
		if g.Type == "lxc" {
			kind = state.KindCT
		}
		out = append(out, state.GuestObservation{
			VMID:   g.VMID,
			Name:   g.Name,
			Node:   g.Node,
			Status: g.Status,
			Kind:   kind,
		})
	}
	return out
}
