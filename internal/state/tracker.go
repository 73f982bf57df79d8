// Package state maintains the monitor's in-memory view of the cluster: the
// last-known status of every node, VM, and container ([Tracker]) and the
// hysteresis-gated resource threshold evaluation ([ThresholdEvaluator]).
//
// The [Tracker] is written by the critical poll tier and read by other
// goroutines (the runbook engine's verification step and the monitor status
// endpoint), so it carries its own lock. The [ThresholdEvaluator] is touched
// only by the critical tier and needs none.
package state

import (
	"fmt"
	"sync"
	"time"
)

// GuestKind distinguishes QEMU VMs from LXC containers.
type GuestKind string

const (
	KindVM GuestKind = "qemu"
	KindCT GuestKind = "lxc"
)

// Condition is the closed set of detectable incident conditions.
type Condition string

const (
	CondNodeUnreachable Condition = "NODE_UNREACHABLE"
	CondNodeRecovered   Condition = "NODE_RECOVERED"
	CondVMCrashed       Condition = "VM_CRASHED"
	CondCTCrashed       Condition = "CT_CRASHED"
	CondVMRecovered     Condition = "VM_RECOVERED"
	CondDiskHigh        Condition = "DISK_HIGH"
	CondDiskCritical    Condition = "DISK_CRITICAL"
	CondRAMHigh         Condition = "RAM_HIGH"
	CondRAMCritical     Condition = "RAM_CRITICAL"
	CondCPUHigh         Condition = "CPU_HIGH"
	CondServiceDown     Condition = "SERVICE_DOWN"
	CondTempHigh        Condition = "TEMP_HIGH"
)

// NodeObservation is a single poll result for one node.
type NodeObservation struct {
	Name    string
	Status  string // "online" or "offline"
	CPU     float64
	MaxCPU  int
	Mem     int64
	MaxMem  int64
	Disk    int64
	MaxDisk int64
}

// GuestObservation is a single poll result for one VM or container.
type GuestObservation struct {
	VMID   int
	Name   string
	Node   string
	Status string // "running", "stopped", "paused", ...
	Kind   GuestKind
}

// Change describes a detected state transition.
type Change struct {
	Condition Condition
	Target    string // node name or "vmid=<n>"
	VMID      int
	Node      string
	Prev      string
	Curr      string
	Detail    string
}

// Key returns the stable incident key for this change, the deduplication
// primitive used by the rate limiter and the runbook engine.
func (c Change) Key() string {
	if c.VMID != 0 {
		return fmt.Sprintf("%s:vmid=%d", c.Condition, c.VMID)
	}
	return fmt.Sprintf("%s:%s", c.Condition, c.Target)
}

type nodeState struct {
	status   string
	lastSeen time.Time
}

type guestState struct {
	status   string
	node     string
	kind     GuestKind
	lastSeen time.Time
}

// Tracker holds the last-known state of nodes and guests. The first
// observation of any entity seeds the state without emitting a change;
// subsequent observations emit a change only when the status differs.
//
// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	nodes  map[string]nodeState
	guests map[int]guestState
	now    func() time.Time
}

// NewTracker returns an empty [Tracker].
func NewTracker() *Tracker {
	return &Tracker{
		nodes:  make(map[string]nodeState),
		guests: make(map[int]guestState),
		now:    time.Now,
	}
}

// UpdateNodes ingests a node observation list and returns the state changes
// since the previous poll.
func (t *Tracker) UpdateNodes(obs []NodeObservation) []Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []Change
	now := t.now()

	for _, o := range obs {
		prev, seen := t.nodes[o.Name]
		t.nodes[o.Name] = nodeState{status: o.Status, lastSeen: now}
		if !seen || prev.status == o.Status {
			continue
		}

		switch {
		case o.Status != "online" && prev.status == "online":
			changes = append(changes, Change{
				Condition: CondNodeUnreachable,
				Target:    o.Name,
				Node:      o.Name,
				Prev:      prev.status,
				Curr:      o.Status,
				Detail:    fmt.Sprintf("node %s went %s", o.Name, o.Status),
			})
		case o.Status == "online" && prev.status != "online":
			changes = append(changes, Change{
				Condition: CondNodeRecovered,
				Target:    o.Name,
				Node:      o.Name,
				Prev:      prev.status,
				Curr:      o.Status,
				Detail:    fmt.Sprintf("node %s is back online", o.Name),
			})
		}
	}
	return changes
}

// UpdateGuests ingests a VM/CT observation list and returns the state
// changes since the previous poll. A running → stopped transition is typed
// [CondVMCrashed] or [CondCTCrashed] according to the guest kind.
func (t *Tracker) UpdateGuests(obs []GuestObservation) []Change {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []Change
	now := t.now()

	for _, o := range obs {
		prev, seen := t.guests[o.VMID]
		t.guests[o.VMID] = guestState{status: o.Status, node: o.Node, kind: o.Kind, lastSeen: now}
		if !seen || prev.status == o.Status {
			continue
		}

		switch {
		case prev.status == "running" && o.Status == "stopped":
			cond := CondVMCrashed
			if o.Kind == KindCT {
				cond = CondCTCrashed
			}
			changes = append(changes, Change{
				Condition: cond,
				Target:    fmt.Sprintf("vmid=%d", o.VMID),
				VMID:      o.VMID,
				Node:      o.Node,
				Prev:      prev.status,
				Curr:      o.Status,
				Detail:    fmt.Sprintf("%s %d (%s) on %s went running → stopped", o.Kind, o.VMID, o.Name, o.Node),
			})
		case prev.status != "running" && o.Status == "running":
			changes = append(changes, Change{
				Condition: CondVMRecovered,
				Target:    fmt.Sprintf("vmid=%d", o.VMID),
				VMID:      o.VMID,
				Node:      o.Node,
				Prev:      prev.status,
				Curr:      o.Status,
				Detail:    fmt.Sprintf("%s %d (%s) on %s is running again", o.Kind, o.VMID, o.Name, o.Node),
			})
		}
	}
	return changes
}

// GuestStatus returns the last-known status for vmid, if observed.
func (t *Tracker) GuestStatus(vmid int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.guests[vmid]
	return g.status, ok
}

// NodeStatus returns the last-known status for a node, if observed.
func (t *Tracker) NodeStatus(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[name]
	return n.status, ok
}

// OnlineNodeCount returns how many tracked nodes are currently online.
func (t *Tracker) OnlineNodeCount() (online, total int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, n := range t.nodes {
		total++
		if n.status == "online" {
			online++
		}
	}
	return online, total
}
