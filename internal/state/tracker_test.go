package state

import "testing"

func TestFirstObservationEmitsNoChanges(t *testing.T) {
	tr := NewTracker()

	changes := tr.UpdateNodes([]NodeObservation{
		{Name: "pve", Status: "online"},
		{Name: "backup", Status: "offline"},
	})
	if len(changes) != 0 {
		t.Fatalf("first node observation emitted %d changes", len(changes))
	}

	changes = tr.UpdateGuests([]GuestObservation{
		{VMID: 200, Name: "plex", Node: "pve", Status: "running", Kind: KindVM},
		{VMID: 300, Name: "pihole", Node: "pve", Status: "stopped", Kind: KindCT},
	})
	if len(changes) != 0 {
		t.Fatalf("first guest observation emitted %d changes", len(changes))
	}
}

func TestNodeTransitions(t *testing.T) {
	tr := NewTracker()
	tr.UpdateNodes([]NodeObservation{{Name: "pve", Status: "online"}})

	changes := tr.UpdateNodes([]NodeObservation{{Name: "pve", Status: "offline"}})
	if len(changes) != 1 || changes[0].Condition != CondNodeUnreachable {
		t.Fatalf("changes = %+v, want one NODE_UNREACHABLE", changes)
	}
	if changes[0].Key() != "NODE_UNREACHABLE:pve" {
		t.Errorf("Key = %q", changes[0].Key())
	}

	// Same status again: no repeated change.
	if changes := tr.UpdateNodes([]NodeObservation{{Name: "pve", Status: "offline"}}); len(changes) != 0 {
		t.Fatalf("steady state emitted %d changes", len(changes))
	}

	changes = tr.UpdateNodes([]NodeObservation{{Name: "pve", Status: "online"}})
	if len(changes) != 1 || changes[0].Condition != CondNodeRecovered {
		t.Fatalf("changes = %+v, want one NODE_RECOVERED", changes)
	}
}

func TestGuestCrashTypedByKind(t *testing.T) {
	tr := NewTracker()
	tr.UpdateGuests([]GuestObservation{
		{VMID: 200, Node: "pve", Status: "running", Kind: KindVM},
		{VMID: 300, Node: "pve", Status: "running", Kind: KindCT},
	})

	changes := tr.UpdateGuests([]GuestObservation{
		{VMID: 200, Node: "pve", Status: "stopped", Kind: KindVM},
		{VMID: 300, Node: "pve", Status: "stopped", Kind: KindCT},
	})
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2", len(changes))
	}
	byVMID := map[int]Condition{}
	for _, c := range changes {
		byVMID[c.VMID] = c.Condition
	}
	if byVMID[200] != CondVMCrashed {
		t.Errorf("VM 200 condition = %s, want VM_CRASHED", byVMID[200])
	}
	if byVMID[300] != CondCTCrashed {
		t.Errorf("CT 300 condition = %s, want CT_CRASHED", byVMID[300])
	}
}

func TestGuestStatusLookup(t *testing.T) {
	tr := NewTracker()
	tr.UpdateGuests([]GuestObservation{{VMID: 200, Status: "running", Kind: KindVM}})

	if st, ok := tr.GuestStatus(200); !ok || st != "running" {
		t.Errorf("GuestStatus(200) = %q, %v", st, ok)
	}
	if _, ok := tr.GuestStatus(999); ok {
		t.Error("GuestStatus(999) should not be found")
	}
}

func TestOnlineNodeCount(t *testing.T) {
	tr := NewTracker()
	tr.UpdateNodes([]NodeObservation{
		{Name: "pve", Status: "online"},
		{Name: "backup", Status: "offline"},
		{Name: "nas", Status: "online"},
	})
	online, total := tr.OnlineNodeCount()
	if online != 2 || total != 3 {
		t.Errorf("OnlineNodeCount = %d/%d, want 2/3", online, total)
	}
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := range 200 {
			status := "online"
			if i%2 == 1 {
				status = "offline"
			}
			tr.UpdateNodes([]NodeObservation{{Name: "pve", Status: status}})
			tr.UpdateGuests([]GuestObservation{{VMID: 200, Node: "pve", Status: "running", Kind: KindVM}})
		}
	}()

	for range 200 {
		tr.OnlineNodeCount()
		tr.NodeStatus("pve")
		tr.GuestStatus(200)
	}
	<-done

	if _, total := tr.OnlineNodeCount(); total != 1 {
		t.Errorf("total nodes = %d, want 1", total)
	}
}
