package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthward/jarvisd/internal/config"
	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/store"
	"github.com/hearthward/jarvisd/pkg/proxmox"
	"github.com/hearthward/jarvisd/pkg/sshx"
)

type fakeHypervisor struct{}

func (fakeHypervisor) Nodes(ctx context.Context) ([]proxmox.Resource, error)  { return nil, nil }
func (fakeHypervisor) Guests(ctx context.Context) ([]proxmox.Resource, error) { return nil, nil }
func (fakeHypervisor) Storage(ctx context.Context) ([]proxmox.Resource, error) {
	return nil, nil
}
func (fakeHypervisor) ClusterStatus(ctx context.Context) ([]proxmox.ClusterNode, error) {
	return nil, nil
}
func (fakeHypervisor) Tasks(ctx context.Context, node string) ([]proxmox.Task, error) {
	return nil, nil
}
func (fakeHypervisor) Lifecycle(ctx context.Context, node string, kind proxmox.GuestKind, vmid int, action proxmox.LifecycleAction) (string, error) {
	return "", nil
}

type fakeShell struct{}

func (fakeShell) Run(ctx context.Context, host, command string) (sshx.Result, error) {
	return sshx.Result{}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "jarvis.db")},
	}
}

func toolNames(a *App) map[string]bool {
	names := make(map[string]bool)
	for _, tool := range a.dispatcher.List() {
		names[tool.Name] = true
	}
	return names
}

func TestNewRegistersToolGroups(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil,
		WithHypervisor(fakeHypervisor{}), WithShell(fakeShell{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	names := toolNames(a)
	for _, want := range []string{"get_cluster_status", "start_vm", "restart_service", "read_file", "download_file"} {
		if !names[want] {
			t.Errorf("tool %q not registered", want)
		}
	}
	if names["camera_snapshot"] {
		t.Error("camera tools registered without an NVR client")
	}
	if a.monitor == nil {
		t.Error("monitor not assembled with a hypervisor present")
	}
}

func TestNewWithoutHypervisor(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	names := toolNames(a)
	if names["get_cluster_status"] || names["start_vm"] {
		t.Error("cluster tools registered without a hypervisor")
	}
	if !names["read_file"] {
		t.Error("file tools missing; they need no backing client")
	}
	if a.monitor != nil {
		t.Error("monitor assembled without a hypervisor")
	}
}

func TestHealthEndpointThroughRouter(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, WithHypervisor(fakeHypervisor{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.server.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuditSinkRecordsAndPublishes(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "jarvis.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	bus := events.NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	sink := &auditSink{store: st, bus: bus}
	ev := events.New("action", events.SeverityWarning, events.SourceSystem,
		"SAFETY: protected-block", "tool=stop_vm vmid 103 is protected")
	sink.Record(ev)

	select {
	case got := <-ch:
		if got.ID != ev.ID {
			t.Errorf("published event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audit event never reached the bus")
	}

	evs, err := st.ListEvents(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 1 || evs[0].Title != "SAFETY: protected-block" {
		t.Errorf("stored events = %+v", evs)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
