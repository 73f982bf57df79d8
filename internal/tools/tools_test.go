package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/sshx"
)

type nopSink struct{}

func (nopSink) Record(events.Event) {}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	kernel := safety.NewKernel(safety.Config{ApprovalKeyword: "execute order 66"}, nopSink{})
	return NewDispatcher(kernel, metrics)
}

func TestExecuteUnknownTool(t *testing.T) {
	d := newTestDispatcher(t)

	res := d.Execute(context.Background(), "no_such_tool", nil, safety.CallContext{Caller: "test"})
	if !res.Blocked {
		t.Fatal("expected unknown tool to be blocked")
	}
	if res.Tier != safety.TierBlack {
		t.Errorf("tier = %q, want %q", res.Tier, safety.TierBlack)
	}
	if !strings.Contains(res.Reason, "not found") {
		t.Errorf("reason = %q, want mention of not found", res.Reason)
	}
}

func TestExecuteSafetyBlock(t *testing.T) {
	d := newTestDispatcher(t)
	ran := false
	d.Register(Tool{
		Name:   "wipe_disk",
		Tier:   safety.TierRed,
		Schema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			ran = true
			return "done", nil
		},
	})

	res := d.Execute(context.Background(), "wipe_disk", map[string]any{}, safety.CallContext{Caller: "test"})
	if !res.Blocked {
		t.Fatal("expected unconfirmed RED call to be blocked")
	}
	if ran {
		t.Error("handler ran despite safety block")
	}

	res = d.Execute(context.Background(), "wipe_disk", map[string]any{"confirmed": true}, safety.CallContext{Caller: "test"})
	if res.Blocked || res.IsError {
		t.Fatalf("confirmed call failed: %+v", res)
	}
	if res.Content != "done" {
		t.Errorf("content = %q, want %q", res.Content, "done")
	}
}

func TestExecuteOrangeKeyword(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(Tool{
		Name:   "risky_read",
		Tier:   safety.TierOrange,
		Schema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			return "ok", nil
		},
	})

	res := d.Execute(context.Background(), "risky_read", map[string]any{"keyword": "wrong"}, safety.CallContext{})
	if !res.Blocked {
		t.Fatal("expected bad keyword to block")
	}

	res = d.Execute(context.Background(), "risky_read", map[string]any{"keyword": "execute order 66"}, safety.CallContext{})
	if res.Blocked {
		t.Fatalf("correct keyword blocked: %s", res.Reason)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(Tool{
		Name:   "flaky",
		Tier:   safety.TierGreen,
		Schema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			return "", errors.New("backend unreachable")
		},
	})

	res := d.Execute(context.Background(), "flaky", nil, safety.CallContext{})
	if !res.IsError {
		t.Fatal("expected handler error to surface as IsError")
	}
	if res.Blocked {
		t.Error("handler error must not be reported as blocked")
	}
	if res.Content != "backend unreachable" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	d := newTestDispatcher(t)
	d.Register(Tool{
		Name:   "buggy",
		Tier:   safety.TierGreen,
		Schema: json.RawMessage(`{}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			panic("index out of range")
		},
	})

	res := d.Execute(context.Background(), "buggy", nil, safety.CallContext{})
	if !res.IsError {
		t.Fatal("expected panic to surface as IsError")
	}
	if !strings.Contains(res.Content, "panicked") {
		t.Errorf("content = %q, want panic note", res.Content)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	d := newTestDispatcher(t)
	tool := Tool{Name: "once", Tier: safety.TierGreen, Handler: func(context.Context, map[string]any, safety.CallContext) (string, error) { return "", nil }}
	d.Register(tool)

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	d.Register(tool)
}

func TestListAndDefinitions(t *testing.T) {
	d := newTestDispatcher(t)
	h := func(context.Context, map[string]any, safety.CallContext) (string, error) { return "", nil }
	d.Register(Tool{Name: "zeta", Tier: safety.TierGreen, Schema: json.RawMessage(`{"type":"object"}`), Handler: h})
	d.Register(Tool{Name: "alpha", Tier: safety.TierYellow, Schema: json.RawMessage(`{"type":"object"}`), Handler: h})

	listed := d.List()
	if len(listed) != 2 || listed[0].Name != "alpha" || listed[1].Name != "zeta" {
		t.Fatalf("List() order wrong: %+v", listed)
	}
	for _, tl := range listed {
		if tl.Handler != nil {
			t.Errorf("List() leaked handler for %s", tl.Name)
		}
	}

	defs := d.Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions() = %d entries", len(defs))
	}
	if defs[0].Name != "alpha" {
		t.Errorf("definitions not sorted: %s first", defs[0].Name)
	}
}

// fakeShell records commands and plays back canned results.
type fakeShell struct {
	commands []string
	result   sshx.Result
	err      error
}

func (f *fakeShell) Run(ctx context.Context, host, command string) (sshx.Result, error) {
	f.commands = append(f.commands, host+": "+command)
	return f.result, f.err
}

func TestRestartService(t *testing.T) {
	d := newTestDispatcher(t)
	shell := &fakeShell{}
	RegisterSystemTools(d, shell)

	res := d.Execute(context.Background(), "restart_service", map[string]any{
		"node": "pve1", "service": "frigate.service", "confirmed": true,
	}, safety.CallContext{Caller: "test"})
	if res.Blocked || res.IsError {
		t.Fatalf("restart failed: %+v", res)
	}
	if len(shell.commands) != 1 || shell.commands[0] != "pve1: systemctl restart frigate.service" {
		t.Errorf("commands = %v", shell.commands)
	}
}

func TestRestartServiceRejectsBadName(t *testing.T) {
	d := newTestDispatcher(t)
	shell := &fakeShell{}
	RegisterSystemTools(d, shell)

	res := d.Execute(context.Background(), "restart_service", map[string]any{
		"node": "pve1", "service": "nginx; rm -rf /", "confirmed": true,
	}, safety.CallContext{Caller: "test"})
	if !res.IsError {
		t.Fatal("expected shell metacharacters in service name to be rejected")
	}
	if len(shell.commands) != 0 {
		t.Errorf("command ran anyway: %v", shell.commands)
	}
}

func TestRestartServiceNonZeroExit(t *testing.T) {
	d := newTestDispatcher(t)
	shell := &fakeShell{result: sshx.Result{ExitCode: 5, Stderr: "unit not found"}}
	RegisterSystemTools(d, shell)

	res := d.Execute(context.Background(), "restart_service", map[string]any{
		"node": "pve1", "service": "ghost", "confirmed": true,
	}, safety.CallContext{Caller: "test"})
	if !res.IsError {
		t.Fatal("expected non-zero systemctl exit to be an error result")
	}
	if !strings.Contains(res.Content, "unit not found") {
		t.Errorf("content = %q, want stderr included", res.Content)
	}
}

func TestRunCommandBlocksDangerous(t *testing.T) {
	d := newTestDispatcher(t)
	shell := &fakeShell{}
	RegisterSystemTools(d, shell)

	res := d.Execute(context.Background(), "run_command", map[string]any{
		"node": "pve1", "command": "rm -rf /var/lib/vz", "keyword": "execute order 66",
	}, safety.CallContext{Caller: "test"})
	if !res.IsError {
		t.Fatal("expected destructive command to be rejected")
	}
	if len(shell.commands) != 0 {
		t.Errorf("command ran anyway: %v", shell.commands)
	}
}

func TestRunCommandReturnsOutput(t *testing.T) {
	d := newTestDispatcher(t)
	shell := &fakeShell{result: sshx.Result{Stdout: "Filesystem use 42%", ExitCode: 0}}
	RegisterSystemTools(d, shell)

	res := d.Execute(context.Background(), "run_command", map[string]any{
		"node": "pve1", "command": "df -h", "keyword": "execute order 66",
	}, safety.CallContext{Caller: "test"})
	if res.Blocked || res.IsError {
		t.Fatalf("run_command failed: %+v", res)
	}
	var out struct {
		Stdout   string `json:"stdout"`
		ExitCode int    `json:"exitCode"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Stdout != "Filesystem use 42%" {
		t.Errorf("stdout = %q", out.Stdout)
	}
}
