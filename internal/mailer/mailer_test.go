package mailer

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/hearthward/jarvisd/pkg/sshx"
)

type fakeShell struct {
	commands []string
	result   sshx.Result
	err      error
}

func (f *fakeShell) Run(ctx context.Context, host, command string) (sshx.Result, error) {
	f.commands = append(f.commands, command)
	return f.result, f.err
}

func newTestMailer(t *testing.T, shell *fakeShell) (*Mailer, *time.Time) {
	t.Helper()
	m, err := New(shell, "mailhost", "jarvis@lab", "ops@lab")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func TestSendComposesMessage(t *testing.T) {
	shell := &fakeShell{}
	m, _ := newTestMailer(t, shell)

	sent, err := m.Send(context.Background(), "VM recovered", "<p>all good</p>")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !sent {
		t.Error("Send reported sent=false for a delivered message")
	}
	if len(shell.commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(shell.commands))
	}
	cmd := shell.commands[0]
	if !strings.HasSuffix(cmd, "| base64 -d | sendmail -t") {
		t.Errorf("command = %q", cmd)
	}

	encoded := strings.TrimPrefix(strings.Fields(cmd)[1], "")
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	msg := string(raw)
	for _, want := range []string{"From: jarvis@lab", "To: ops@lab", "Subject: VM recovered", "Content-Type: text/html", "<p>all good</p>"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestSendRateGate(t *testing.T) {
	shell := &fakeShell{}
	m, clock := newTestMailer(t, shell)

	if sent, err := m.Send(context.Background(), "first", "a"); err != nil || !sent {
		t.Fatalf("Send: sent=%v err=%v", sent, err)
	}
	if sent, err := m.Send(context.Background(), "second", "b"); err != nil || sent {
		t.Fatalf("gated Send: sent=%v err=%v, want false nil", sent, err)
	}
	if len(shell.commands) != 1 {
		t.Fatalf("gated email was delivered: %d commands", len(shell.commands))
	}

	*clock = clock.Add(6 * time.Minute)
	if sent, err := m.Send(context.Background(), "third", "c"); err != nil || !sent {
		t.Fatalf("post-gate Send: sent=%v err=%v", sent, err)
	}
	if len(shell.commands) != 2 {
		t.Fatalf("post-gate email not delivered: %d commands", len(shell.commands))
	}
}

func TestEscalationBypassesGate(t *testing.T) {
	shell := &fakeShell{}
	m, _ := newTestMailer(t, shell)

	if _, err := m.Send(context.Background(), "routine", "a"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent, err := m.SendEscalation(context.Background(), "ESCALATION", "b"); err != nil || !sent {
		t.Fatalf("SendEscalation: sent=%v err=%v", sent, err)
	}
	if len(shell.commands) != 2 {
		t.Fatalf("escalation was gated: %d commands", len(shell.commands))
	}
}

func TestDeliverNonZeroExit(t *testing.T) {
	shell := &fakeShell{result: sshx.Result{ExitCode: 127, Stderr: "sendmail: not found"}}
	m, _ := newTestMailer(t, shell)

	sent, err := m.Send(context.Background(), "subject", "body")
	if err == nil || !strings.Contains(err.Error(), "exited 127") {
		t.Fatalf("err = %v", err)
	}
	if sent {
		t.Error("Send reported sent=true for a failed delivery")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, "h", "f", "t"); err == nil {
		t.Error("nil shell accepted")
	}
	if _, err := New(&fakeShell{}, "", "f", "t"); err == nil {
		t.Error("empty host accepted")
	}
}
