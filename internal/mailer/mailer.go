// Package mailer sends operator notification emails through a delegate host
// reached over SSH. The plane itself carries no SMTP credentials; the
// delegate host has a configured sendmail and accepts the composed message on
// stdin via a base64 pipe.
//
// Outgoing mail is rate-limited to one message per gate interval. Escalation
// emails bypass the gate: an operator must always learn that the autonomy
// system has given up on an incident.
package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthward/jarvisd/pkg/sshx"
)

// defaultGateInterval is the minimum spacing between routine emails.
const defaultGateInterval = 5 * time.Minute

// RemoteShell runs a command on a remote host. Satisfied by [sshx.Pool].
type RemoteShell interface {
	Run(ctx context.Context, host, command string) (sshx.Result, error)
}

// Mailer composes and delivers notification emails.
type Mailer struct {
	shell RemoteShell
	host  string
	from  string
	to    string

	gateInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	lastSent time.Time
}

// Option configures a [Mailer].
type Option func(*Mailer)

// WithGateInterval overrides the routine-email rate gate.
func WithGateInterval(d time.Duration) Option {
	return func(m *Mailer) { m.gateInterval = d }
}

// New creates a [Mailer] delivering through the given delegate host.
func New(shell RemoteShell, host, from, to string, opts ...Option) (*Mailer, error) {
	if shell == nil {
		return nil, fmt.Errorf("mailer: shell is required")
	}
	if host == "" || from == "" || to == "" {
		return nil, fmt.Errorf("mailer: host, from, and to are required")
	}
	m := &Mailer{
		shell:        shell,
		host:         host,
		from:         from,
		to:           to,
		gateInterval: defaultGateInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Send delivers a routine email, subject to the rate gate. A gated message is
// dropped with a log line, sent=false, and a nil error; notification mail is
// best-effort and must never fail the caller. sent reports whether the
// message actually reached the delegate host.
func (m *Mailer) Send(ctx context.Context, subject, htmlBody string) (sent bool, err error) {
	if !m.gateAllows() {
		slog.Info("mailer: rate gate open, dropping email", "subject", subject)
		return false, nil
	}
	if err := m.deliver(ctx, subject, htmlBody); err != nil {
		return false, err
	}
	return true, nil
}

// SendEscalation delivers an escalation email, bypassing the rate gate.
func (m *Mailer) SendEscalation(ctx context.Context, subject, htmlBody string) (sent bool, err error) {
	m.markSent()
	if err := m.deliver(ctx, subject, htmlBody); err != nil {
		return false, err
	}
	return true, nil
}

// gateAllows checks the rate gate and, when open, claims the slot. The single
// timestamp is deliberately coarse; two near-simultaneous emails slipping
// through is an acceptable bound.
func (m *Mailer) gateAllows() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.Sub(m.lastSent) < m.gateInterval {
		return false
	}
	m.lastSent = now
	return true
}

func (m *Mailer) markSent() {
	m.mu.Lock()
	m.lastSent = m.now()
	m.mu.Unlock()
}

// deliver composes an RFC 2822 message and pipes it to sendmail on the
// delegate host. The message travels base64-encoded so no part of it needs
// shell quoting.
func (m *Mailer) deliver(ctx context.Context, subject, htmlBody string) error {
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n",
		m.from, m.to, subject, htmlBody)
	encoded := base64.StdEncoding.EncodeToString([]byte(msg))

	cmd := fmt.Sprintf("echo %s | base64 -d | sendmail -t", encoded)
	res, err := m.shell.Run(ctx, m.host, cmd)
	if err != nil {
		return fmt.Errorf("mailer: deliver via %s: %w", m.host, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("mailer: sendmail on %s exited %d: %s", m.host, res.ExitCode, res.Stderr)
	}
	slog.Info("mailer: email sent", "subject", subject, "to", m.to)
	return nil
}
