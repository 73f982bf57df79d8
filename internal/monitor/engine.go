package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hearthward/jarvisd/internal/events"
	"github.com/hearthward/jarvisd/internal/observe"
	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/internal/state"
	"github.com/hearthward/jarvisd/internal/store"
	"github.com/hearthward/jarvisd/internal/tools"
)

// defaultAutonomyLevel applies when the preference is unset. RECOMMEND:
// detections are surfaced but nothing acts without the operator raising the
// level.
const defaultAutonomyLevel = LevelRecommend

// ToolExecutor dispatches a tool call. Satisfied by [tools.Dispatcher].
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any, call safety.CallContext) tools.Result
}

// Preferences reads the runtime autonomy knobs. Satisfied by [store.Store].
// Values are read on use so operator changes apply without a restart.
type Preferences interface {
	GetBoolPreference(ctx context.Context, key string, fallback bool) (bool, error)
	GetIntPreference(ctx context.Context, key string, fallback int) (int, error)
}

// Audit persists autonomy audit rows and cluster events. Satisfied by
// [store.Store].
type Audit interface {
	AppendAutonomyAction(ctx context.Context, a store.AutonomyAction) error
	RecordEvent(ctx context.Context, ev events.Event) error
}

// Notifier sends operator emails. Satisfied by [mailer.Mailer]. A nil
// Notifier disables email without disabling remediation. sent reports
// whether the message was actually delivered rather than gated or failed.
type Notifier interface {
	Send(ctx context.Context, subject, htmlBody string) (sent bool, err error)
	SendEscalation(ctx context.Context, subject, htmlBody string) (sent bool, err error)
}

// Engine executes runbooks against incidents under the four guardrails:
// kill switch, rate limit, blast radius, autonomy level. Every decision it
// takes leaves an audit row.
type Engine struct {
	runbooks []Runbook
	executor ToolExecutor
	prefs    Preferences
	audit    Audit
	notify   Notifier
	cluster  Cluster
	bus      *events.Bus
	metrics  *observe.Metrics

	limiter *rateLimiter
	lock    *remediationLock

	// sleep is swapped out by tests to skip the verification delay.
	sleep func(ctx context.Context, d time.Duration)
}

// NewEngine assembles a runbook engine over the default runbook table.
func NewEngine(executor ToolExecutor, prefs Preferences, audit Audit, notify Notifier, cluster Cluster, bus *events.Bus, metrics *observe.Metrics) *Engine {
	return &Engine{
		runbooks: defaultRunbooks,
		executor: executor,
		prefs:    prefs,
		audit:    audit,
		notify:   notify,
		cluster:  cluster,
		bus:      bus,
		metrics:  metrics,
		limiter:  newRateLimiter(rateWindow),
		lock:     newRemediationLock(lockStaleAfter),
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// ActiveRemediation reports the incident currently holding the blast-radius
// lock, for the monitor status endpoint.
func (e *Engine) ActiveRemediation() (string, bool) {
	return e.lock.Active()
}

// HandleIncident runs the full remediation pipeline for one incident. It is
// called fire-and-forget from the critical tier and never panics outward.
func (e *Engine) HandleIncident(ctx context.Context, inc state.Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("runbook engine panicked", "incident", inc.Key(), "panic", r)
		}
	}()

	rb, ok := matchRunbook(e.runbooks, inc.Condition)
	if !ok {
		return
	}
	key := inc.Key()

	// Guardrail 1: kill switch. A read failure denies; the safe side is
	// the non-acting one.
	killed, err := e.prefs.GetBoolPreference(ctx, store.PrefKillSwitch, false)
	if err != nil || killed {
		reason := "kill switch engaged"
		if err != nil {
			reason = fmt.Sprintf("kill switch unreadable: %v", err)
		}
		e.deny(ctx, inc, rb, "kill_switch", reason, 0)
		return
	}

	// Guardrail 2: rate limit. The attempt past the limit escalates.
	if attempts := e.limiter.Count(key); attempts >= rateLimit {
		e.escalate(ctx, inc, rb, attempts+1)
		return
	}

	// Guardrail 3: blast radius. One remediation cluster-wide.
	if !e.lock.TryAcquire(key) {
		holder, _ := e.lock.Active()
		e.deny(ctx, inc, rb, "blast_radius", fmt.Sprintf("remediation already in flight for %s", holder), 0)
		return
	}
	defer e.lock.Release()

	// Guardrail 4: autonomy level.
	level, err := e.prefs.GetIntPreference(ctx, store.PrefAutonomyLevel, defaultAutonomyLevel)
	if err != nil {
		e.deny(ctx, inc, rb, "autonomy_level", fmt.Sprintf("autonomy level unreadable: %v", err), 0)
		return
	}
	if rb.RequiredLevel > level {
		e.deny(ctx, inc, rb, "autonomy_level",
			fmt.Sprintf("runbook requires autonomy level %d, current level is %d", rb.RequiredLevel, level), level)
		return
	}

	attempt := e.limiter.Record(key)
	e.publish(ctx, events.New("remediation", events.SeverityInfo, events.SourceMonitor,
		fmt.Sprintf("Remediation starting: %s", inc.Condition),
		fmt.Sprintf("Attempt %d: running %s via %s for %s", attempt, rb.ID, rb.Tool, inc.Detail)), inc.Node)

	// Re-check the kill switch immediately before executing, to catch an
	// operator flipping it between detection and execution.
	killed, err = e.prefs.GetBoolPreference(ctx, store.PrefKillSwitch, false)
	if err != nil || killed {
		reason := "kill switch engaged before execution"
		if err != nil {
			reason = fmt.Sprintf("kill switch unreadable before execution: %v", err)
		}
		e.deny(ctx, inc, rb, "kill_switch", reason, level)
		return
	}

	args := rb.Args(inc)
	res := e.executor.Execute(ctx, rb.Tool, args, safety.CallContext{Caller: "monitor"})

	e.sleep(ctx, rb.VerifyDelay)
	verified := rb.Verify(ctx, e.cluster, inc)
	success := !res.IsError && !res.Blocked && verified

	argsJSON, _ := json.Marshal(args)
	outcome := store.OutcomeFailure
	if success {
		outcome = store.OutcomeSuccess
	}

	// Notify first so the audit row records whether mail actually went out,
	// not merely whether a mailer is configured.
	var emailSent bool
	escalated := !success && attempt >= rateLimit
	switch {
	case success:
		e.publish(ctx, events.New("status", events.SeverityInfo, events.SourceMonitor,
			fmt.Sprintf("Resolved: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("Runbook %s recovered %s on attempt %d", rb.ID, inc.Detail, attempt)), inc.Node)
		emailSent = e.email(ctx, false,
			fmt.Sprintf("[jarvis] Resolved: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("<p>Runbook <b>%s</b> recovered the incident.</p><p>%s</p><p>Attempt %d, verified.</p>",
				rb.ID, inc.Detail, attempt))

	case escalated:
		e.publish(ctx, events.New("alert", events.SeverityError, events.SourceMonitor,
			fmt.Sprintf("Remediation failed: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("Runbook %s did not recover %s (attempt %d, tool error=%v, verified=%v)",
				rb.ID, inc.Detail, attempt, res.IsError || res.Blocked, verified)), inc.Node)
		emailSent = e.email(ctx, true,
			fmt.Sprintf("[jarvis] ESCALATION: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("<p>Runbook <b>%s</b> has failed %d times within the hour. Autonomous retries are exhausted; manual intervention required.</p><p>%s</p>",
				rb.ID, attempt, inc.Detail))

	default:
		e.publish(ctx, events.New("alert", events.SeverityError, events.SourceMonitor,
			fmt.Sprintf("Remediation failed: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("Runbook %s did not recover %s (attempt %d, tool error=%v, verified=%v)",
				rb.ID, inc.Detail, attempt, res.IsError || res.Blocked, verified)), inc.Node)
		emailSent = e.email(ctx, false,
			fmt.Sprintf("[jarvis] Remediation failed: %s on %s", inc.Condition, inc.Target),
			fmt.Sprintf("<p>Runbook <b>%s</b> failed on attempt %d.</p><p>%s</p><p>Tool error: %v. Verified: %v.</p>",
				rb.ID, attempt, inc.Detail, res.IsError || res.Blocked, verified))
	}

	if err := e.audit.AppendAutonomyAction(ctx, store.AutonomyAction{
		IncidentKey:   key,
		IncidentID:    inc.Detail,
		RunbookID:     rb.ID,
		Action:        rb.Tool,
		Args:          string(argsJSON),
		Outcome:       outcome,
		Verified:      verified,
		AutonomyLevel: level,
		Attempt:       attempt,
		EmailSent:     emailSent,
	}); err != nil {
		slog.Error("autonomy audit write failed", "incident", key, "error", err)
	}
	e.metrics.RecordRemediation(ctx, string(outcome))

	if escalated {
		e.recordEscalation(ctx, inc, rb, attempt, emailSent)
	}
}

// deny records a guardrail denial: one audit row, one event, one metric.
func (e *Engine) deny(ctx context.Context, inc state.Change, rb Runbook, guardrail, reason string, level int) {
	slog.Warn("remediation denied", "incident", inc.Key(), "guardrail", guardrail, "reason", reason)
	e.metrics.RecordGuardrailDenial(ctx, guardrail)

	if err := e.audit.AppendAutonomyAction(ctx, store.AutonomyAction{
		IncidentKey:   inc.Key(),
		IncidentID:    inc.Detail,
		RunbookID:     rb.ID,
		Action:        rb.Tool,
		Outcome:       store.OutcomeBlocked,
		AutonomyLevel: level,
		Attempt:       e.limiter.Count(inc.Key()),
	}); err != nil {
		slog.Error("autonomy audit write failed", "incident", inc.Key(), "error", err)
	}

	e.publish(ctx, events.New("alert", events.SeverityWarning, events.SourceMonitor,
		fmt.Sprintf("Remediation blocked: %s on %s", inc.Condition, inc.Target),
		fmt.Sprintf("Detected %s but the %s guardrail denied action: %s", inc.Detail, guardrail, reason)), inc.Node)
}

// escalate handles the rate-limit denial path: an escalated audit row and
// exactly one escalation email that bypasses the mail gate.
func (e *Engine) escalate(ctx context.Context, inc state.Change, rb Runbook, attempt int) {
	slog.Warn("remediation rate-limited, escalating", "incident", inc.Key(), "attempt", attempt)
	e.metrics.RecordGuardrailDenial(ctx, "rate_limit")

	e.publish(ctx, events.New("alert", events.SeverityError, events.SourceMonitor,
		fmt.Sprintf("Escalated: %s on %s", inc.Condition, inc.Target),
		fmt.Sprintf("Attempt %d within one hour; autonomous remediation suspended for this incident", attempt)), inc.Node)
	sent := e.email(ctx, true,
		fmt.Sprintf("[jarvis] ESCALATION: %s on %s", inc.Condition, inc.Target),
		fmt.Sprintf("<p>The incident <b>%s</b> has hit the remediation rate limit (attempt %d within one hour).</p><p>%s</p><p>No further autonomous action will be taken; manual intervention required.</p>",
			inc.Key(), attempt, inc.Detail))
	e.recordEscalation(ctx, inc, rb, attempt, sent)
}

func (e *Engine) recordEscalation(ctx context.Context, inc state.Change, rb Runbook, attempt int, emailSent bool) {
	if err := e.audit.AppendAutonomyAction(ctx, store.AutonomyAction{
		IncidentKey: inc.Key(),
		IncidentID:  inc.Detail,
		RunbookID:   rb.ID,
		Action:      rb.Tool,
		Outcome:     store.OutcomeEscalated,
		Attempt:     attempt,
		Escalated:   true,
		EmailSent:   emailSent,
	}); err != nil {
		slog.Error("escalation audit write failed", "incident", inc.Key(), "error", err)
	}
}

// publish records an event and broadcasts it. Both paths are best-effort.
func (e *Engine) publish(ctx context.Context, ev events.Event, node string) {
	ev.Node = node
	if err := e.audit.RecordEvent(ctx, ev); err != nil {
		slog.Error("event write failed", "event_type", ev.Type, "error", err)
	}
	e.bus.Publish(ev)
}

// email delivers a notification, swallowing failures; mail must never fail a
// remediation. The return reports actual delivery: false covers a nil
// notifier, a rate-gated drop, and a failed send alike.
func (e *Engine) email(ctx context.Context, escalation bool, subject, body string) bool {
	if e.notify == nil {
		return false
	}
	var (
		sent bool
		err  error
	)
	if escalation {
		sent, err = e.notify.SendEscalation(ctx, subject, body)
	} else {
		sent, err = e.notify.Send(ctx, subject, body)
	}
	if err != nil {
		slog.Error("notification email failed", "subject", subject, "error", err)
		return false
	}
	return sent
}
