package safety

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hearthward/jarvisd/internal/events"
)

// logAudit emits a structured safety audit event. Delivery is best-effort:
// marshalling or sink failures are logged and swallowed, never surfaced to
// the caller.
func (k *Kernel) logAudit(action, details string, structured any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("safety audit sink panicked", "action", action, "panic", r)
		}
	}()

	ev := events.New(
		"action",
		events.SeverityWarning,
		events.SourceSystem,
		"Safety audit",
		fmt.Sprintf("SAFETY: %s — %s", action, details),
	)
	if structured != nil {
		if b, err := json.Marshal(structured); err == nil {
			ev.Details = string(b)
		} else {
			slog.Warn("safety audit: marshal details failed", "action", action, "error", err)
		}
	}

	slog.Warn("safety audit", "action", action, "details", details)
	if k.audit != nil {
		k.audit.Record(ev)
	}
}
