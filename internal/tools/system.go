package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/sshx"
)

// RemoteShell is the slice of the SSH pool the system tools use.
type RemoteShell interface {
	Run(ctx context.Context, host, command string) (sshx.Result, error)
}

// serviceNamePattern constrains systemd unit names passed to restart_service
// so the name cannot smuggle shell metacharacters into the command line.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9@._-]{1,128}$`)

const remoteCommandTimeout = 30 * time.Second

// RegisterSystemTools registers service control and arbitrary command
// execution over SSH.
func RegisterSystemTools(d *Dispatcher, shell RemoteShell) {
	d.Register(Tool{
		Name:        "restart_service",
		Description: "Restart a systemd service on a node. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"node":{"type":"string"},"service":{"type":"string"},"confirmed":{"type":"boolean"}},"required":["node","service","confirmed"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			rawNode, err := argString(args, "node")
			if err != nil {
				return "", err
			}
			node, err := d.kernel.SanitizeNodeName(rawNode)
			if err != nil {
				return "", err
			}
			service, err := argString(args, "service")
			if err != nil {
				return "", err
			}
			if !serviceNamePattern.MatchString(service) {
				return "", fmt.Errorf("invalid service name %q", service)
			}

			runCtx, cancel := context.WithTimeout(ctx, remoteCommandTimeout)
			defer cancel()
			res, err := shell.Run(runCtx, node, "systemctl restart "+service)
			if err != nil {
				return "", err
			}
			if res.ExitCode != 0 {
				return "", fmt.Errorf("systemctl restart %s exited %d: %s", service, res.ExitCode, res.Stderr)
			}
			return marshalResult(map[string]any{"node": node, "service": service, "restarted": true})
		},
	})

	d.Register(Tool{
		Name:        "run_command",
		Description: "Run a shell command on a node. Only read and monitoring utilities are allowed. Requires the approval keyword.",
		Tier:        safety.TierOrange,
		Schema:      json.RawMessage(`{"type":"object","properties":{"node":{"type":"string"},"command":{"type":"string"},"keyword":{"type":"string"}},"required":["node","command","keyword"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			rawNode, err := argString(args, "node")
			if err != nil {
				return "", err
			}
			node, err := d.kernel.SanitizeNodeName(rawNode)
			if err != nil {
				return "", err
			}
			command, err := argString(args, "command")
			if err != nil {
				return "", err
			}
			if check := d.kernel.SanitizeCommand(command, call.Override); !check.Safe {
				return "", fmt.Errorf("command rejected: %s", check.Reason)
			}

			runCtx, cancel := context.WithTimeout(ctx, remoteCommandTimeout)
			defer cancel()
			res, err := shell.Run(runCtx, node, command)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{
				"node": node, "stdout": res.Stdout, "stderr": res.Stderr, "exitCode": res.ExitCode,
			})
		},
	})
}
