package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// CommandResult is the outcome of [Kernel.SanitizeCommand].
type CommandResult struct {
	Safe   bool
	Reason string
}

// blockedCommandPatterns are destructive substrings that are rejected
// case-insensitively, even under an active override. The list targets the
// classic foot-guns: wiping the root filesystem, reformatting, partition
// edits, mass permission changes, pipe-to-shell installers, fork bombs, and
// node-level power-off.
var blockedCommandPatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"rm -rf /*",
	"mkfs",
	"fdisk",
	"parted",
	"sgdisk",
	"wipefs",
	"dd if=",
	"chmod -r 777 /",
	"chmod 777 /",
	"chown -r",
	"curl | sh",
	"curl|sh",
	"| sh",
	"| bash",
	"wget | sh",
	":(){",
	"shutdown",
	"poweroff",
	"halt",
	"init 0",
	"init 6",
	"> /dev/sd",
	"systemctl stop pve",
}

// allowedCommandPrefixes is the closed list of utilities a non-override
// command (or each segment of a pipeline) may start with: read-only
// inspection, monitoring, and the Proxmox / Docker / systemd status surface.
var allowedCommandPrefixes = []string{
	"ls", "cat", "head", "tail", "grep", "find", "wc", "stat", "file",
	"df", "du", "free", "uptime", "date", "uname", "whoami", "hostname",
	"ps", "top -b", "vmstat", "iostat", "sensors", "smartctl",
	"ip ", "ss ", "ping ",
	"journalctl", "systemctl status", "systemctl list-units", "systemctl is-active",
	"qm list", "qm status", "qm config", "pct list", "pct status", "pct config",
	"pvesh get", "pvecm status", "pvesm status",
	"docker ps", "docker logs", "docker inspect", "docker stats", "docker images",
	"zpool status", "zpool list", "zfs list",
	"echo",
}

// SanitizeCommand screens a free-form shell command. Destructive patterns
// are blocked unconditionally. Without an override, the command (and every
// pipeline segment after a '|') must begin with an allow-listed utility.
// Backticks are always forbidden; $() substitution is permitted.
func (k *Kernel) SanitizeCommand(cmd string, override bool) CommandResult {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return CommandResult{Safe: false, Reason: "empty command"}
	}

	lower := strings.ToLower(trimmed)
	for _, pat := range blockedCommandPatterns {
		if strings.Contains(lower, pat) {
			return k.blockCommand(cmd, fmt.Sprintf("command contains blocked pattern %q", pat))
		}
	}

	if strings.Contains(trimmed, "`") {
		return k.blockCommand(cmd, "backtick substitution is not permitted")
	}

	if override {
		return CommandResult{Safe: true}
	}

	for _, segment := range strings.Split(trimmed, "|") {
		seg := strings.TrimSpace(segment)
		if seg == "" {
			return k.blockCommand(cmd, "empty pipeline segment")
		}
		if !hasAllowedPrefix(seg) {
			return k.blockCommand(cmd, fmt.Sprintf("%q is not an allow-listed command", firstWord(seg)))
		}
	}
	return CommandResult{Safe: true}
}

// hasAllowedPrefix reports whether seg begins with an allow-listed utility.
// Single-word prefixes must match the whole first word; multi-word prefixes
// (e.g. "systemctl status") must match literally.
func hasAllowedPrefix(seg string) bool {
	for _, prefix := range allowedCommandPrefixes {
		if strings.HasSuffix(prefix, " ") || strings.Contains(prefix, " ") {
			if strings.HasPrefix(seg, prefix) {
				return true
			}
			continue
		}
		if seg == prefix || strings.HasPrefix(seg, prefix+" ") {
			return true
		}
	}
	return false
}

// firstWord returns the first whitespace-delimited token of s.
func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

// blockCommand audit-logs a denial and returns the unsafe result.
func (k *Kernel) blockCommand(cmd, reason string) CommandResult {
	k.logAudit("command-block", reason, map[string]string{
		"command": cmd,
		"reason":  reason,
	})
	return CommandResult{Safe: false, Reason: reason}
}

// nodeNamePattern matches valid cluster node names: alphanumeric start, then
// alphanumerics, dots, and hyphens, at most 63 characters total.
var nodeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9.-]{0,62}$`)

// SanitizeNodeName validates a node name and returns it trimmed. It returns
// an error for anything that could smuggle shell metacharacters or path
// separators into a URL or command.
func (k *Kernel) SanitizeNodeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if !nodeNamePattern.MatchString(trimmed) {
		return "", fmt.Errorf("safety: invalid node name %q", name)
	}
	return trimmed, nil
}
