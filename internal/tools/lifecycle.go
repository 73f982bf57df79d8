package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/proxmox"
)

// guestKind maps a cluster resource type to its lifecycle endpoint family.
func guestKind(r proxmox.Resource) proxmox.GuestKind {
	if r.Type == "lxc" {
		return proxmox.GuestLXC
	}
	return proxmox.GuestQEMU
}

// RegisterLifecycleTools registers the guest power actions. Starting a guest
// is a non-destructive write (YELLOW); everything that takes a workload down
// requires explicit confirmation (RED).
func RegisterLifecycleTools(d *Dispatcher, pve Hypervisor) {
	lifecycle := func(action proxmox.LifecycleAction) Handler {
		return func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			vmid, err := argInt(args, "vmid")
			if err != nil {
				return "", err
			}
			guest, err := findGuest(ctx, pve, vmid)
			if err != nil {
				return "", err
			}
			upid, err := pve.Lifecycle(ctx, guest.Node, guestKind(guest), vmid, action)
			if err != nil {
				return "", fmt.Errorf("%s %s %d: %w", action, guest.Type, vmid, err)
			}
			return marshalResult(map[string]any{
				"vmid": vmid, "name": guest.Name, "node": guest.Node,
				"action": string(action), "task": upid,
			})
		}
	}

	d.Register(Tool{
		Name:        "start_vm",
		Description: "Start a stopped virtual machine or container by VMID.",
		Tier:        safety.TierYellow,
		Schema:      json.RawMessage(`{"type":"object","properties":{"vmid":{"type":"integer"}},"required":["vmid"]}`),
		Handler:     lifecycle(proxmox.ActionStart),
	})

	d.Register(Tool{
		Name:        "stop_vm",
		Description: "Forcefully stop a running virtual machine or container by VMID. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"vmid":{"type":"integer"},"confirmed":{"type":"boolean"}},"required":["vmid","confirmed"]}`),
		Handler:     lifecycle(proxmox.ActionStop),
	})

	d.Register(Tool{
		Name:        "reboot_vm",
		Description: "Reboot a running virtual machine or container by VMID. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"vmid":{"type":"integer"},"confirmed":{"type":"boolean"}},"required":["vmid","confirmed"]}`),
		Handler:     lifecycle(proxmox.ActionReboot),
	})

	d.Register(Tool{
		Name:        "shutdown_vm",
		Description: "Gracefully shut down a running virtual machine or container by VMID. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"vmid":{"type":"integer"},"confirmed":{"type":"boolean"}},"required":["vmid","confirmed"]}`),
		Handler:     lifecycle(proxmox.ActionShutdown),
	})
}
