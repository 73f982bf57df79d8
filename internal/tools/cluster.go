package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/proxmox"
)

// Hypervisor is the slice of the Proxmox client the tool handlers use.
// Narrowing the dependency keeps handler tests free of HTTP plumbing.
type Hypervisor interface {
	Nodes(ctx context.Context) ([]proxmox.Resource, error)
	Guests(ctx context.Context) ([]proxmox.Resource, error)
	Storage(ctx context.Context) ([]proxmox.Resource, error)
	ClusterStatus(ctx context.Context) ([]proxmox.ClusterNode, error)
	Tasks(ctx context.Context, node string) ([]proxmox.Task, error)
	Lifecycle(ctx context.Context, node string, kind proxmox.GuestKind, vmid int, action proxmox.LifecycleAction) (string, error)
}

// RegisterClusterTools registers the read-only cluster query tools.
func RegisterClusterTools(d *Dispatcher, pve Hypervisor) {
	d.Register(Tool{
		Name:        "get_cluster_status",
		Description: "Get the status of every cluster node including quorum information.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			status, err := pve.ClusterStatus(ctx)
			if err != nil {
				return "", err
			}
			nodes, err := pve.Nodes(ctx)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{"cluster": status, "nodes": nodes})
		},
	})

	d.Register(Tool{
		Name:        "list_vms",
		Description: "List all virtual machines and containers with their status and resource usage.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"node":{"type":"string","description":"Optional node name to filter by."}}}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			guests, err := pve.Guests(ctx)
			if err != nil {
				return "", err
			}
			if node := argOptString(args, "node"); node != "" {
				filtered := guests[:0]
				for _, g := range guests {
					if g.Node == node {
						filtered = append(filtered, g)
					}
				}
				guests = filtered
			}
			return marshalResult(guests)
		},
	})

	d.Register(Tool{
		Name:        "get_storage_status",
		Description: "Get usage of every storage pool in the cluster.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			storage, err := pve.Storage(ctx)
			if err != nil {
				return "", err
			}
			return marshalResult(storage)
		},
	})

	d.Register(Tool{
		Name:        "list_tasks",
		Description: "List recent hypervisor tasks on a node.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"node":{"type":"string"}},"required":["node"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			raw, err := argString(args, "node")
			if err != nil {
				return "", err
			}
			node, err := d.kernel.SanitizeNodeName(raw)
			if err != nil {
				return "", err
			}
			tasks, err := pve.Tasks(ctx, node)
			if err != nil {
				return "", err
			}
			return marshalResult(tasks)
		},
	})
}

// findGuest locates a guest by VMID across the cluster.
func findGuest(ctx context.Context, pve Hypervisor, vmid int) (proxmox.Resource, error) {
	guests, err := pve.Guests(ctx)
	if err != nil {
		return proxmox.Resource{}, err
	}
	for _, g := range guests {
		if g.VMID == vmid {
			return g, nil
		}
	}
	return proxmox.Resource{}, fmt.Errorf("no VM or container with id %d", vmid)
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
