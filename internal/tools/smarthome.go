package tools

import (
	"context"
	"encoding/json"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/homeassistant"
)

// SmartHome is the slice of the Home Assistant client the tool handlers use.
type SmartHome interface {
	GetState(ctx context.Context, entityID string) (homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, payload map[string]any) ([]homeassistant.State, error)
}

// RegisterSmartHomeTools registers climate and lock control.
func RegisterSmartHomeTools(d *Dispatcher, ha SmartHome) {
	d.Register(Tool{
		Name:        "get_entity_state",
		Description: "Get the current state of a smart home entity.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			entityID, err := argString(args, "entity_id")
			if err != nil {
				return "", err
			}
			state, err := ha.GetState(ctx, entityID)
			if err != nil {
				return "", err
			}
			return marshalResult(state)
		},
	})

	d.Register(Tool{
		Name:        "set_climate",
		Description: "Set the target temperature of a climate entity.",
		Tier:        safety.TierYellow,
		Schema:      json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"},"temperature":{"type":"number"}},"required":["entity_id","temperature"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			entityID, err := argString(args, "entity_id")
			if err != nil {
				return "", err
			}
			temp, err := argFloat(args, "temperature")
			if err != nil {
				return "", err
			}
			changed, err := ha.CallService(ctx, "climate", "set_temperature", map[string]any{
				"entity_id": entityID, "temperature": temp,
			})
			if err != nil {
				return "", err
			}
			return marshalResult(changed)
		},
	})

	lockAction := func(service string) Handler {
		return func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			entityID, err := argString(args, "entity_id")
			if err != nil {
				return "", err
			}
			changed, err := ha.CallService(ctx, "lock", service, map[string]any{"entity_id": entityID})
			if err != nil {
				return "", err
			}
			return marshalResult(changed)
		}
	}

	d.Register(Tool{
		Name:        "lock_door",
		Description: "Lock a door lock entity. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"},"confirmed":{"type":"boolean"}},"required":["entity_id","confirmed"]}`),
		Handler:     lockAction("lock"),
	})

	d.Register(Tool{
		Name:        "unlock_door",
		Description: "Unlock a door lock entity. Requires confirmed=true.",
		Tier:        safety.TierRed,
		Schema:      json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"},"confirmed":{"type":"boolean"}},"required":["entity_id","confirmed"]}`),
		Handler:     lockAction("unlock"),
	})
}
