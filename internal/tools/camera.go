package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/hearthward/jarvisd/internal/safety"
	"github.com/hearthward/jarvisd/pkg/frigate"
)

// NVR is the slice of the Frigate client the camera tools use.
type NVR interface {
	Snapshot(ctx context.Context, camera string) ([]byte, string, error)
	Events(ctx context.Context, camera string, limit int) ([]frigate.Event, error)
}

// RegisterCameraTools registers read-only NVR access.
func RegisterCameraTools(d *Dispatcher, nvr NVR) {
	d.Register(Tool{
		Name:        "camera_snapshot",
		Description: "Get the latest snapshot from a camera as base64 JPEG.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"camera":{"type":"string"}},"required":["camera"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			camera, err := argString(args, "camera")
			if err != nil {
				return "", err
			}
			img, contentType, err := nvr.Snapshot(ctx, camera)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{
				"camera":      camera,
				"contentType": contentType,
				"image":       base64.StdEncoding.EncodeToString(img),
			})
		},
	})

	d.Register(Tool{
		Name:        "camera_events",
		Description: "List recent detection events from the NVR, optionally filtered by camera.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"camera":{"type":"string"},"limit":{"type":"integer"}}}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			events, err := nvr.Events(ctx, argOptString(args, "camera"), argOptInt(args, "limit", 10))
			if err != nil {
				return "", err
			}
			return marshalResult(events)
		},
	})
}
