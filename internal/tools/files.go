package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hearthward/jarvisd/internal/safety"
)

// maxReadBytes caps read_file so the model cannot pull a disk image into
// its context.
const maxReadBytes = 256 << 10

// RegisterFileTools registers filesystem access on the plane host. Every
// path flows through the safety kernel's path sanitizer; reads additionally
// refuse known secret files.
func RegisterFileTools(d *Dispatcher) {
	d.Register(Tool{
		Name:        "read_file",
		Description: "Read a text file from the management host. Size capped at 256 KiB.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			path, err := argString(args, "path")
			if err != nil {
				return "", err
			}
			res := d.kernel.SanitizePath(path, "")
			if !res.Safe {
				return "", fmt.Errorf("path rejected: %s", res.Reason)
			}
			if check := d.kernel.IsSecretFile(res.ResolvedPath); check.Blocked {
				return "", fmt.Errorf("path rejected: %s", check.Reason)
			}

			f, err := os.Open(res.ResolvedPath)
			if err != nil {
				return "", err
			}
			defer f.Close()

			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return "", err
			}
			truncated := len(data) > maxReadBytes
			if truncated {
				data = data[:maxReadBytes]
			}
			return marshalResult(map[string]any{
				"path": res.ResolvedPath, "content": string(data), "truncated": truncated,
			})
		},
	})

	d.Register(Tool{
		Name:        "list_directory",
		Description: "List the entries of a directory on the management host.",
		Tier:        safety.TierGreen,
		Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			path, err := argString(args, "path")
			if err != nil {
				return "", err
			}
			res := d.kernel.SanitizePath(path, "")
			if !res.Safe {
				return "", fmt.Errorf("path rejected: %s", res.Reason)
			}

			entries, err := os.ReadDir(res.ResolvedPath)
			if err != nil {
				return "", err
			}
			type entry struct {
				Name  string `json:"name"`
				IsDir bool   `json:"isDir"`
				Size  int64  `json:"size"`
			}
			out := make([]entry, 0, len(entries))
			for _, e := range entries {
				info, err := e.Info()
				var size int64
				if err == nil {
					size = info.Size()
				}
				out = append(out, entry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
			}
			sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
			return marshalResult(out)
		},
	})

	d.Register(Tool{
		Name:        "delete_file",
		Description: "Delete a file on the management host. Requires the approval keyword.",
		Tier:        safety.TierOrange,
		Schema:      json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"keyword":{"type":"string"}},"required":["path","keyword"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			path, err := argString(args, "path")
			if err != nil {
				return "", err
			}
			res := d.kernel.SanitizePath(path, "")
			if !res.Safe {
				return "", fmt.Errorf("path rejected: %s", res.Reason)
			}
			if err := os.Remove(res.ResolvedPath); err != nil {
				return "", err
			}
			return marshalResult(map[string]any{"path": res.ResolvedPath, "deleted": true})
		},
	})
}
