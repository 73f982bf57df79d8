package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hearthward/jarvisd/internal/safety"
)

const (
	// maxDownloadBytes caps a single download.
	maxDownloadBytes = 1 << 30

	downloadTimeout = 5 * time.Minute
)

// downloadClient is shared so downloads reuse one keep-alive pool.
var downloadClient = &http.Client{Timeout: downloadTimeout}

// RegisterTransferTools registers the file download tool. The URL passes
// through the kernel's SSRF validation; the destination through the path
// sanitizer. A transient fetch failure is retried once.
func RegisterTransferTools(d *Dispatcher) {
	d.Register(Tool{
		Name:        "download_file",
		Description: "Download a file from a public URL to a path on the management host.",
		Tier:        safety.TierYellow,
		Schema:      json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"},"dest":{"type":"string"}},"required":["url","dest"]}`),
		Handler: func(ctx context.Context, args map[string]any, call safety.CallContext) (string, error) {
			rawURL, err := argString(args, "url")
			if err != nil {
				return "", err
			}
			dest, err := argString(args, "dest")
			if err != nil {
				return "", err
			}

			urlCheck := d.kernel.ValidateURL(ctx, rawURL)
			if !urlCheck.Safe {
				return "", fmt.Errorf("url rejected: %s", urlCheck.Reason)
			}
			pathCheck := d.kernel.SanitizePath(dest, "")
			if !pathCheck.Safe {
				return "", fmt.Errorf("destination rejected: %s", pathCheck.Reason)
			}

			written, err := fetchToFile(ctx, urlCheck.URL.String(), pathCheck.ResolvedPath)
			if err != nil {
				// One retry for transient network failures.
				written, err = fetchToFile(ctx, urlCheck.URL.String(), pathCheck.ResolvedPath)
			}
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{
				"url": urlCheck.URL.String(), "dest": pathCheck.ResolvedPath, "bytes": written,
			})
		},
	})
}

func fetchToFile(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	written, err := io.Copy(f, io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	return written, nil
}
