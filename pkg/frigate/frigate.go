// Package frigate provides a Frigate NVR REST client: camera snapshots,
// detection events, event thumbnails, and the face library.
//
// The client is safe for concurrent use.
package frigate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second

	// maxImageBytes caps snapshot and thumbnail downloads so a misbehaving
	// NVR cannot exhaust memory.
	maxImageBytes = 16 << 20
)

// Event is one detection event record from GET /api/events.
type Event struct {
	ID        string  `json:"id"`
	Camera    string  `json:"camera"`
	Label     string  `json:"label"`
	SubLabel  string  `json:"sub_label"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Score     float64 `json:"score"`
	Zones     []any   `json:"zones"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-request deadline. Defaults to 15 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client is a Frigate NVR API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the Frigate API at baseURL
// (e.g. "http://frigate.lan:5000").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("frigate: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Snapshot returns the latest JPEG frame from a camera along with its
// content type.
func (c *Client) Snapshot(ctx context.Context, camera string) ([]byte, string, error) {
	endpoint := fmt.Sprintf("/api/%s/latest.jpg", url.PathEscape(camera))
	return c.getBlob(ctx, endpoint)
}

// Events returns recent detection events, optionally filtered by camera and
// capped at limit.
func (c *Client) Events(ctx context.Context, camera string, limit int) ([]Event, error) {
	params := url.Values{}
	if camera != "" {
		params.Set("camera", camera)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "/api/events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("frigate: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frigate: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frigate: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	var out []Event
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("frigate: decode events: %w", err)
	}
	return out, nil
}

// Thumbnail returns the JPEG thumbnail for a detection event.
func (c *Client) Thumbnail(ctx context.Context, eventID string) ([]byte, string, error) {
	endpoint := fmt.Sprintf("/api/events/%s/thumbnail.jpg", url.PathEscape(eventID))
	return c.getBlob(ctx, endpoint)
}

// Faces returns the recognised face library as a map of name to image IDs.
func (c *Client) Faces(ctx context.Context) (map[string][]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/faces", nil)
	if err != nil {
		return nil, fmt.Errorf("frigate: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frigate: GET /api/faces: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frigate: GET /api/faces returned status %d", resp.StatusCode)
	}
	var out map[string][]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("frigate: decode faces: %w", err)
	}
	return out, nil
}

func (c *Client) getBlob(ctx context.Context, endpoint string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("frigate: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("frigate: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("frigate: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("frigate: read image: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/jpeg"
	}
	return data, ct, nil
}
