// Package homeassistant provides a small Home Assistant REST client covering
// entity states and service calls (climate, lock, and friends).
//
// Authentication is a long-lived access token sent as a bearer header. The
// client is safe for concurrent use.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// State is one entity state record from GET /api/states.
type State struct {
	EntityID    string          `json:"entity_id"`
	State       string          `json:"state"`
	Attributes  json.RawMessage `json:"attributes"`
	LastChanged time.Time       `json:"last_changed"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithTimeout sets the per-request deadline. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a Home Assistant REST client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the Home Assistant API at baseURL
// (e.g. "http://homeassistant.lan:8123") using a long-lived access token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("homeassistant: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// GetState returns the state of a single entity.
func (c *Client) GetState(ctx context.Context, entityID string) (State, error) {
	var s State
	endpoint := "/api/states/" + url.PathEscape(entityID)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// States returns every entity state.
func (c *Client) States(ctx context.Context) ([]State, error) {
	var out []State
	if err := c.doJSON(ctx, http.MethodGet, "/api/states", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallService invokes a service (e.g. domain "climate", service
// "set_temperature") with the given payload. The payload must include the
// target entity_id. Returns the states the call changed.
func (c *Client) CallService(ctx context.Context, domain, service string, payload map[string]any) ([]State, error) {
	endpoint := fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service))
	var out []State
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("homeassistant: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("homeassistant: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("homeassistant: %s %s returned status %d", method, endpoint, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("homeassistant: decode response: %w", err)
		}
	}
	return nil
}
