// Package proxmox provides a minimal Proxmox VE REST client covering the
// surface the control plane needs: cluster resources, cluster status, guest
// lifecycle actions, and the recent task list.
//
// Authentication uses a long-lived API token sent on every request as
// "Authorization: PVEAPIToken=<tokenID>=<secret>". All calls carry a bounded
// deadline and reuse a single keep-alive HTTP pool.
//
// Typical usage:
//
//	c, err := proxmox.New("https://pve.lan:8006",
//	    proxmox.WithToken("jarvis@pam!plane", "..."),
//	    proxmox.WithTimeout(10*time.Second),
//	)
//	nodes, err := c.Nodes(ctx)
//
// The client is safe for concurrent use.
package proxmox

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	resourcesEndpoint = "/api2/json/cluster/resources"
	statusEndpoint    = "/api2/json/cluster/status"
)

// ResourceType filters a cluster resources query.
type ResourceType string

const (
	ResourceNode    ResourceType = "node"
	ResourceVM      ResourceType = "vm"
	ResourceStorage ResourceType = "storage"
)

// Resource is one record from /cluster/resources. Fields not relevant to the
// requested type are zero.
type Resource struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"` // node, qemu, lxc, storage
	Name    string  `json:"name"`
	Node    string  `json:"node"`
	VMID    int     `json:"vmid"`
	Status  string  `json:"status"` // online, offline, running, stopped, paused
	CPU     float64 `json:"cpu"`    // fraction of maxcpu
	MaxCPU  float64 `json:"maxcpu"`
	Mem     int64   `json:"mem"`
	MaxMem  int64   `json:"maxmem"`
	Disk    int64   `json:"disk"`
	MaxDisk int64   `json:"maxdisk"`
	Uptime  int64   `json:"uptime"`
	Storage string  `json:"storage"`
}

// ClusterNode is one entry of the /cluster/status node array.
type ClusterNode struct {
	Type   string `json:"type"` // "node" or "cluster"
	Name   string `json:"name"`
	ID     string `json:"id"`
	Online int    `json:"online"`
	Quorum int    `json:"quorate"`
	IP     string `json:"ip"`
}

// Task is one entry of a node's recent task list.
type Task struct {
	UPID      string `json:"upid"`
	Node      string `json:"node"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	User      string `json:"user"`
	StartTime int64  `json:"starttime"`
	EndTime   int64  `json:"endtime"`
}

// GuestKind selects the lifecycle endpoint family.
type GuestKind string

const (
	GuestQEMU GuestKind = "qemu"
	GuestLXC  GuestKind = "lxc"
)

// LifecycleAction is a guest power action.
type LifecycleAction string

const (
	ActionStart    LifecycleAction = "start"
	ActionStop     LifecycleAction = "stop"
	ActionReboot   LifecycleAction = "reboot"
	ActionShutdown LifecycleAction = "shutdown"
)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithToken sets the API token credentials (token ID of the form
// "user@realm!name" plus the secret UUID).
func WithToken(tokenID, secret string) Option {
	return func(c *Client) {
		c.tokenID = tokenID
		c.secret = secret
	}
}

// WithTimeout sets the per-request deadline. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithInsecureTLS skips certificate verification. Proxmox ships a self-signed
// certificate out of the box, so homelab deployments commonly need this.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Client is a Proxmox VE API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	tokenID    string
	secret     string
	httpClient *http.Client
}

// New creates a Proxmox client for the API at baseURL
// (e.g. "https://pve.lan:8006"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("proxmox: baseURL must not be empty")
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

// Resources returns /cluster/resources, optionally filtered by type.
func (c *Client) Resources(ctx context.Context, typ ResourceType) ([]Resource, error) {
	endpoint := resourcesEndpoint
	if typ != "" {
		endpoint += "?type=" + url.QueryEscape(string(typ))
	}
	var out []Resource
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nodes returns the node records from /cluster/resources.
func (c *Client) Nodes(ctx context.Context) ([]Resource, error) {
	return c.Resources(ctx, ResourceNode)
}

// Guests returns the VM and container records from /cluster/resources.
func (c *Client) Guests(ctx context.Context) ([]Resource, error) {
	return c.Resources(ctx, ResourceVM)
}

// Storage returns the storage records from /cluster/resources.
func (c *Client) Storage(ctx context.Context) ([]Resource, error) {
	return c.Resources(ctx, ResourceStorage)
}

// ClusterStatus returns the /cluster/status node array with quorum info.
func (c *Client) ClusterStatus(ctx context.Context) ([]ClusterNode, error) {
	var out []ClusterNode
	if err := c.getJSON(ctx, statusEndpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tasks returns a node's recent task list.
func (c *Client) Tasks(ctx context.Context, node string) ([]Task, error) {
	var out []Task
	endpoint := fmt.Sprintf("/api2/json/nodes/%s/tasks", url.PathEscape(node))
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Lifecycle issues a guest power action (start/stop/reboot/shutdown) and
// returns the task UPID the server queued.
func (c *Client) Lifecycle(ctx context.Context, node string, kind GuestKind, vmid int, action LifecycleAction) (string, error) {
	endpoint := fmt.Sprintf("/api2/json/nodes/%s/%s/%d/status/%s",
		url.PathEscape(node), kind, vmid, action)
	var upid string
	if err := c.postJSON(ctx, endpoint, nil, &upid); err != nil {
		return "", err
	}
	return upid, nil
}

// apiEnvelope is the {"data": ...} wrapper every Proxmox response carries.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("proxmox: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("proxmox: create request: %w", err)
	}
	if c.tokenID != "" {
		req.Header.Set("Authorization", fmt.Sprintf("PVEAPIToken=%s=%s", c.tokenID, c.secret))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxmox: %s %s returned status %d", method, endpoint, resp.StatusCode)
	}

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("proxmox: decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("proxmox: unmarshal data: %w", err)
		}
	}
	return nil
}
