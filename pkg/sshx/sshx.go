// Package sshx provides pooled per-node SSH command execution.
//
// A [Pool] holds one cached client per remote host. Run acquires the host's
// client (dialling on first use or after a broken connection), executes the
// command in a fresh session under the caller's deadline, and returns the
// captured streams and exit code. Connections are reused across calls and
// re-dialled transparently when they go stale.
package sshx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 8 * time.Second
)

// Result holds the captured output of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Config holds connection settings shared by every host in a [Pool].
type Config struct {
	// User is the SSH login user.
	User string

	// KeyPath is the path of the private key file used for authentication.
	KeyPath string

	// Port is the SSH port. Defaults to 22.
	Port int

	// DialTimeout bounds the TCP+handshake phase. Defaults to 8 s.
	DialTimeout time.Duration
}

// dialFunc matches ssh.Dial and is replaced in tests.
type dialFunc func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Pool caches one SSH client per host. Safe for concurrent use; concurrent
// Run calls against the same host share the connection but use independent
// sessions.
type Pool struct {
	cfg  Config
	auth []ssh.AuthMethod
	dial dialFunc

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewPool creates a connection pool. The private key is loaded eagerly so a
// misconfigured key path fails at startup rather than on first use.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.User == "" {
		return nil, errors.New("sshx: user must not be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("sshx: read key %q: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("sshx: parse key %q: %w", cfg.KeyPath, err)
	}

	return &Pool{
		cfg:     cfg,
		auth:    []ssh.AuthMethod{ssh.PublicKeys(signer)},
		dial:    ssh.Dial,
		clients: make(map[string]*ssh.Client),
	}, nil
}

// Run executes command on host and returns the captured streams and exit
// code. The context deadline bounds the whole call; on expiry the session is
// torn down and ctx.Err() is returned. A non-zero remote exit status is not
// an error; it is reported in Result.ExitCode.
func (p *Pool) Run(ctx context.Context, host, command string) (Result, error) {
	client, err := p.acquire(host)
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// The cached connection is likely dead. Drop it and retry once with
		// a fresh dial.
		p.evict(host, client)
		client, err = p.acquire(host)
		if err != nil {
			return Result{}, err
		}
		session, err = client.NewSession()
		if err != nil {
			return Result{}, fmt.Errorf("sshx: open session on %s: %w", host, err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Close()
		<-done
		return Result{}, fmt.Errorf("sshx: run on %s: %w", host, ctx.Err())
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("sshx: run on %s: %w", host, err)
	}
	return res, nil
}

// Close tears down every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for host, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sshx: close %s: %w", host, err)
		}
		delete(p.clients, host)
	}
	return firstErr
}

// acquire returns the cached client for host, dialling on first use.
func (p *Pool) acquire(host string) (*ssh.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[host]; ok {
		return c, nil
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", p.cfg.Port))
	c, err := p.dial("tcp", addr, &ssh.ClientConfig{
		User: p.cfg.User,
		Auth: p.auth,
		// Homelab nodes are reinstalled often enough that strict host key
		// pinning causes more outages than it prevents on a trusted LAN.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("sshx: dial %s: %w", addr, err)
	}
	p.clients[host] = c
	return c, nil
}

// evict drops a cached client if it is still the one we hold for host.
func (p *Pool) evict(host string, c *ssh.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.clients[host]; ok && cur == c {
		delete(p.clients, host)
		cur.Close()
	}
}
