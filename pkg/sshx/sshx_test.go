package sshx

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return path
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(Config{KeyPath: "/nonexistent"}); err == nil {
		t.Error("missing user accepted")
	}
	if _, err := NewPool(Config{User: "root", KeyPath: "/nonexistent/key"}); err == nil {
		t.Error("unreadable key accepted")
	}
}

func TestNewPoolLoadsKeyAndDefaults(t *testing.T) {
	p, err := NewPool(Config{User: "root", KeyPath: writeTestKey(t)})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	if p.cfg.Port != defaultPort {
		t.Errorf("port = %d, want %d", p.cfg.Port, defaultPort)
	}
	if p.cfg.DialTimeout != defaultDialTimeout {
		t.Errorf("dial timeout = %v", p.cfg.DialTimeout)
	}
	if len(p.auth) != 1 {
		t.Errorf("auth methods = %d, want 1", len(p.auth))
	}
}

func TestNewPoolRejectsGarbageKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPool(Config{User: "root", KeyPath: path}); err == nil {
		t.Error("garbage key accepted")
	}
}
