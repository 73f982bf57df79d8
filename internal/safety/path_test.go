package safety

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizePathRejections(t *testing.T) {
	k, sink := newTestKernel(t)

	tests := []struct {
		name      string
		path      string
		baseDir   string
		reasonHas string
	}{
		{"traversal", "/tmp/../etc/shadow", "", "traversal"},
		{"encoded traversal", "/tmp/%2e%2e/etc/shadow", "", "traversal"},
		{"null byte", "/tmp/a\x00b", "", "null byte"},
		{"malformed encoding", "/tmp/%zz", "", "percent-encoding"},
		{"protected exact", "/etc/shadow", "", "protected"},
		{"protected subtree", "/etc/pve/priv/authkey.key", "", "protected"},
		{"outside allowed bases", "/usr/bin/true", "", "outside the allowed"},
		{"escapes base dir", "/mnt/other", "/tmp", "base directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := k.SanitizePath(tt.path, tt.baseDir)
			if res.Safe {
				t.Fatalf("SanitizePath(%q) = safe, want blocked", tt.path)
			}
			if !strings.Contains(res.Reason, tt.reasonHas) {
				t.Errorf("Reason %q does not contain %q", res.Reason, tt.reasonHas)
			}
		})
	}

	if sink.count() == 0 {
		t.Error("blocked paths must be audit-logged")
	}
}

func TestSanitizePathAllows(t *testing.T) {
	k, _ := newTestKernel(t)

	res := k.SanitizePath("/tmp/report.txt", "")
	if !res.Safe {
		t.Fatalf("expected safe, got %q", res.Reason)
	}
	if filepath.Base(res.ResolvedPath) != "report.txt" {
		t.Errorf("ResolvedPath = %q", res.ResolvedPath)
	}

	// Relative path resolves against the base directory.
	res = k.SanitizePath("logs/a.log", "/tmp")
	if !res.Safe {
		t.Fatalf("expected safe, got %q", res.Reason)
	}
	if !strings.HasPrefix(res.ResolvedPath, "/tmp/") {
		t.Errorf("ResolvedPath = %q, want under /tmp", res.ResolvedPath)
	}
}

func TestSanitizePathSymlinkIntoProtectedTree(t *testing.T) {
	if os.Getuid() == 0 && os.Getenv("CI") != "" {
		t.Skip("symlink layout differs under CI root")
	}

	dir := t.TempDir()
	target := filepath.Join(dir, "pve-priv")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}

	sink := &recordingSink{}
	k := NewKernel(Config{
		AllowedPathBases: []string{"/tmp"},
		ProtectedPaths:   []string{target + "/"},
	}, sink)

	link := filepath.Join(os.TempDir(), "jarvisd-test-link")
	os.Remove(link)
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}
	defer os.Remove(link)

	res := k.SanitizePath(link, "")
	if res.Safe {
		t.Fatalf("symlink into protected tree must be rejected, resolved to %q", res.ResolvedPath)
	}
}

func TestSanitizePathNonexistentUsesRealParent(t *testing.T) {
	k, _ := newTestKernel(t)

	res := k.SanitizePath("/tmp/does-not-exist-yet/file.bin", "")
	if !res.Safe {
		t.Fatalf("expected safe, got %q", res.Reason)
	}
	if filepath.Base(res.ResolvedPath) != "file.bin" {
		t.Errorf("ResolvedPath = %q", res.ResolvedPath)
	}
}

func TestPathMatchesPrefix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/etc/pve/priv/key", "/etc/pve/priv/", true},
		{"/etc/pve/priv", "/etc/pve/priv/", true},
		{"/etc/pve/private", "/etc/pve/priv/", false},
		{"/etc/shadow", "/etc/shadow", true},
		{"/etc/shadow.bak", "/etc/shadow", false},
		{"/etc/shadow/sub", "/etc/shadow", true},
	}
	for _, tt := range tests {
		if got := pathMatchesPrefix(tt.path, tt.prefix); got != tt.want {
			t.Errorf("pathMatchesPrefix(%q, %q) = %v, want %v", tt.path, tt.prefix, got, tt.want)
		}
	}
}
