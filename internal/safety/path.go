package safety

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// PathResult is the outcome of [Kernel.SanitizePath].
type PathResult struct {
	// Safe reports whether the path may be used.
	Safe bool

	// ResolvedPath is the canonical absolute path when Safe is true.
	ResolvedPath string

	// Reason explains the denial when Safe is false.
	Reason string
}

// SanitizePath resolves a user-supplied path against the allow-list of base
// directories and the protected-path table. The path is URL-decoded first,
// then resolved absolute against baseDir (default "/"), checked for
// traversal and protection, and finally re-checked after symlink resolution
// of either the path itself or, when the path does not yet exist, its parent
// directory.
//
// When baseDir is non-empty the resolved path must additionally stay
// contained within it. All blocked outcomes are audit-logged.
func (k *Kernel) SanitizePath(userPath, baseDir string) PathResult {
	decoded, err := url.PathUnescape(userPath)
	if err != nil {
		return k.blockPath(userPath, "path contains malformed percent-encoding")
	}
	if strings.ContainsRune(decoded, 0) {
		return k.blockPath(userPath, "path contains a null byte")
	}
	if containsTraversal(decoded) {
		return k.blockPath(userPath, "path contains a parent-directory traversal")
	}

	base := baseDir
	if base == "" {
		base = "/"
	}
	resolved := decoded
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}
	resolved = filepath.Clean(resolved)

	if reason, blocked := k.validateResolved(resolved, baseDir); blocked {
		return k.blockPath(userPath, reason)
	}

	// Re-validate after symlink resolution so a symlink into a protected
	// tree cannot launder the path.
	if _, statErr := os.Lstat(resolved); statErr == nil {
		real, evalErr := filepath.EvalSymlinks(resolved)
		if evalErr != nil {
			return k.blockPath(userPath, "could not resolve symlinks: "+evalErr.Error())
		}
		if reason, blocked := k.validateResolved(real, baseDir); blocked {
			return k.blockPath(userPath, reason)
		}
		return PathResult{Safe: true, ResolvedPath: real}
	}

	// Path does not exist yet (e.g. a download target): resolve the parent
	// directory instead and recompose.
	parent := filepath.Dir(resolved)
	realParent, evalErr := filepath.EvalSymlinks(parent)
	if evalErr != nil {
		// Parent does not exist either; nothing on disk can redirect us.
		realParent = parent
	}
	final := filepath.Join(realParent, filepath.Base(resolved))
	if reason, blocked := k.validateResolved(final, baseDir); blocked {
		return k.blockPath(userPath, reason)
	}
	return PathResult{Safe: true, ResolvedPath: final}
}

// validateResolved applies the protected-prefix, containment, and allow-list
// checks to an already-cleaned absolute path. Returns a denial reason and
// true when the path must be blocked.
func (k *Kernel) validateResolved(path, baseDir string) (string, bool) {
	for _, prefix := range k.protectedPaths {
		if pathMatchesPrefix(path, prefix) {
			return "path " + path + " is protected", true
		}
	}

	if baseDir != "" {
		clean := filepath.Clean(baseDir)
		if path != clean && !strings.HasPrefix(path, clean+string(filepath.Separator)) {
			return "path escapes its base directory " + clean, true
		}
	}

	for _, allowed := range k.allowedBases {
		clean := filepath.Clean(allowed)
		if path == clean || strings.HasPrefix(path, clean+string(filepath.Separator)) {
			return "", false
		}
	}
	return "path " + path + " is outside the allowed directories", true
}

// blockPath audit-logs a denial and returns the unsafe result.
func (k *Kernel) blockPath(userPath, reason string) PathResult {
	k.logAudit("path-block", reason, map[string]string{
		"path":   userPath,
		"reason": reason,
	})
	return PathResult{Safe: false, Reason: reason}
}

// pathMatchesPrefix implements the protected-path matching rule: a prefix
// ending in a separator covers the whole subtree (and the directory itself),
// any other prefix matches exactly or as a directory.
func pathMatchesPrefix(path, prefix string) bool {
	if strings.HasSuffix(prefix, string(filepath.Separator)) {
		trimmed := strings.TrimSuffix(prefix, string(filepath.Separator))
		return path == trimmed || strings.HasPrefix(path, prefix)
	}
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// containsTraversal reports whether any path segment is "..".
func containsTraversal(p string) bool {
	for _, seg := range strings.Split(p, string(filepath.Separator)) {
		if seg == ".." {
			return true
		}
	}
	return false
}
