package safety

import (
	"path/filepath"
	"strings"
)

// SecretCheck is the outcome of [Kernel.IsSecretFile].
type SecretCheck struct {
	Blocked bool
	Reason  string
}

// secretBasenamePatterns are glob patterns matched against the file's
// basename (lower-cased).
var secretBasenamePatterns = []string{
	"id_rsa", "id_rsa.*", "id_ed25519", "id_ed25519.*", "id_ecdsa", "id_ecdsa.*",
	"*.pem", "*.key", "*.p12", "*.pfx", "*.kdbx",
	".env", ".env.*", "credentials", "credentials.*",
	"secrets.yml", "secrets.yaml", "secrets.json",
	"shadow", ".netrc", ".npmrc", ".pgpass", ".htpasswd",
	"token", "token.*", "*.token",
	"known_hosts", "authorized_keys",
}

// secretDirSegments are directory names anywhere in the path that mark the
// file as sensitive (ssh and git material, key rings, cloud CLI caches).
var secretDirSegments = []string{
	".ssh", ".git", ".gnupg", ".aws", ".azure", ".kube", ".docker",
	"gcloud", ".password-store",
}

// IsSecretFile reports whether path names credential material, by matching
// the basename against a closed pattern set and every path segment against a
// closed set of sensitive directory names. It performs no filesystem I/O.
func (k *Kernel) IsSecretFile(path string) SecretCheck {
	base := strings.ToLower(filepath.Base(path))
	for _, pat := range secretBasenamePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return SecretCheck{
				Blocked: true,
				Reason:  "file name matches secret pattern " + pat,
			}
		}
	}

	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		lowerSeg := strings.ToLower(seg)
		for _, sensitive := range secretDirSegments {
			if lowerSeg == sensitive {
				return SecretCheck{
					Blocked: true,
					Reason:  "path crosses sensitive directory " + sensitive,
				}
			}
		}
	}
	return SecretCheck{}
}
