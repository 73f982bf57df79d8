package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// tokenTTL is the lifetime of a bearer token minted by /api/auth/login.
const tokenTTL = 7 * 24 * time.Hour

// authenticator holds the bcrypt password hash, the optional static API key,
// and the live bearer tokens. Tokens live in memory only; a restart logs
// everyone out.
type authenticator struct {
	passwordHash string
	apiKey       string

	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func newAuthenticator(passwordHash, apiKey string) *authenticator {
	return &authenticator{
		passwordHash: passwordHash,
		apiKey:       apiKey,
		tokens:       make(map[string]time.Time),
		now:          time.Now,
	}
}

// login checks the password and mints a token. The second return is false
// when the password does not match or login is disabled.
func (a *authenticator) login(password string) (token string, expires time.Time, ok bool) {
	if a.passwordHash == "" {
		return "", time.Time{}, false
	}
	if bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) != nil {
		return "", time.Time{}, false
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, false
	}
	token = hex.EncodeToString(buf)
	expires = a.now().Add(tokenTTL)

	a.mu.Lock()
	a.prune()
	a.tokens[token] = expires
	a.mu.Unlock()
	return token, expires, true
}

// validToken reports whether token is live. Expired tokens are removed on
// sight.
func (a *authenticator) validToken(token string) bool {
	if token == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	exp, ok := a.tokens[token]
	if !ok {
		return false
	}
	if a.now().After(exp) {
		delete(a.tokens, token)
		return false
	}
	return true
}

// prune drops expired tokens. Caller holds the mutex.
func (a *authenticator) prune() {
	now := a.now()
	for t, exp := range a.tokens {
		if now.After(exp) {
			delete(a.tokens, t)
		}
	}
}

// authorized checks the request against the bearer tokens and the API key.
func (a *authenticator) authorized(r *http.Request) bool {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if a.validToken(strings.TrimPrefix(h, "Bearer ")) {
			return true
		}
	}
	if a.apiKey != "" && r.Header.Get("X-API-Key") == a.apiKey {
		return true
	}
	return false
}

// open reports whether any credential is configured at all. With neither a
// password hash nor an API key, the API is open; intended for LAN-only
// deployments and tests.
func (a *authenticator) open() bool {
	return a.passwordHash == "" && a.apiKey == ""
}

// handleLogin serves POST /api/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.auth.passwordHash == "" {
		writeError(w, http.StatusServiceUnavailable, "password login not configured")
		return
	}
	token, expires, ok := s.auth.login(req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"expiresAt": expires.UTC().Format(time.RFC3339),
	})
}

// requireAuth guards the API routes. An unconfigured authenticator passes
// everything through.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.open() || s.auth.authorized(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}
