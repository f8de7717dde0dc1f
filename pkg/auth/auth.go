package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenVerifier checks the shared worker token presented on internal
// endpoints. The configured value may be the plain token or a bcrypt
// hash of it; hashes keep the secret out of the environment.
type TokenVerifier struct {
	configured string
}

// NewTokenVerifier creates a verifier for the configured token.
// An empty configuration rejects everything.
func NewTokenVerifier(configured string) *TokenVerifier {
	return &TokenVerifier{configured: strings.TrimSpace(configured)}
}

// Enabled reports whether a token is configured at all.
func (v *TokenVerifier) Enabled() bool {
	return v.configured != ""
}

// Verify checks a presented token against the configuration.
func (v *TokenVerifier) Verify(presented string) bool {
	if v.configured == "" || presented == "" {
		return false
	}
	if strings.HasPrefix(v.configured, "$2a$") || strings.HasPrefix(v.configured, "$2b$") || strings.HasPrefix(v.configured, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(v.configured), []byte(presented)) == nil
	}
	return SecureCompare(v.configured, presented)
}

// GenerateToken returns a fresh random token and its bcrypt hash,
// for provisioning.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = base64.URLEncoding.EncodeToString(raw)

	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}
	return token, string(h), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
