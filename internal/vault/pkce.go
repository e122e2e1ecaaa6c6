package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// generateCodeVerifier generates a PKCE code verifier. 48 random bytes
// base64url-encode to 64 characters, inside RFC 7636's 43-128 range.
func generateCodeVerifier() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// codeChallenge derives the S256 code challenge from a verifier.
func codeChallenge(verifier string) string {
	h := sha256.New()
	h.Write([]byte(verifier))
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(h.Sum(nil))
}
