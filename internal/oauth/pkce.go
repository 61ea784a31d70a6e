package oauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCE holds the per-attempt values of an authorization-code + PKCE flow
type PKCE struct {
	State         string
	CodeVerifier  string
	CodeChallenge string
}

// NewPKCE generates a fresh state token and S256 verifier/challenge pair.
func NewPKCE() (PKCE, error) {
	state, err := GenerateState()
	if err != nil {
		return PKCE{}, err
	}

	verifier := GenerateCodeVerifier()
	return PKCE{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: GenerateCodeChallenge(verifier),
	}, nil
}

// GenerateState generates a random state parameter for CSRF protection
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateCodeVerifier generates a PKCE code verifier from 32 random bytes
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// GenerateCodeChallenge derives the S256 code challenge (unpadded base64url
// of the verifier's SHA-256).
func GenerateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
