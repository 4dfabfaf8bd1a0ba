package pkceflow

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Codes holds the PKCE material for one authorization attempt. The
// verifier never leaves the process; only the challenge is sent with the
// login URL.
type Codes struct {
	Verifier  string
	Challenge string
	State     string
}

const verifierBytes = 32

// NewCodes generates a fresh verifier, its S256 challenge, and an
// unguessable state value.
func NewCodes() (*Codes, error) {
	verifier, err := randomURLSafe(verifierBytes)
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := randomURLSafe(16)
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	sum := sha256.Sum256([]byte(verifier))
	return &Codes{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(sum[:]),
		State:     state,
	}, nil
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
