package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

var b64u = base64.RawURLEncoding

// ActionTokenBytes is the entropy of an action-link token; encoded it is 43
// base64url characters.
const ActionTokenBytes = 32

func CanonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func SHA256Hex(in []byte) string {
	h := sha256.Sum256(in)
	return hex.EncodeToString(h[:])
}

// ContentHash streams r through SHA-256 and returns the lowercase hex digest
// used as a content fingerprint.
func ContentHash(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseHash32 decodes a 64-character hex digest. Case is normalized; any
// other length or alphabet is rejected.
func ParseHash32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) != 64 {
		return out, fmt.Errorf("must be exactly 64 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return out, fmt.Errorf("must be hex encoded")
	}
	copy(out[:], b)
	return out, nil
}

// RandomToken returns a fresh bearer token from the system CSPRNG.
func RandomToken() (string, error) {
	buf := make([]byte, ActionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random token: %w", err)
	}
	return b64u.EncodeToString(buf), nil
}

// TokenDigest is the value persisted in place of a bearer token.
func TokenDigest(token string) string {
	return SHA256Hex([]byte(token))
}
