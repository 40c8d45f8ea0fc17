package crypto

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/provenance/provenance-gateway/internal/address"
)

// Signer is the gateway's shared key: it pays fees and co-authorizes the
// instructions it submits.
type Signer struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	Address address.Address
}

// LoadSigner reads a private key from path. Accepted encodings are a JSON
// byte array (64-byte keypair), PKCS#8 PEM, and base64 or base58 text holding
// a 32-byte seed or a 64-byte private key.
func LoadSigner(path string) (*Signer, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signer key: %w", err)
	}
	priv, err := ParsePrivateKey(string(buf))
	if err != nil {
		return nil, err
	}
	return NewSigner(priv)
}

func NewSigner(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key length %d invalid", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	addr, err := address.FromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Signer{Private: priv, Public: pub, Address: addr}, nil
}

func (s *Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.Private, payload)
}

func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	data := strings.TrimSpace(encoded)
	switch {
	case data == "":
		return nil, errors.New("private key is empty")
	case strings.HasPrefix(data, "["):
		var raw []byte
		var ints []int
		if err := json.Unmarshal([]byte(data), &ints); err != nil {
			return nil, fmt.Errorf("parse keypair json: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("keypair json: byte %d out of range", i)
			}
			raw[i] = byte(v)
		}
		return fromRaw(raw)
	case strings.HasPrefix(data, "-----BEGIN"):
		block, _ := pem.Decode([]byte(data))
		if block == nil {
			return nil, errors.New("invalid private key pem")
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
		}
		pk, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not ed25519")
		}
		return pk, nil
	}
	if b, err := base58.Decode(data); err == nil && (len(b) == ed25519.SeedSize || len(b) == ed25519.PrivateKeySize) {
		return fromRaw(b)
	}
	b, err := decodeLooseBase64(data)
	if err != nil {
		return nil, err
	}
	return fromRaw(b)
}

func fromRaw(b []byte) (ed25519.PrivateKey, error) {
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		pk := ed25519.NewKeyFromSeed(b[:ed25519.SeedSize])
		if !pk.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(b[ed25519.SeedSize:])) {
			return nil, errors.New("public half of keypair does not match private key")
		}
		return pk, nil
	default:
		return nil, fmt.Errorf("private key length %d invalid", len(b))
	}
}

func decodeLooseBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	candidates := []func(string) ([]byte, error){
		base64.RawURLEncoding.DecodeString,
		base64.URLEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		base64.StdEncoding.DecodeString,
	}
	for _, fn := range candidates {
		if b, err := fn(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}
