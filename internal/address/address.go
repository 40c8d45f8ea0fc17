package address

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	Size          = 32
	MaxSeedLength = 32
	MaxSeeds      = 16
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrSeedTooLong    = errors.New("seed exceeds maximum length")
	ErrTooManySeeds   = errors.New("too many seeds")
	ErrNoViableBump   = errors.New("unable to find a viable bump seed")
)

const pdaMarker = "ProgramDerivedAddress"

// Address is a 32-byte ledger account key. Its text form is base58.
type Address [Size]byte

var Zero Address

func Parse(s string) (Address, error) {
	var out Address
	s = strings.TrimSpace(s)
	if s == "" {
		return out, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != Size {
		return out, fmt.Errorf("%w: decoded length %d, want %d", ErrInvalidAddress, len(raw), Size)
	}
	copy(out[:], raw)
	return out, nil
}

func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromBytes(b []byte) (Address, error) {
	var out Address
	if len(b) != Size {
		return out, fmt.Errorf("%w: length %d, want %d", ErrInvalidAddress, len(b), Size)
	}
	copy(out[:], b)
	return out, nil
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

func (a Address) IsZero() bool {
	return a == Zero
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// IsOnCurve reports whether b decodes to a valid ed25519 point. Derived
// addresses must be off the curve so no private key can sign for them.
func IsOnCurve(b []byte) bool {
	if len(b) != Size {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Derive computes the program-derived address for tag and seeds under
// program. Seeds are hashed in the order given; reordering them yields a
// different address.
func Derive(program Address, tag string, seeds ...[]byte) (Address, uint8, error) {
	all := make([][]byte, 0, len(seeds)+1)
	all = append(all, []byte(tag))
	all = append(all, seeds...)
	if len(all) > MaxSeeds {
		return Zero, 0, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(all), MaxSeeds)
	}
	for i, seed := range all {
		if len(seed) > MaxSeedLength {
			return Zero, 0, fmt.Errorf("%w: seed %d is %d bytes, max %d", ErrSeedTooLong, i, len(seed), MaxSeedLength)
		}
	}
	for bump := 255; bump >= 0; bump-- {
		candidate := createAddress(program, all, uint8(bump))
		if !IsOnCurve(candidate[:]) {
			return candidate, uint8(bump), nil
		}
	}
	return Zero, 0, ErrNoViableBump
}

func createAddress(program Address, seeds [][]byte, bump uint8) Address {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write([]byte{bump})
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}
