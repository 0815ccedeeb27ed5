package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/mr-tron/base58"
)

// AddressSize is the byte length of record addresses and identities.
const AddressSize = 32

// Address identifies a record in the store or an ed25519 identity.
// The zero value is the None sentinel.
type Address [AddressSize]byte

// None means "no post": an empty chain head or the genesis post's predecessor.
var None Address

// NewAddress returns a random address.
func NewAddress() (Address, error) {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		return None, fmt.Errorf("generate address: %w", err)
	}
	return a, nil
}

// ParseAddress decodes a base58 address. The empty string parses to None.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return None, nil
	}
	b, err := base58.Decode(s)
	if err != nil {
		return None, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(b) != AddressSize {
		return None, fmt.Errorf("decode address %q: got %d bytes, want %d", s, len(b), AddressSize)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// IdentityOf returns the address of an ed25519 public key.
func IdentityOf(pub ed25519.PublicKey) Address {
	var a Address
	copy(a[:], pub)
	return a
}

// PublicKey returns the address as an ed25519 public key.
func (a Address) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(a[:])
}

// IsNone reports whether a is the None sentinel.
func (a Address) IsNone() bool {
	return a == None
}

func (a Address) String() string {
	if a.IsNone() {
		return ""
	}
	return base58.Encode(a[:])
}

// Short is a log-friendly prefix of the base58 form.
func (a Address) Short() string {
	s := a.String()
	if len(s) > 8 {
		return s[:8]
	}
	if s == "" {
		return "none"
	}
	return s
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalCBOR always encodes the address as a 32-byte CBOR byte string.
func (a Address) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a[:])
}

func (a *Address) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	if len(b) != AddressSize {
		return fmt.Errorf("address: got %d bytes, want %d", len(b), AddressSize)
	}
	copy(a[:], b)
	return nil
}
