// Package identity adapts ed25519 signing and verification to the accounting
// protocol. Every signed payload is a domain-tagged message so a signature
// produced for one message kind can never be accepted as another.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	KeySize       = ed25519.PublicKeySize // 32
	SignatureSize = ed25519.SignatureSize // 64
)

var (
	ErrKeyUnavailable = errors.New("identity: signing key unavailable")
	ErrBadLength      = errors.New("identity: bad encoded length")
)

// PeerKey is a peer's 32-byte public key. Equality is byte equality.
type PeerKey [KeySize]byte

// Signature is a 64-byte detached signature.
type Signature [SignatureSize]byte

func (k PeerKey) IsZero() bool {
	return k == PeerKey{}
}

func (k PeerKey) String() string {
	return hexutil.Encode(k[:])
}

// Short renders the first four bytes, for log lines.
func (k PeerKey) Short() string {
	return hexutil.Encode(k[:4])
}

func (k PeerKey) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

func (k PeerKey) Compare(o PeerKey) int {
	return bytes.Compare(k[:], o[:])
}

func (k PeerKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PeerKey) UnmarshalText(text []byte) error {
	return DecodeFixed(string(text), k[:])
}

// ParsePeerKey decodes a hex key with or without the 0x prefix.
func ParsePeerKey(s string) (PeerKey, error) {
	var k PeerKey
	if err := DecodeFixed(s, k[:]); err != nil {
		return PeerKey{}, err
	}
	return k, nil
}

func (s Signature) String() string {
	return hexutil.Encode(s[:])
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	return DecodeFixed(string(text), s[:])
}

// DecodeFixed decodes hex text into dst, which must be filled exactly.
func DecodeFixed(s string, dst []byte) error {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	raw, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("identity: decode hex: %w", err)
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrBadLength, len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
