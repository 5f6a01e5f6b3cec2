package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Signer signs framed messages with the local identity.
type Signer interface {
	PublicKey() PeerKey
	Sign(msg []byte) (Signature, error)
}

// Verifier checks a signature against a public key. It never errors; any
// malformed input is simply an invalid signature.
type Verifier interface {
	Verify(msg []byte, pub PeerKey, sig Signature) bool
}

// Ed25519Signer holds one ed25519 key pair.
type Ed25519Signer struct {
	mu   sync.RWMutex
	priv ed25519.PrivateKey
	pub  PeerKey
}

// NewEd25519Signer derives a signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", ErrBadLength, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	s := &Ed25519Signer{priv: priv}
	copy(s.pub[:], priv.Public().(ed25519.PublicKey))
	return s, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Ed25519Signer, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewEd25519Signer(seed)
}

// LoadOrCreateSigner reads a hex seed from path, creating it when missing.
func LoadOrCreateSigner(path string) (*Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("identity: bad key file %s", path)
		}
		return NewEd25519Signer(seed)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	s, err := GenerateSigner()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(s.priv.Seed())), 0600); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Ed25519Signer) PublicKey() PeerKey {
	return s.pub
}

func (s *Ed25519Signer) Sign(msg []byte) (Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.priv) == 0 {
		return Signature{}, ErrKeyUnavailable
	}
	digest := Digest(msg)
	var sig Signature
	copy(sig[:], ed25519.Sign(s.priv, digest[:]))
	return sig, nil
}

// Destroy zeroes the private key. Later Sign calls fail with ErrKeyUnavailable.
func (s *Ed25519Signer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.priv {
		s.priv[i] = 0
	}
	s.priv = nil
}

func (s *Ed25519Signer) String() string {
	return "Ed25519Signer{" + s.pub.Short() + "}"
}

// Ed25519Verifier verifies signatures produced by Ed25519Signer.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(msg []byte, pub PeerKey, sig Signature) bool {
	digest := Digest(msg)
	return ed25519.Verify(ed25519.PublicKey(pub[:]), digest[:], sig[:])
}
