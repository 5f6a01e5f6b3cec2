// Package handshake authenticates peers before any metering starts.
//
// The verifying side hands the remote a random challenge. The remote signs
// the challenge together with the channel it claims and its own key, under
// the handshake signing domain, so the signature cannot be reused for a
// receipt or for a different channel. Only challenges issued by this node
// are accepted, and each is consumed by the first Verify for that peer, so
// captured material can never be presented again.
package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

const (
	ChallengeSize = 32

	minChallenge = 16
	maxChallenge = 64
)

var ErrChallengeSize = errors.New("handshake: challenge size out of range")

// Material is what a connecting peer presents. It lives only for one
// handshake.
type Material struct {
	Challenge []byte
	Signature identity.Signature
}

// Message returns the bytes signed for a handshake.
func Message(challenge []byte, ch channels.ChannelID, signer identity.PeerKey) []byte {
	return identity.Message(identity.DomainHandshake, challenge, ch[:], signer[:])
}

// Respond signs a challenge received from a peer we are connecting to.
func Respond(s identity.Signer, challenge []byte, ch channels.ChannelID) (Material, error) {
	if len(challenge) < minChallenge || len(challenge) > maxChallenge {
		return Material{}, ErrChallengeSize
	}
	sig, err := s.Sign(Message(challenge, ch, s.PublicKey()))
	if err != nil {
		return Material{}, fmt.Errorf("handshake: sign: %w", err)
	}
	return Material{Challenge: append([]byte(nil), challenge...), Signature: sig}, nil
}

// Result explains a verification outcome.
type Result string

const (
	Valid             Result = "valid"
	ChallengeMismatch Result = "challenge_mismatch"
	BadSignature      Result = "bad_signature"
)

type pending struct {
	challenge []byte
	expires   time.Time
}

// Authenticator issues challenges and verifies responses.
type Authenticator struct {
	verifier identity.Verifier
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[identity.PeerKey]pending
}

// NewAuthenticator creates an authenticator whose challenges last ttl.
func NewAuthenticator(v identity.Verifier, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Authenticator{
		verifier: v,
		ttl:      ttl,
		now:      time.Now,
		pending:  make(map[identity.PeerKey]pending),
	}
}

// Challenge issues a fresh challenge for peer, replacing any earlier one.
func (a *Authenticator) Challenge(peer identity.PeerKey) ([]byte, error) {
	c := make([]byte, ChallengeSize)
	if _, err := rand.Read(c); err != nil {
		return nil, fmt.Errorf("handshake: challenge: %w", err)
	}
	a.mu.Lock()
	a.pending[peer] = pending{challenge: c, expires: a.now().Add(a.ttl)}
	a.mu.Unlock()
	return append([]byte(nil), c...), nil
}

// Verify checks material presented by peer for channel ch. Material for a
// peer with no outstanding challenge is a ChallengeMismatch. The pending
// challenge is consumed whatever the result.
func (a *Authenticator) Verify(peer identity.PeerKey, ch channels.ChannelID, m Material) Result {
	if len(m.Challenge) < minChallenge || len(m.Challenge) > maxChallenge {
		return ChallengeMismatch
	}

	a.mu.Lock()
	p, issued := a.pending[peer]
	delete(a.pending, peer)
	a.mu.Unlock()

	if !issued || a.now().After(p.expires) || subtle.ConstantTimeCompare(p.challenge, m.Challenge) != 1 {
		return ChallengeMismatch
	}
	if !a.verifier.Verify(Message(m.Challenge, ch, peer), peer, m.Signature) {
		return BadSignature
	}
	return Valid
}

// Sweep drops expired pending challenges. Returns how many were removed.
func (a *Authenticator) Sweep() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for k, p := range a.pending {
		if now.After(p.expires) {
			delete(a.pending, k)
			n++
		}
	}
	return n
}
