// Package session orchestrates peer connections: handshake, admission,
// metered piece exchange, receipt exchange and teardown.
//
// The transport delivers discrete events (connection attempts, completed
// piece transfers, inbound receipts, disconnects) and the Manager answers
// each with a defined response, calling back into the transport to admit,
// send receipts or close. Nothing here blocks on network I/O.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/driveledger/internal/admission"
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/handshake"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/receipts"
)

var (
	ErrNoSession        = errors.New("session: no session for peer")
	ErrNotAdmitted      = errors.New("session: channel not admitted on this connection")
	ErrNotPermitted     = errors.New("session: remote role may not do this")
	ErrReceiptDebt      = errors.New("session: unreceipted bytes over limit")
	ErrBandwidthLimited = errors.New("session: bandwidth limit reached")
	ErrStopped          = errors.New("session: manager stopped")
)

// State is a connection's lifecycle position.
type State int

const (
	StateConnecting State = iota
	StateHandshakePending
	StateAdmitted
	StateRejected
	StateExchanging
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateAdmitted:
		return "admitted"
	case StateRejected:
		return "rejected"
	case StateExchanging:
		return "exchanging"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CloseCode is surfaced to the transport, and to the penalizer for
// violations.
type CloseCode string

const (
	CloseNone         CloseCode = ""
	CloseBadHandshake CloseCode = "bad_handshake"
	// CloseHandshakeTimeout is a peer that never answered the challenge.
	CloseHandshakeTimeout CloseCode = "handshake_timeout"
	CloseUnknownChannel   CloseCode = "unknown_channel"
	CloseNotAuthorized    CloseCode = "not_authorized"
	CloseRegression       CloseCode = "regression"
	CloseImplausible      CloseCode = "implausible"
	CloseCounterOverflow  CloseCode = "counter_overflow"
	CloseReceiptDebt      CloseCode = "receipt_debt"
	CloseChannelClosed    CloseCode = "channel_closed"
	CloseRemote           CloseCode = "remote_disconnect"
	CloseShutdown         CloseCode = "shutdown"
)

// Violation reports whether the code is a protocol violation by the peer.
func (c CloseCode) Violation() bool {
	switch c {
	case CloseBadHandshake, CloseRegression, CloseImplausible, CloseCounterOverflow:
		return true
	default:
		return false
	}
}

func closeCodeFor(code admission.Code) CloseCode {
	switch code {
	case admission.CodeBadHandshake:
		return CloseBadHandshake
	case admission.CodeUnknownChannel:
		return CloseUnknownChannel
	case admission.CodeNotAuthorized:
		return CloseNotAuthorized
	case admission.CodeShuttingDown:
		return CloseShutdown
	default:
		return CloseNone
	}
}

// Transport is the piece-exchange layer as seen from this package.
//
// SendReceipt is called while the receipt's meter pair is locked so the
// signed value and the transmitted value are the same; it must queue the
// message and return without calling back into the Manager.
type Transport interface {
	Admit(peer identity.PeerKey, ch channels.ChannelID, d admission.Decision)
	SendReceipt(ctx context.Context, peer identity.PeerKey, r receipts.Receipt) error
	CloseConnection(peer identity.PeerKey, code CloseCode)
}

// Relayer is an optional Transport capability: forwarding an accepted
// receipt to another replicator of the same drive.
type Relayer interface {
	RelayReceipt(ctx context.Context, to identity.PeerKey, r receipts.Receipt) error
}

// Penalizer is an optional Transport capability: the external collaborator
// that bans or penalizes peers closed for a violation.
type Penalizer interface {
	Penalize(peer identity.PeerKey, code CloseCode)
}

// Attempt is a connection attempt delivered by the transport.
type Attempt struct {
	Peer         identity.PeerKey
	Role         admission.Role
	Channel      channels.ChannelID
	ClaimedDrive identity.PeerKey
	Handshake    handshake.Material
}

// Config holds the externally configured receipt and escalation thresholds.
type Config struct {
	LocalRole admission.Role
	// ReceiptEveryBytes triggers a receipt once this many bytes arrived
	// since the previous one.
	ReceiptEveryBytes uint64
	// ReceiptInterval issues a receipt for any unreceipted bytes on a timer.
	ReceiptInterval time.Duration
	// MaxUnreceiptedBytes refuses to serve a peer whose sent bytes exceed
	// its latest receipt by more than this. Zero disables the check.
	MaxUnreceiptedBytes uint64
	// RegressionTolerance is how many regressed receipts a session absorbs
	// before it is closed.
	RegressionTolerance int
	// HandshakeTimeout drops sessions stuck waiting for a handshake.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the defaults documented for the node.
func DefaultConfig() Config {
	return Config{
		LocalRole:           admission.RoleReplicator,
		ReceiptEveryBytes:   1 << 20,
		ReceiptInterval:     10 * time.Second,
		MaxUnreceiptedBytes: 8 << 20,
		RegressionTolerance: 0,
		HandshakeTimeout:    30 * time.Second,
	}
}

// Info is a read-only view of a session.
type Info struct {
	Peer     identity.PeerKey `json:"peer"`
	Role     string           `json:"role"`
	State    State            `json:"state"`
	Outcome  string           `json:"outcome"`
	Channels []ChannelInfo    `json:"channels"`
	OpenedAt time.Time        `json:"openedAt"`
}

// ChannelInfo is the per-channel part of Info.
type ChannelInfo struct {
	Channel     channels.ChannelID `json:"channel"`
	Outcome     string             `json:"outcome"`
	LastReceipt *receipts.Receipt  `json:"lastReceipt,omitempty"`
	LastIssued  uint64             `json:"lastIssuedBytes"`
	Regressions int                `json:"regressions"`
}
