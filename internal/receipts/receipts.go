// Package receipts issues and verifies signed cumulative-consumption
// receipts.
//
// A receipt is signed by the payer, the peer that consumed bytes, and
// asserts it has received at least Downloaded bytes from the payee under a
// channel. Accepted receipts for one (channel, payer, payee) triple form a
// non-decreasing sequence; the latest one is authoritative and older ones
// are kept as superseded history.
package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

var (
	ErrReceiptNotFound = errors.New("receipts: not found")
	ErrInvalidReceipt  = errors.New("receipts: invalid receipt")
)

// Receipt is immutable once signed.
type Receipt struct {
	ChannelID  channels.ChannelID `json:"channelId"`
	Payer      identity.PeerKey   `json:"payer"`
	Payee      identity.PeerKey   `json:"payee"`
	Downloaded uint64             `json:"downloadedBytes"`
	Signature  identity.Signature `json:"signature"`
}

// Message returns the exact bytes the payer signs.
func (r Receipt) Message() []byte {
	return identity.Message(identity.DomainReceipt,
		r.ChannelID[:],
		r.Payer[:],
		r.Payee[:],
		identity.Uint64Field(r.Downloaded),
	)
}

// Triple returns the key receipts are ordered under.
func (r Receipt) Triple() Triple {
	return Triple{Channel: r.ChannelID, Payer: r.Payer, Payee: r.Payee}
}

// Triple identifies one monotone receipt sequence.
type Triple struct {
	Channel channels.ChannelID
	Payer   identity.PeerKey
	Payee   identity.PeerKey
}

func (t Triple) lockKey() [][]byte {
	return [][]byte{t.Channel[:], t.Payer[:], t.Payee[:]}
}

// Record is a stored receipt.
type Record struct {
	Receipt
	ReceivedAt time.Time `json:"receivedAt"`
	Superseded bool      `json:"superseded"`
}

// Status is the outcome of verification.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonBadSignature Reason = "bad_signature"
	ReasonRegression   Reason = "regression"
	ReasonImplausible  Reason = "implausible"
)

// Verdict is the result of Verify.
type Verdict struct {
	Status Status `json:"status"`
	Reason Reason `json:"reason,omitempty"`
	// Previous is the last accepted value for the triple, if any.
	Previous uint64 `json:"previous"`
	// Limit is the plausibility ceiling that was applied. Zero for
	// relayed receipts, which are not checked against local counters.
	Limit   uint64 `json:"limit,omitempty"`
	Relayed bool   `json:"relayed,omitempty"`
}

// Accepted reports whether the receipt was accepted.
func (v Verdict) Accepted() bool { return v.Status == StatusAccepted }

// Store persists receipts with one latest entry per triple.
type Store interface {
	// Latest returns the newest non-superseded receipt or ErrReceiptNotFound.
	Latest(ctx context.Context, t Triple) (*Record, error)
	// Append stores rec and marks the triple's previous latest superseded.
	Append(ctx context.Context, rec *Record) error
	// History lists receipts for the triple, newest first.
	History(ctx context.Context, t Triple, limit int) ([]*Record, error)
	// SupersedeChannel retires every latest receipt of a channel.
	SupersedeChannel(ctx context.Context, ch channels.ChannelID) error
}
