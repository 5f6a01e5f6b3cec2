// Package channels is the registry of download channels and drive
// participants. Channel creation and teardown are driven by an external
// lifecycle authority; this package only records and answers lookups.
package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/driveledger/internal/identity"
)

var (
	ErrChannelNotFound = errors.New("channels: not found")
	ErrChannelExists   = errors.New("channels: already exists")
	ErrInvalidChannel  = errors.New("channels: invalid channel")
	ErrInvalidDrive    = errors.New("channels: invalid drive")
)

// ChannelID names one client's authorization to pull one content object.
type ChannelID [32]byte

func (id ChannelID) IsZero() bool { return id == ChannelID{} }

func (id ChannelID) String() string { return identity.PeerKey(id).String() }

func (id ChannelID) Short() string { return identity.PeerKey(id).Short() }

func (id ChannelID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *ChannelID) UnmarshalText(text []byte) error {
	return identity.DecodeFixed(string(text), id[:])
}

// ParseChannelID decodes a hex channel id with or without the 0x prefix.
func ParseChannelID(s string) (ChannelID, error) {
	var id ChannelID
	if err := identity.DecodeFixed(s, id[:]); err != nil {
		return ChannelID{}, err
	}
	return id, nil
}

// ContentHash is the 32-byte root hash of the content a channel serves.
type ContentHash [32]byte

func (h ContentHash) MarshalText() ([]byte, error) {
	return identity.PeerKey(h).MarshalText()
}

func (h *ContentHash) UnmarshalText(text []byte) error {
	return identity.DecodeFixed(string(text), h[:])
}

// Flags are fixed when a channel is created.
type Flags uint32

const (
	FlagReplicator Flags = 0x01
	FlagReceiver   Flags = 0x02
	FlagModifyData Flags = 0x04
)

func (f Flags) Has(x Flags) bool { return f&x == x }

// Channel is immutable once registered.
type Channel struct {
	ID          ChannelID          `json:"id"`
	Owner       identity.PeerKey   `json:"owner"`
	Drive       identity.PeerKey   `json:"drive"`
	ContentHash ContentHash        `json:"contentHash"`
	Flags       Flags              `json:"flags"`
	Receivers   []identity.PeerKey `json:"receivers,omitempty"` // accepted receivers besides the owner
	CreatedAt   time.Time          `json:"createdAt"`
}

func (c *Channel) clone() *Channel {
	cp := *c
	cp.Receivers = append([]identity.PeerKey(nil), c.Receivers...)
	return &cp
}

func (c *Channel) validate() error {
	if c.ID.IsZero() {
		return fmt.Errorf("%w: missing id", ErrInvalidChannel)
	}
	if c.Owner.IsZero() {
		return fmt.Errorf("%w: missing owner", ErrInvalidChannel)
	}
	if c.Drive.IsZero() {
		return fmt.Errorf("%w: missing drive", ErrInvalidChannel)
	}
	return nil
}

// Drive is the set of replicators that store one drive.
type Drive struct {
	Key         identity.PeerKey   `json:"key"`
	Replicators []identity.PeerKey `json:"replicators"`
}

// Role is a peer's relation to a channel.
type Role int

const (
	RoleUnrelated Role = iota
	RoleOwner
	RoleParticipant
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleParticipant:
		return "participant"
	default:
		return "unrelated"
	}
}

// Listener observes lifecycle events after they are applied.
type Listener interface {
	ChannelCreated(ch Channel)
	ChannelClosed(id ChannelID)
}

// Store persists registry state for restart recovery.
type Store interface {
	SaveChannel(ctx context.Context, ch *Channel) error
	DeleteChannel(ctx context.Context, id ChannelID) error
	ListChannels(ctx context.Context) ([]*Channel, error)
	SaveDrive(ctx context.Context, d Drive) error
	ListDrives(ctx context.Context) ([]Drive, error)
}
