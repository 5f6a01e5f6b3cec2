package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

var (
	owner    = identity.PeerKey{0xC1}
	receiver = identity.PeerKey{0xC2}
	stranger = identity.PeerKey{0xEE}
	drive    = identity.PeerKey{0xD1}
	repA     = identity.PeerKey{0xA1}
	repB     = identity.PeerKey{0xA2}
	chanX    = channels.ChannelID{0x58}
)

type historyFunc func(identity.PeerKey) bool

func (f historyFunc) Clean(p identity.PeerKey) bool { return f(p) }

func newTestRegistry(t *testing.T) *channels.Registry {
	t.Helper()
	ctx := context.Background()
	reg := channels.NewRegistry(nil, nil)
	require.NoError(t, reg.Create(ctx, channels.Channel{
		ID:        chanX,
		Owner:     owner,
		Drive:     drive,
		Flags:     channels.FlagReceiver,
		Receivers: []identity.PeerKey{receiver},
	}))
	require.NoError(t, reg.SetDrive(ctx, channels.Drive{Key: drive, Replicators: []identity.PeerKey{repA, repB}}))
	return reg
}

func TestDecide(t *testing.T) {
	reg := newTestRegistry(t)
	c := New(reg, TrustedReplicators{}, nil)

	tests := []struct {
		name    string
		attempt Attempt
		want    Decision
	}{
		{
			name:    "bad handshake wins over everything",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: owner, Channel: chanX},
			want:    Reject(CodeBadHandshake),
		},
		{
			name:    "unknown channel from client",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: owner, Channel: channels.ChannelID{9}, HandshakeValid: true},
			want:    Reject(CodeUnknownChannel),
		},
		{
			name:    "unknown channel from replicator",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleReplicator, Peer: repA, ClaimedDrive: drive, Channel: channels.ChannelID{9}, HandshakeValid: true},
			want:    Reject(CodeUnknownChannel),
		},
		{
			name:    "owner is limited",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: owner, Channel: chanX, HandshakeValid: true},
			want:    Decision{Outcome: Limited, Remote: Capabilities{CanConsume: true}},
		},
		{
			name:    "accepted receiver is limited",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: receiver, Channel: chanX, HandshakeValid: true},
			want:    Decision{Outcome: Limited, Remote: Capabilities{CanConsume: true}},
		},
		{
			name:    "stranger client not authorized",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: stranger, Channel: chanX, HandshakeValid: true},
			want:    Reject(CodeNotAuthorized),
		},
		{
			name:    "drive replicator is unlimited",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleReplicator, Peer: repB, ClaimedDrive: drive, Channel: chanX, HandshakeValid: true},
			want:    Decision{Outcome: Unlimited, Remote: CapabilitiesOf(RoleReplicator)},
		},
		{
			name:    "replicator claiming drive without registration",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleReplicator, Peer: stranger, ClaimedDrive: drive, Channel: chanX, HandshakeValid: true},
			want:    Reject(CodeNotAuthorized),
		},
		{
			name:    "replicator naming another drive",
			attempt: Attempt{Local: RoleReplicator, Remote: RoleReplicator, Peer: repA, ClaimedDrive: identity.PeerKey{0xD2}, Channel: chanX, HandshakeValid: true},
			want:    Reject(CodeNotAuthorized),
		},
		{
			name:    "client reaching drive replicator",
			attempt: Attempt{Local: RoleClient, Remote: RoleReplicator, Peer: repA, Channel: chanX, HandshakeValid: true},
			want:    Decision{Outcome: Limited, Remote: CapabilitiesOf(RoleReplicator)},
		},
		{
			name:    "client reaching unrelated replicator",
			attempt: Attempt{Local: RoleClient, Remote: RoleReplicator, Peer: stranger, Channel: chanX, HandshakeValid: true},
			want:    Reject(CodeNotAuthorized),
		},
		{
			name:    "client to client has no rule",
			attempt: Attempt{Local: RoleClient, Remote: RoleClient, Peer: owner, Channel: chanX, HandshakeValid: true},
			want:    Reject(CodeNotAuthorized),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Decide(context.Background(), tt.attempt))
		})
	}
}

func TestDecide_FlaggedReplicatorIsLimited(t *testing.T) {
	reg := newTestRegistry(t)
	c := New(reg, TrustedReplicators{History: historyFunc(func(p identity.PeerKey) bool { return p != repA })}, nil)

	d := c.Decide(context.Background(), Attempt{
		Local: RoleReplicator, Remote: RoleReplicator, Peer: repA, ClaimedDrive: drive, Channel: chanX, HandshakeValid: true,
	})
	assert.Equal(t, Limited, d.Outcome)

	d = c.Decide(context.Background(), Attempt{
		Local: RoleReplicator, Remote: RoleReplicator, Peer: repB, ClaimedDrive: drive, Channel: chanX, HandshakeValid: true,
	})
	assert.Equal(t, Unlimited, d.Outcome)
}

func TestDecide_PolicyCannotReject(t *testing.T) {
	reg := newTestRegistry(t)
	c := New(reg, PolicyFunc(func(Attempt, channels.Channel) Outcome { return Rejected }), nil)

	d := c.Decide(context.Background(), Attempt{Local: RoleReplicator, Remote: RoleClient, Peer: owner, Channel: chanX, HandshakeValid: true})
	assert.Equal(t, Limited, d.Outcome)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Replicator ")
	require.NoError(t, err)
	assert.Equal(t, RoleReplicator, r)

	_, err = ParseRole("miner")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestLimits(t *testing.T) {
	l, err := LimitsFromMode(LimitCap, 0, 0, 10)
	require.NoError(t, err)
	assert.True(t, l.For(Limited).AllowBytes("s", 10))
	assert.False(t, l.For(Limited).AllowBytes("s", 1))
	assert.True(t, l.For(Unlimited).AllowBytes("s", 1<<40))
	assert.False(t, l.For(Rejected).AllowBytes("s", 1))

	_, err = LimitsFromMode("burst", 0, 0, 0)
	assert.Error(t, err)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "rejected(unknown_channel)", Reject(CodeUnknownChannel).String())
	assert.Equal(t, "unlimited", Decision{Outcome: Unlimited}.String())
}
