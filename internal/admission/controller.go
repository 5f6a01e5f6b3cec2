package admission

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/traces"
)

// Registry is the read-only channel view admission needs.
type Registry interface {
	Lookup(id channels.ChannelID) (channels.Channel, error)
	IsDriveReplicator(drive, peer identity.PeerKey) bool
}

// Controller evaluates connection attempts. It has no side effects beyond
// logging and metrics; the session enforces the decision.
type Controller struct {
	registry Registry
	policy   Policy
	logger   *slog.Logger
}

// New creates a controller. A nil policy grades everything Limited.
func New(registry Registry, policy Policy, logger *slog.Logger) *Controller {
	if policy == nil {
		policy = AlwaysLimited
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{registry: registry, policy: policy, logger: logger}
}

// Decide runs the attempt through handshake, channel and role checks, then
// asks the policy for a grade.
func (c *Controller) Decide(ctx context.Context, a Attempt) Decision {
	_, span := traces.StartSpan(ctx, "admission.Decide",
		traces.Channel(a.Channel.String()),
		traces.Peer(a.Peer.String()),
		traces.Role(a.Remote.String()),
	)
	d := c.decide(a)
	span.SetAttributes(
		attribute.String("admission.outcome", d.Outcome.String()),
		attribute.String("admission.code", string(d.Code)),
	)
	span.End()

	decisionsTotal.WithLabelValues(d.Outcome.String(), string(d.Code)).Inc()
	if !d.Admitted() {
		c.logger.Warn("connection rejected",
			"peer", a.Peer.Short(), "channel", a.Channel.Short(),
			"local", a.Local.String(), "remote", a.Remote.String(), "code", string(d.Code))
	} else {
		c.logger.Debug("connection admitted",
			"peer", a.Peer.Short(), "channel", a.Channel.Short(), "outcome", d.Outcome.String())
	}
	return d
}

func (c *Controller) decide(a Attempt) Decision {
	if !a.HandshakeValid {
		return Reject(CodeBadHandshake)
	}
	ch, err := c.registry.Lookup(a.Channel)
	if err != nil {
		if !errors.Is(err, channels.ErrChannelNotFound) {
			c.logger.Error("channel lookup failed", "channel", a.Channel.Short(), "error", err)
		}
		return Reject(CodeUnknownChannel)
	}
	r, ok := rules[link{local: a.Local, remote: a.Remote}]
	if !ok {
		return Reject(CodeNotAuthorized)
	}
	if code := r(c.registry, ch, a); code != CodeNone {
		return Reject(code)
	}

	outcome := c.policy.Grade(a, ch)
	if outcome != Unlimited {
		outcome = Limited
	}
	return Decision{Outcome: outcome, Remote: CapabilitiesOf(a.Remote)}
}
