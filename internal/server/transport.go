package server

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/mbd888/driveledger/internal/admission"
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/receipts"
	"github.com/mbd888/driveledger/internal/session"
)

// detachedTransport stands in when no piece-exchange layer is attached.
// Every outbound action is logged and counted; nothing leaves the process.
type detachedTransport struct {
	logger   *slog.Logger
	admits   atomic.Int64
	receipts atomic.Int64
	closes   atomic.Int64
}

var (
	_ session.Transport = (*detachedTransport)(nil)
	_ session.Penalizer = (*detachedTransport)(nil)
)

func newDetachedTransport(logger *slog.Logger) *detachedTransport {
	return &detachedTransport{logger: logger.With("component", "transport")}
}

func (t *detachedTransport) Admit(peer identity.PeerKey, ch channels.ChannelID, d admission.Decision) {
	t.admits.Add(1)
	t.logger.Debug("admit", "peer", peer.Short(), "channel", ch.Short(), "decision", d.String())
}

func (t *detachedTransport) SendReceipt(_ context.Context, peer identity.PeerKey, r receipts.Receipt) error {
	t.receipts.Add(1)
	t.logger.Debug("receipt", "peer", peer.Short(), "channel", r.ChannelID.Short(), "downloaded", r.Downloaded)
	return nil
}

func (t *detachedTransport) CloseConnection(peer identity.PeerKey, code session.CloseCode) {
	t.closes.Add(1)
	t.logger.Info("close connection", "peer", peer.Short(), "code", string(code))
}

func (t *detachedTransport) Penalize(peer identity.PeerKey, code session.CloseCode) {
	t.logger.Warn("penalize peer", "peer", peer.Short(), "code", string(code))
}
