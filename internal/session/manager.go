package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/driveledger/internal/admission"
	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/handshake"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/logging"
	"github.com/mbd888/driveledger/internal/meter"
	"github.com/mbd888/driveledger/internal/metrics"
	"github.com/mbd888/driveledger/internal/realtime"
	"github.com/mbd888/driveledger/internal/receipts"
	"github.com/mbd888/driveledger/internal/strikes"
)

// Deps are the components a Manager drives.
type Deps struct {
	Registry  *channels.Registry
	Meter     *meter.Meter
	Receipts  *receipts.Engine
	Admission *admission.Controller
	Auth      *handshake.Authenticator
	Limits    admission.Limits
	Strikes   *strikes.Ledger
	Transport Transport
	Hub       *realtime.Hub
	Logger    *slog.Logger
}

type channelState struct {
	decision     admission.Decision
	sinceReceipt uint64
	lastIssued   uint64
	lastIssueAt  time.Time
	lastReceipt  *receipts.Receipt
	regressions  int
}

// Session is one peer connection. It owns no counters; those live in the
// meter and outlive the session.
type Session struct {
	peer     identity.PeerKey
	logger   *slog.Logger
	openedAt time.Time

	mu       sync.Mutex
	role     admission.Role
	state    State
	decision admission.Decision
	channels map[channels.ChannelID]*channelState
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Info{
		Peer:     s.peer,
		Role:     s.role.String(),
		State:    s.state,
		Outcome:  s.decision.Outcome.String(),
		OpenedAt: s.openedAt,
		Channels: make([]ChannelInfo, 0, len(s.channels)),
	}
	for id, st := range s.channels {
		ci := ChannelInfo{
			Channel:     id,
			Outcome:     st.decision.Outcome.String(),
			LastIssued:  st.lastIssued,
			Regressions: st.regressions,
		}
		if st.lastReceipt != nil {
			r := *st.lastReceipt
			ci.LastReceipt = &r
		}
		out.Channels = append(out.Channels, ci)
	}
	sort.Slice(out.Channels, func(i, j int) bool {
		return identity.PeerKey(out.Channels[i].Channel).Compare(identity.PeerKey(out.Channels[j].Channel)) < 0
	})
	return out
}

// Manager owns every Session and answers transport events.
type Manager struct {
	cfg       Config
	registry  *channels.Registry
	meter     *meter.Meter
	receipts  *receipts.Engine
	admission *admission.Controller
	auth      *handshake.Authenticator
	limits    admission.Limits
	strikes   *strikes.Ledger
	transport Transport
	hub       *realtime.Hub
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[identity.PeerKey]*Session

	stopped atomic.Bool
	running atomic.Bool
	stop    chan struct{}
}

// NewManager creates a manager. The caller subscribes it, after the meter
// and receipt engine, to the registry's lifecycle events.
func NewManager(cfg Config, d Deps) *Manager {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if cfg.ReceiptInterval <= 0 {
		cfg.ReceiptInterval = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	return &Manager{
		cfg:       cfg,
		registry:  d.Registry,
		meter:     d.Meter,
		receipts:  d.Receipts,
		admission: d.Admission,
		auth:      d.Auth,
		limits:    d.Limits,
		strikes:   d.Strikes,
		transport: d.Transport,
		hub:       d.Hub,
		logger:    d.Logger,
		now:       time.Now,
		sessions:  make(map[identity.PeerKey]*Session),
		stop:      make(chan struct{}),
	}
}

// Challenge opens a session for peer in HandshakePending and returns the
// challenge the transport must send it.
func (m *Manager) Challenge(peer identity.PeerKey) ([]byte, error) {
	if m.stopped.Load() {
		return nil, ErrStopped
	}
	c, err := m.auth.Challenge(peer)
	if err != nil {
		return nil, err
	}
	s := m.getOrCreate(peer)
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateHandshakePending
	}
	s.mu.Unlock()
	return c, nil
}

// OnConnectionAttempt verifies the handshake, asks admission for a decision
// and enforces it. Every attempt gets an explicit Admit callback. A
// rejection drops the channel from the session; a bad handshake, or a
// rejection that leaves no admitted channel, tears the connection down.
func (m *Manager) OnConnectionAttempt(ctx context.Context, a Attempt) admission.Decision {
	if m.stopped.Load() {
		d := admission.Reject(admission.CodeShuttingDown)
		m.transport.Admit(a.Peer, a.Channel, d)
		m.transport.CloseConnection(a.Peer, CloseShutdown)
		return d
	}

	s := m.getOrCreate(a.Peer)
	s.mu.Lock()
	if s.state == StateConnecting {
		s.state = StateHandshakePending
	}
	s.mu.Unlock()

	result := m.auth.Verify(a.Peer, a.Channel, a.Handshake)
	if result != handshake.Valid {
		m.strikes.Record(a.Peer, strikes.BadHandshake)
		m.logger.Warn("handshake failed", "peer", a.Peer.Short(), "result", string(result))
	}

	d := m.admission.Decide(ctx, admission.Attempt{
		Local:          m.cfg.LocalRole,
		Remote:         a.Role,
		Peer:           a.Peer,
		Channel:        a.Channel,
		ClaimedDrive:   a.ClaimedDrive,
		HandshakeValid: result == handshake.Valid,
	})
	m.transport.Admit(a.Peer, a.Channel, d)

	if !d.Admitted() {
		m.hub.Publish(realtime.EventRejected, map[string]interface{}{
			"peer":    a.Peer.String(),
			"channel": a.Channel.String(),
			"code":    string(d.Code),
		})
		// A rejection revokes any earlier admission on this channel. A bad
		// handshake ends the whole connection.
		s.mu.Lock()
		_, had := s.channels[a.Channel]
		delete(s.channels, a.Channel)
		closeAll := len(s.channels) == 0 || d.Code == admission.CodeBadHandshake
		if closeAll && !s.decision.Admitted() {
			s.state = StateRejected
		}
		s.mu.Unlock()
		if had {
			m.limits.For(admission.Limited).Release(bandwidthKey(a.Peer, a.Channel))
		}
		if closeAll {
			m.closeSession(s, closeCodeFor(d.Code))
		} else if had {
			m.checkIdle(a.Channel)
		}
		return d
	}

	s.mu.Lock()
	prev := s.decision
	s.role = a.Role
	s.decision = d
	if st, ok := s.channels[a.Channel]; ok {
		st.decision = d
	} else {
		s.channels[a.Channel] = &channelState{decision: d, lastIssueAt: m.now()}
	}
	if s.state < StateAdmitted || s.state == StateRejected {
		s.state = StateAdmitted
	}
	s.mu.Unlock()

	if prev.Outcome != d.Outcome || prev.Outcome == admission.Rejected {
		if prev.Admitted() {
			metrics.ActiveSessions.WithLabelValues(prev.Outcome.String()).Dec()
		}
		metrics.ActiveSessions.WithLabelValues(d.Outcome.String()).Inc()
	}
	m.hub.Publish(realtime.EventAdmitted, map[string]interface{}{
		"peer":    a.Peer.String(),
		"channel": a.Channel.String(),
		"outcome": d.Outcome.String(),
	})
	logging.WithChannel(logging.WithPeer(m.logger, a.Peer), a.Channel).
		Info("connection admitted", "outcome", d.Outcome.String(), "role", a.Role.String())
	return d
}

// OnPieceRequested records that we asked peer for bytes. The peer must be
// able to serve.
func (m *Manager) OnPieceRequested(ch channels.ChannelID, peer identity.PeerKey, bytes uint64) error {
	_, st, err := m.admitted(peer, ch)
	if err != nil {
		return err
	}
	if !st.decision.Remote.CanServe {
		return ErrNotPermitted
	}
	m.logger.Debug("piece requested", "peer", peer.Short(), "channel", ch.Short(), "bytes", bytes)
	return nil
}

// OnPieceRequestReceived decides whether to serve a piece peer asked for.
// A nil return means serve. Refusals are not fatal; the peer may retry
// after sending a fresh receipt or once bandwidth frees up.
func (m *Manager) OnPieceRequestReceived(ctx context.Context, ch channels.ChannelID, peer identity.PeerKey, bytes uint64) error {
	s, st, err := m.admitted(peer, ch)
	if err != nil {
		metrics.PieceRequestsRefusedTotal.WithLabelValues("not_admitted").Inc()
		return err
	}
	if !st.decision.Remote.CanConsume {
		metrics.PieceRequestsRefusedTotal.WithLabelValues("not_permitted").Inc()
		return ErrNotPermitted
	}
	if _, err := m.meter.RecordRequested(ch, peer, bytes); err != nil {
		return m.meterError(s, ch, err)
	}

	if m.cfg.MaxUnreceiptedBytes > 0 {
		debt, err := m.receipts.Outstanding(ctx, ch, peer)
		if err != nil {
			return err
		}
		if debt+bytes > m.cfg.MaxUnreceiptedBytes || debt+bytes < debt {
			metrics.PieceRequestsRefusedTotal.WithLabelValues(string(CloseReceiptDebt)).Inc()
			m.logger.Debug("piece refused for receipt debt",
				"peer", peer.Short(), "channel", ch.Short(), "debt", debt, "bytes", bytes)
			return ErrReceiptDebt
		}
	}

	if !m.limits.For(st.decision.Outcome).AllowBytes(bandwidthKey(peer, ch), bytes) {
		metrics.PieceRequestsRefusedTotal.WithLabelValues("bandwidth").Inc()
		return ErrBandwidthLimited
	}
	return nil
}

// OnPieceSent meters bytes served to peer.
func (m *Manager) OnPieceSent(ch channels.ChannelID, peer identity.PeerKey, bytes uint64) error {
	s, _, err := m.admitted(peer, ch)
	if err != nil {
		return err
	}
	m.markExchanging(s)
	if _, err := m.meter.RecordSent(ch, peer, bytes); err != nil {
		return m.meterError(s, ch, err)
	}
	return nil
}

// OnPieceReceived meters bytes received from peer and issues a receipt once
// the byte threshold is crossed.
func (m *Manager) OnPieceReceived(ctx context.Context, ch channels.ChannelID, peer identity.PeerKey, bytes uint64) error {
	s, st, err := m.admitted(peer, ch)
	if err != nil {
		return err
	}
	m.markExchanging(s)
	if _, err := m.meter.RecordReceived(ch, peer, bytes); err != nil {
		return m.meterError(s, ch, err)
	}

	s.mu.Lock()
	st.sinceReceipt += bytes
	due := m.cfg.ReceiptEveryBytes > 0 && st.sinceReceipt >= m.cfg.ReceiptEveryBytes
	if due {
		st.sinceReceipt = 0
	}
	s.mu.Unlock()

	if due {
		if err := m.issue(ctx, s, ch); err != nil {
			m.logger.Warn("failed to issue receipt", "peer", peer.Short(), "channel", ch.Short(), "error", err)
		}
	}
	return nil
}

// OnReceiptReceived verifies a receipt delivered by peer and escalates on
// violations. Rejected receipts are returned as verdicts, not errors.
func (m *Manager) OnReceiptReceived(ctx context.Context, peer identity.PeerKey, r receipts.Receipt) (receipts.Verdict, error) {
	s, st, err := m.admitted(peer, r.ChannelID)
	if err != nil {
		return receipts.Verdict{}, err
	}

	v, err := m.receipts.Verify(ctx, r)
	if err != nil {
		if errors.Is(err, meter.ErrUnknownChannel) {
			return receipts.Verdict{}, m.meterError(s, r.ChannelID, err)
		}
		return receipts.Verdict{}, err
	}

	event := map[string]interface{}{
		"peer":       peer.String(),
		"channel":    r.ChannelID.String(),
		"payer":      r.Payer.String(),
		"payee":      r.Payee.String(),
		"downloaded": r.Downloaded,
		"relayed":    v.Relayed,
	}
	log := logging.WithChannel(logging.WithPeer(m.logger, peer), r.ChannelID)

	if v.Accepted() {
		s.mu.Lock()
		rc := r
		st.lastReceipt = &rc
		s.mu.Unlock()
		m.hub.Publish(realtime.EventReceiptAccepted, event)
		log.Debug("receipt accepted", "downloaded", r.Downloaded, "relayed", v.Relayed)
		if r.Payee == m.receipts.Self() && r.Payer == peer {
			m.relay(ctx, peer, r)
		}
		return v, nil
	}

	event["reason"] = string(v.Reason)
	m.hub.Publish(realtime.EventReceiptRejected, event)

	switch v.Reason {
	case receipts.ReasonBadSignature:
		m.strikes.Record(peer, strikes.BadSignature)
		log.Warn("receipt signature invalid; discarded")
	case receipts.ReasonRegression:
		m.strikes.Record(peer, strikes.Regression)
		s.mu.Lock()
		st.regressions++
		over := st.regressions > m.cfg.RegressionTolerance
		s.mu.Unlock()
		log.Warn("receipt regressed", "downloaded", r.Downloaded, "previous", v.Previous)
		if over {
			m.closeSession(s, CloseRegression)
		}
	case receipts.ReasonImplausible:
		_, tripped := m.strikes.Record(peer, strikes.Implausible)
		log.Warn("receipt implausible; discarded", "downloaded", r.Downloaded, "limit", v.Limit)
		if tripped {
			m.closeSession(s, CloseImplausible)
		}
	}
	return v, nil
}

// OnDisconnected drops one channel from peer's connection. The session ends
// when no channel is left.
func (m *Manager) OnDisconnected(ch channels.ChannelID, peer identity.PeerKey, reason CloseCode) {
	s := m.get(peer)
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.channels, ch)
	empty := len(s.channels) == 0
	s.mu.Unlock()
	m.limits.For(admission.Limited).Release(bandwidthKey(peer, ch))

	if reason == CloseNone {
		reason = CloseRemote
	}
	if empty {
		m.finish(s, reason, false)
	}
	m.checkIdle(ch)
}

// Close tears down peer's connection with code.
func (m *Manager) Close(peer identity.PeerKey, code CloseCode) error {
	s := m.get(peer)
	if s == nil {
		return ErrNoSession
	}
	m.closeSession(s, code)
	return nil
}

// Stop closes every session and rejects later attempts.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stop)
	for _, s := range m.all() {
		m.closeSession(s, CloseShutdown)
	}
	m.logger.Info("session manager stopped")
}

// Start runs the periodic receipt and sweep loop until ctx is done or Stop
// is called.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	defer m.running.Store(false)

	ticker := time.NewTicker(m.cfg.ReceiptInterval)
	defer ticker.Stop()

	m.logger.Info("session worker started", "interval", m.cfg.ReceiptInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.safeTick(ctx)
		}
	}
}

// Running reports whether the worker loop is active.
func (m *Manager) Running() bool { return m.running.Load() }

func (m *Manager) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic in session tick", "panic", fmt.Sprint(r))
		}
	}()
	m.Tick(ctx)
}

// Tick issues receipts for bytes left unreceipted longer than the receipt
// interval and drops sessions whose handshake never arrived.
func (m *Manager) Tick(ctx context.Context) {
	now := m.now()
	for _, s := range m.all() {
		s.mu.Lock()
		state := s.state
		stale := (state == StateConnecting || state == StateHandshakePending) &&
			now.Sub(s.openedAt) > m.cfg.HandshakeTimeout
		var due []channels.ChannelID
		for id, st := range s.channels {
			if now.Sub(st.lastIssueAt) >= m.cfg.ReceiptInterval {
				due = append(due, id)
			}
		}
		s.mu.Unlock()

		if stale {
			m.closeSession(s, CloseHandshakeTimeout)
			continue
		}
		for _, ch := range due {
			c, err := m.meter.Snapshot(ch, s.peer)
			if err != nil {
				continue
			}
			s.mu.Lock()
			st, ok := s.channels[ch]
			pending := ok && c.Received > st.lastIssued
			if pending {
				st.sinceReceipt = 0
			}
			s.mu.Unlock()
			if !pending {
				continue
			}
			if err := m.issue(ctx, s, ch); err != nil {
				s.logger.Warn("failed to issue periodic receipt", "channel", ch.Short(), "error", err)
			}
		}
	}
	m.auth.Sweep()
	m.strikes.Sweep()
}

// Stopped reports whether Stop was called.
func (m *Manager) Stopped() bool { return m.stopped.Load() }

// RequestedSize is the total bytes peer requested from us across channels.
func (m *Manager) RequestedSize(peer identity.PeerKey) uint64 {
	return m.meter.Totals(peer).Requested
}

// ReceivedSize is the total bytes we received from peer across channels.
func (m *Manager) ReceivedSize(peer identity.PeerKey) uint64 {
	return m.meter.Totals(peer).Received
}

// Sessions lists open sessions in peer key order.
func (m *Manager) Sessions() []Info {
	all := m.all()
	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.Compare(out[j].Peer) < 0 })
	return out
}

// Session returns one session's view.
func (m *Manager) Session(peer identity.PeerKey) (Info, bool) {
	s := m.get(peer)
	if s == nil {
		return Info{}, false
	}
	return s.info(), true
}

// ChannelCreated is a no-op; sessions bind channels through admission.
func (m *Manager) ChannelCreated(channels.Channel) {}

// ChannelClosed drops the channel from every session and closes sessions
// left without channels.
func (m *Manager) ChannelClosed(ch channels.ChannelID) {
	for _, s := range m.all() {
		s.mu.Lock()
		_, had := s.channels[ch]
		delete(s.channels, ch)
		empty := had && len(s.channels) == 0
		s.mu.Unlock()
		if had {
			m.limits.For(admission.Limited).Release(bandwidthKey(s.peer, ch))
		}
		if empty {
			m.closeSession(s, CloseChannelClosed)
		}
	}
	m.checkIdle(ch)
}

// issue signs and sends a receipt for bytes received from the session's peer.
func (m *Manager) issue(ctx context.Context, s *Session, ch channels.ChannelID) error {
	r, err := m.receipts.IssueAndSend(ctx, ch, s.peer, func(ctx context.Context, r receipts.Receipt) error {
		return m.transport.SendReceipt(ctx, s.peer, r)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	if st, ok := s.channels[ch]; ok {
		if r.Downloaded > st.lastIssued {
			st.lastIssued = r.Downloaded
		}
		st.lastIssueAt = m.now()
	}
	s.mu.Unlock()
	m.hub.Publish(realtime.EventReceiptIssued, map[string]interface{}{
		"peer":       s.peer.String(),
		"channel":    ch.String(),
		"payer":      r.Payer.String(),
		"payee":      r.Payee.String(),
		"downloaded": r.Downloaded,
	})
	return nil
}

// relay forwards a receipt we accepted as payee to the other replicators of
// the channel's drive.
func (m *Manager) relay(ctx context.Context, from identity.PeerKey, r receipts.Receipt) {
	relayer, ok := m.transport.(Relayer)
	if !ok || m.cfg.LocalRole != admission.RoleReplicator {
		return
	}
	ch, err := m.registry.Lookup(r.ChannelID)
	if err != nil {
		return
	}
	self := m.receipts.Self()
	for _, to := range m.registry.DriveReplicators(ch.Drive) {
		if to == self || to == from {
			continue
		}
		if err := relayer.RelayReceipt(ctx, to, r); err != nil {
			m.logger.Warn("failed to relay receipt", "to", to.Short(), "channel", r.ChannelID.Short(), "error", err)
		}
	}
}

// meterError turns a metering failure into the session's response:
// overflow is fatal, an unknown channel is reported upward.
func (m *Manager) meterError(s *Session, ch channels.ChannelID, err error) error {
	if errors.Is(err, meter.ErrCounterOverflow) {
		m.strikes.Record(s.peer, strikes.Overflow)
		m.closeSession(s, CloseCounterOverflow)
	}
	return fmt.Errorf("session: channel %s: %w", ch.Short(), err)
}

func (m *Manager) admitted(peer identity.PeerKey, ch channels.ChannelID) (*Session, *channelState, error) {
	s := m.get(peer)
	if s == nil {
		return nil, nil, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[ch]
	if !ok || !st.decision.Admitted() || s.state >= StateClosing {
		return nil, nil, ErrNotAdmitted
	}
	return s, st, nil
}

func (m *Manager) markExchanging(s *Session) {
	s.mu.Lock()
	if s.state == StateAdmitted {
		s.state = StateExchanging
	}
	s.mu.Unlock()
}

func (m *Manager) closeSession(s *Session, code CloseCode) {
	m.finish(s, code, true)
}

// finish moves a session through Closing to Closed exactly once.
func (m *Manager) finish(s *Session, code CloseCode, notifyTransport bool) {
	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		return
	}
	wasAdmitted := s.decision.Admitted() && s.state != StateRejected
	outcome := s.decision.Outcome
	s.state = StateClosing
	chans := make([]channels.ChannelID, 0, len(s.channels))
	for id := range s.channels {
		chans = append(chans, id)
	}
	s.channels = make(map[channels.ChannelID]*channelState)
	s.mu.Unlock()

	if notifyTransport {
		m.transport.CloseConnection(s.peer, code)
	}
	if code.Violation() {
		if p, ok := m.transport.(Penalizer); ok {
			p.Penalize(s.peer, code)
		}
	}
	for _, ch := range chans {
		m.limits.For(admission.Limited).Release(bandwidthKey(s.peer, ch))
	}

	m.mu.Lock()
	if m.sessions[s.peer] == s {
		delete(m.sessions, s.peer)
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	if wasAdmitted {
		metrics.ActiveSessions.WithLabelValues(outcome.String()).Dec()
	}
	metrics.SessionsClosedTotal.WithLabelValues(string(code)).Inc()
	m.hub.Publish(realtime.EventSessionClosed, map[string]interface{}{
		"peer": s.peer.String(),
		"code": string(code),
	})
	if code.Violation() {
		s.logger.Error("session closed for violation", "code", string(code))
	} else {
		s.logger.Info("session closed", "code", string(code))
	}
	for _, ch := range chans {
		m.checkIdle(ch)
	}
}

// checkIdle publishes channel_idle when no session references ch.
func (m *Manager) checkIdle(ch channels.ChannelID) {
	for _, s := range m.all() {
		s.mu.Lock()
		_, ok := s.channels[ch]
		s.mu.Unlock()
		if ok {
			return
		}
	}
	m.hub.Publish(realtime.EventChannelIdle, map[string]interface{}{"channel": ch.String()})
	m.logger.Debug("channel idle", "channel", ch.Short())
}

func (m *Manager) get(peer identity.PeerKey) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[peer]
}

func (m *Manager) getOrCreate(peer identity.PeerKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s
	}
	s := &Session{
		peer:     peer,
		logger:   logging.WithPeer(m.logger, peer),
		openedAt: m.now(),
		state:    StateConnecting,
		channels: make(map[channels.ChannelID]*channelState),
	}
	m.sessions[peer] = s
	return s
}

func (m *Manager) all() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func bandwidthKey(peer identity.PeerKey, ch channels.ChannelID) string {
	return peer.String() + "/" + ch.String()
}
