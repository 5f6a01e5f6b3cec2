package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
	"github.com/mbd888/driveledger/internal/meter"
	"github.com/mbd888/driveledger/internal/syncutil"
	"github.com/mbd888/driveledger/internal/traces"
)

// Meter is the part of the transfer meter the engine reads.
type Meter interface {
	WithPair(ch channels.ChannelID, peer identity.PeerKey, fn func(meter.Counters) error) error
	Snapshot(ch channels.ChannelID, peer identity.PeerKey) (meter.Counters, error)
}

// SendFunc transmits a freshly signed receipt. Returning an error aborts the
// issue: the receipt is neither recorded nor considered sent.
type SendFunc func(ctx context.Context, r Receipt) error

type latestEntry struct {
	value uint64
	found bool
}

// Engine signs receipts from meter state and verifies inbound ones.
//
// Locking: the per-triple lock is always taken before the meter's pair lock.
type Engine struct {
	self      identity.PeerKey
	signer    identity.Signer
	verifier  identity.Verifier
	meter     Meter
	store     Store
	tolerance uint64
	locks     *syncutil.ContextShardedMutex
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest map[Triple]latestEntry
}

// NewEngine creates an engine acting as signer.PublicKey().
func NewEngine(signer identity.Signer, verifier identity.Verifier, m Meter, store Store, logger *slog.Logger) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		self:     signer.PublicKey(),
		signer:   signer,
		verifier: verifier,
		meter:    m,
		store:    store,
		locks:    syncutil.NewContextShardedMutex(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		latest:   make(map[Triple]latestEntry),
	}
}

// WithTolerance sets how many bytes a receipt may claim beyond the local
// counter, covering bytes still in flight.
func (e *Engine) WithTolerance(bytes uint64) *Engine {
	e.tolerance = bytes
	return e
}

// Self returns the local identity.
func (e *Engine) Self() identity.PeerKey { return e.self }

// Issue signs a receipt for the bytes received from payee on ch.
func (e *Engine) Issue(ctx context.Context, ch channels.ChannelID, payee identity.PeerKey) (Receipt, error) {
	return e.IssueAndSend(ctx, ch, payee, nil)
}

// IssueAndSend reads the received counter, signs, and calls send while the
// meter pair is held, so the signed value is exactly the counter at the
// moment of transmission. Either a fully signed receipt reaches send or
// nothing does.
func (e *Engine) IssueAndSend(ctx context.Context, ch channels.ChannelID, payee identity.PeerKey, send SendFunc) (r Receipt, retErr error) {
	ctx, span := traces.StartSpan(ctx, "receipts.Issue",
		traces.Channel(ch.String()),
		traces.Payee(payee.String()),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	t := Triple{Channel: ch, Payer: e.self, Payee: payee}
	unlock, err := e.locks.LockContext(ctx, t.lockKey()...)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	err = e.meter.WithPair(ch, payee, func(c meter.Counters) error {
		r = Receipt{ChannelID: ch, Payer: e.self, Payee: payee, Downloaded: c.Received}
		sig, err := e.signer.Sign(r.Message())
		if err != nil {
			return fmt.Errorf("receipts: sign: %w", err)
		}
		r.Signature = sig
		if send != nil {
			if err := send(ctx, r); err != nil {
				return fmt.Errorf("receipts: send: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	if err := e.record(ctx, t, r); err != nil {
		// Already signed and sent; the local audit copy is best effort.
		e.logger.Warn("failed to record issued receipt",
			"channel", ch.Short(), "payee", payee.Short(), "error", err)
	}
	issuedTotal.Inc()
	span.SetAttributes(traces.Bytes(r.Downloaded))
	return r, nil
}

// Verify checks signature, monotonicity and plausibility, in that order.
// Accepted receipts become the triple's latest. A non-nil error means the
// receipt could not be judged (unknown channel, store failure), not that it
// was rejected.
func (e *Engine) Verify(ctx context.Context, r Receipt) (v Verdict, retErr error) {
	ctx, span := traces.StartSpan(ctx, "receipts.Verify",
		traces.Channel(r.ChannelID.String()),
		traces.Payer(r.Payer.String()),
		traces.Payee(r.Payee.String()),
		traces.Bytes(r.Downloaded),
	)
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		} else {
			verifiedTotal.WithLabelValues(string(v.Status), string(v.Reason)).Inc()
		}
		span.End()
	}()

	if !e.verifier.Verify(r.Message(), r.Payer, r.Signature) {
		return reject(ReasonBadSignature), nil
	}

	t := r.Triple()
	unlock, err := e.locks.LockContext(ctx, t.lockKey()...)
	if err != nil {
		return Verdict{}, err
	}
	defer unlock()

	prev, err := e.latestFor(ctx, t)
	if err != nil {
		return Verdict{}, err
	}
	v.Previous = prev.value
	if prev.found && r.Downloaded < prev.value {
		v.Status, v.Reason = StatusRejected, ReasonRegression
		return v, nil
	}

	limit, relayed, err := e.plausibilityLimit(r)
	if err != nil {
		return Verdict{}, err
	}
	v.Limit, v.Relayed = limit, relayed
	if !relayed && r.Downloaded > limit {
		v.Status, v.Reason = StatusRejected, ReasonImplausible
		return v, nil
	}

	if !prev.found || r.Downloaded != prev.value {
		if err := e.record(ctx, t, r); err != nil {
			return Verdict{}, fmt.Errorf("receipts: store: %w", err)
		}
	}
	v.Status = StatusAccepted
	return v, nil
}

// plausibilityLimit returns the most a receipt may claim given local
// counters. Receipts between two other peers have no local counterpart.
func (e *Engine) plausibilityLimit(r Receipt) (limit uint64, relayed bool, err error) {
	var c meter.Counters
	switch e.self {
	case r.Payee:
		// We served the payer.
		c, err = e.meter.Snapshot(r.ChannelID, r.Payer)
		return saturatingAdd(c.Sent, e.tolerance), false, err
	case r.Payer:
		// Our own receipt echoed back.
		c, err = e.meter.Snapshot(r.ChannelID, r.Payee)
		return saturatingAdd(c.Received, e.tolerance), false, err
	default:
		return 0, true, nil
	}
}

// Outstanding returns bytes sent to payer on ch that no accepted receipt
// covers yet.
func (e *Engine) Outstanding(ctx context.Context, ch channels.ChannelID, payer identity.PeerKey) (uint64, error) {
	c, err := e.meter.Snapshot(ch, payer)
	if err != nil {
		return 0, err
	}
	prev, err := e.latestFor(ctx, Triple{Channel: ch, Payer: payer, Payee: e.self})
	if err != nil {
		return 0, err
	}
	if prev.value >= c.Sent {
		return 0, nil
	}
	return c.Sent - prev.value, nil
}

// Latest returns the newest accepted receipt for a triple.
func (e *Engine) Latest(ctx context.Context, t Triple) (*Record, error) {
	return e.store.Latest(ctx, t)
}

// History lists receipts for a triple, newest first.
func (e *Engine) History(ctx context.Context, t Triple, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.History(ctx, t, limit)
}

// ChannelCreated retires receipts from an earlier channel with the same id;
// they describe counters the meter has just reset.
func (e *Engine) ChannelCreated(ch channels.Channel) {
	unlock, err := e.locks.LockAll(context.Background())
	if err != nil {
		return
	}
	defer unlock()
	e.forget(ch.ID)
	if err := e.store.SupersedeChannel(context.Background(), ch.ID); err != nil {
		e.logger.Warn("failed to retire receipts of re-created channel",
			"channel", ch.ID.Short(), "error", err)
	}
}

// ChannelClosed drops cached state; stored receipts remain for audit.
func (e *Engine) ChannelClosed(id channels.ChannelID) {
	unlock, err := e.locks.LockAll(context.Background())
	if err != nil {
		return
	}
	defer unlock()
	e.forget(id)
}

// forget must run with every triple lock held, so no in-flight Verify or
// Issue can record into the channel after its cache is cleared.
func (e *Engine) forget(ch channels.ChannelID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for t := range e.latest {
		if t.Channel == ch {
			delete(e.latest, t)
		}
	}
}

func (e *Engine) record(ctx context.Context, t Triple, r Receipt) error {
	if err := e.store.Append(ctx, &Record{Receipt: r, ReceivedAt: e.now()}); err != nil {
		return err
	}
	e.mu.Lock()
	e.latest[t] = latestEntry{value: r.Downloaded, found: true}
	e.mu.Unlock()
	return nil
}

func (e *Engine) latestFor(ctx context.Context, t Triple) (latestEntry, error) {
	e.mu.RLock()
	entry, ok := e.latest[t]
	e.mu.RUnlock()
	if ok {
		return entry, nil
	}

	rec, err := e.store.Latest(ctx, t)
	switch {
	case errors.Is(err, ErrReceiptNotFound):
		entry = latestEntry{}
	case err != nil:
		return latestEntry{}, err
	default:
		entry = latestEntry{value: rec.Downloaded, found: true}
	}

	e.mu.Lock()
	// A concurrent record may have landed while the store was queried.
	if cur, ok := e.latest[t]; ok {
		entry = cur
	} else {
		e.latest[t] = entry
	}
	e.mu.Unlock()
	return entry, nil
}

func reject(reason Reason) Verdict {
	return Verdict{Status: StatusRejected, Reason: reason}
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}
