// Package meter keeps per-(channel, peer) transfer counters.
//
// Counters only grow. Updates for one pair are serialized by that pair's
// lock; different pairs never contend beyond a brief map lookup.
package meter

import (
	"context"
	"errors"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

var (
	ErrUnknownChannel  = errors.New("meter: unknown channel")
	ErrCounterOverflow = errors.New("meter: counter overflow")
)

// Counters are cumulative byte totals for one (channel, peer) pair.
type Counters struct {
	Requested uint64 `json:"requestedBytes"`
	Sent      uint64 `json:"sentBytes"`
	Received  uint64 `json:"receivedBytes"`
}

// Pair identifies one metered relationship.
type Pair struct {
	Channel channels.ChannelID
	Peer    identity.PeerKey
}

// Entry is a pair with its counters, as checkpointed.
type Entry struct {
	Pair     Pair
	Counters Counters
}

// Direction selects which counter a record call updates.
type Direction int

const (
	Requested Direction = iota
	Sent
	Received
)

func (d Direction) String() string {
	switch d {
	case Requested:
		return "requested"
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return "unknown"
	}
}

// ChannelLookup is the part of the registry the meter needs.
type ChannelLookup interface {
	Exists(id channels.ChannelID) bool
}

type pairState struct {
	mu         sync.Mutex
	c          Counters
	dirty      bool
	overflowed bool
}

// Meter owns every TransferCounters value.
type Meter struct {
	channels ChannelLookup
	logger   *slog.Logger

	mu    sync.RWMutex
	pairs map[Pair]*pairState
}

// New creates a meter that validates channels against lookup.
func New(lookup ChannelLookup, logger *slog.Logger) *Meter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		channels: lookup,
		logger:   logger,
		pairs:    make(map[Pair]*pairState),
	}
}

func (m *Meter) RecordRequested(ch channels.ChannelID, peer identity.PeerKey, n uint64) (Counters, error) {
	return m.Record(ch, peer, Requested, n)
}

func (m *Meter) RecordSent(ch channels.ChannelID, peer identity.PeerKey, n uint64) (Counters, error) {
	return m.Record(ch, peer, Sent, n)
}

func (m *Meter) RecordReceived(ch channels.ChannelID, peer identity.PeerKey, n uint64) (Counters, error) {
	return m.Record(ch, peer, Received, n)
}

// Record adds n bytes to one counter and returns the updated counters.
// An unknown channel leaves state untouched and returns ErrUnknownChannel.
// Overflow is sticky: once a pair overflows every later record fails until
// the channel is reset.
func (m *Meter) Record(ch channels.ChannelID, peer identity.PeerKey, dir Direction, n uint64) (Counters, error) {
	st, err := m.state(ch, peer)
	if err != nil {
		unknownChannelTotal.Inc()
		return Counters{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.overflowed {
		return st.c, ErrCounterOverflow
	}
	field := st.field(dir)
	sum, carry := bits.Add64(*field, n, 0)
	if carry != 0 {
		st.overflowed = true
		overflowTotal.Inc()
		m.logger.Error("transfer counter overflow",
			"channel", ch.Short(), "peer", peer.Short(), "direction", dir.String())
		return st.c, ErrCounterOverflow
	}
	*field = sum
	if n > 0 {
		st.dirty = true
		bytesTotal.WithLabelValues(dir.String()).Add(float64(n))
	}
	return st.c, nil
}

// Snapshot returns a consistent copy of a pair's counters.
func (m *Meter) Snapshot(ch channels.ChannelID, peer identity.PeerKey) (Counters, error) {
	var out Counters
	err := m.WithPair(ch, peer, func(c Counters) error {
		out = c
		return nil
	})
	return out, err
}

// WithPair runs fn while holding the pair's lock, so no record call can
// interleave with whatever fn derives from the counters.
func (m *Meter) WithPair(ch channels.ChannelID, peer identity.PeerKey, fn func(Counters) error) error {
	st, err := m.state(ch, peer)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn(st.c)
}

// Totals sums a peer's counters across every channel.
func (m *Meter) Totals(peer identity.PeerKey) Counters {
	m.mu.RLock()
	states := make([]*pairState, 0)
	for p, st := range m.pairs {
		if p.Peer == peer {
			states = append(states, st)
		}
	}
	m.mu.RUnlock()

	var total Counters
	for _, st := range states {
		st.mu.Lock()
		total.Requested = saturatingAdd(total.Requested, st.c.Requested)
		total.Sent = saturatingAdd(total.Sent, st.c.Sent)
		total.Received = saturatingAdd(total.Received, st.c.Received)
		st.mu.Unlock()
	}
	return total
}

// Reset drops all counters of a channel. Only channel re-creation calls it.
func (m *Meter) Reset(ch channels.ChannelID) {
	m.mu.Lock()
	n := 0
	for p := range m.pairs {
		if p.Channel == ch {
			delete(m.pairs, p)
			n++
		}
	}
	m.mu.Unlock()
	if n > 0 {
		m.logger.Info("transfer counters reset", "channel", ch.Short(), "pairs", n)
	}
}

// ChannelCreated resets counters left over from an earlier channel with the
// same id.
func (m *Meter) ChannelCreated(ch channels.Channel) {
	m.Reset(ch.ID)
}

// ChannelClosed keeps counters; they outlive the channel until re-creation.
func (m *Meter) ChannelClosed(channels.ChannelID) {}

// Restore loads checkpointed counters. Existing pairs are not overwritten.
func (m *Meter) Restore(ctx context.Context, store Store) error {
	entries, err := store.Load(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.pairs[e.Pair]; ok {
			continue
		}
		m.pairs[e.Pair] = &pairState{c: e.Counters}
	}
	m.logger.Info("transfer counters restored", "pairs", len(entries))
	return nil
}

// TakeDirty returns the pairs changed since the previous call and clears
// their dirty mark.
func (m *Meter) TakeDirty() []Entry {
	m.mu.RLock()
	pairs := make([]Pair, 0, len(m.pairs))
	states := make([]*pairState, 0, len(m.pairs))
	for p, st := range m.pairs {
		pairs = append(pairs, p)
		states = append(states, st)
	}
	m.mu.RUnlock()

	var out []Entry
	for i, st := range states {
		st.mu.Lock()
		if st.dirty {
			out = append(out, Entry{Pair: pairs[i], Counters: st.c})
			st.dirty = false
		}
		st.mu.Unlock()
	}
	return out
}

// MarkDirty flags pairs whose checkpoint failed so the next flush retries.
func (m *Meter) MarkDirty(entries []Entry) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range entries {
		if st, ok := m.pairs[e.Pair]; ok {
			st.mu.Lock()
			st.dirty = true
			st.mu.Unlock()
		}
	}
}

func (m *Meter) state(ch channels.ChannelID, peer identity.PeerKey) (*pairState, error) {
	if m.channels != nil && !m.channels.Exists(ch) {
		return nil, ErrUnknownChannel
	}
	key := Pair{Channel: ch, Peer: peer}

	m.mu.RLock()
	st, ok := m.pairs[key]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.pairs[key]; ok {
		return st, nil
	}
	st = &pairState{}
	m.pairs[key] = st
	return st, nil
}

func (st *pairState) field(dir Direction) *uint64 {
	switch dir {
	case Sent:
		return &st.c.Sent
	case Received:
		return &st.c.Received
	default:
		return &st.c.Requested
	}
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}
