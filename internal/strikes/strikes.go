// Package strikes counts protocol violations per peer and escalates when a
// peer keeps misbehaving.
//
// Each (peer, kind) pair keeps a strike count. The count decays to zero once
// a full window passes without a new strike. When the count reaches the
// kind's threshold the pair trips; a kind with no threshold is only flagged.
package strikes

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbd888/driveledger/internal/identity"
)

// Kind names a class of violation.
type Kind string

const (
	BadHandshake Kind = "bad_handshake"
	BadSignature Kind = "bad_signature"
	Regression   Kind = "regression"
	Implausible  Kind = "implausible"
	Overflow     Kind = "overflow"
)

// State is a peer's standing for one kind.
type State int

const (
	StateClean   State = iota // no strikes inside the window
	StateFlagged              // strikes below threshold
	StateTripped              // threshold reached
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateFlagged:
		return "flagged"
	case StateTripped:
		return "tripped"
	default:
		return "unknown"
	}
}

var (
	strikesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "strikes",
		Name:      "recorded_total",
		Help:      "Protocol violations recorded by kind.",
	}, []string{"kind"})

	tripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "driveledger",
		Subsystem: "strikes",
		Name:      "trips_total",
		Help:      "Peers that reached a kind's strike threshold.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(strikesTotal, tripsTotal)
}

type key struct {
	peer identity.PeerKey
	kind Kind
}

type entry struct {
	count      int
	lastStrike time.Time
}

// Ledger tracks strikes for every peer.
type Ledger struct {
	mu         sync.Mutex
	entries    map[key]*entry
	thresholds map[Kind]int
	window     time.Duration
	now        func() time.Time
	onTrip     func(peer identity.PeerKey, kind Kind, count int)
}

// New creates a ledger. thresholds maps a kind to the strike count that
// trips it; kinds absent from the map never trip.
func New(window time.Duration, thresholds map[Kind]int) *Ledger {
	if window <= 0 {
		window = 10 * time.Minute
	}
	t := make(map[Kind]int, len(thresholds))
	for k, v := range thresholds {
		if v > 0 {
			t[k] = v
		}
	}
	return &Ledger{
		entries:    make(map[key]*entry),
		thresholds: t,
		window:     window,
		now:        time.Now,
	}
}

// OnTrip sets a callback invoked, on its own goroutine, when a pair trips.
func (l *Ledger) OnTrip(fn func(peer identity.PeerKey, kind Kind, count int)) {
	l.mu.Lock()
	l.onTrip = fn
	l.mu.Unlock()
}

// Record adds a strike and reports the resulting count and whether the
// pair is now tripped.
func (l *Ledger) Record(peer identity.PeerKey, kind Kind) (count int, tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{peer: peer, kind: kind}
	e, ok := l.entries[k]
	if !ok {
		e = &entry{}
		l.entries[k] = e
	}
	if l.expired(e, now) {
		e.count = 0
	}
	e.count++
	e.lastStrike = now
	strikesTotal.WithLabelValues(string(kind)).Inc()

	threshold, ok := l.thresholds[kind]
	if !ok || e.count < threshold {
		return e.count, false
	}
	if e.count == threshold {
		tripsTotal.WithLabelValues(string(kind)).Inc()
		if l.onTrip != nil {
			fn, n := l.onTrip, e.count
			go fn(peer, kind, n)
		}
	}
	return e.count, true
}

// State returns the peer's standing for kind.
func (l *Ledger) State(peer identity.PeerKey, kind Kind) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key{peer: peer, kind: kind}]
	if !ok || e.count == 0 || l.expired(e, l.now()) {
		return StateClean
	}
	if threshold, ok := l.thresholds[kind]; ok && e.count >= threshold {
		return StateTripped
	}
	return StateFlagged
}

// Clean reports whether the peer has no live strikes of any kind.
func (l *Ledger) Clean(peer identity.PeerKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.entries {
		if k.peer == peer && e.count > 0 && !l.expired(e, now) {
			return false
		}
	}
	return true
}

// Forgive clears every strike of a peer.
func (l *Ledger) Forgive(peer identity.PeerKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.entries {
		if k.peer == peer {
			delete(l.entries, k)
		}
	}
}

// Sweep drops decayed entries. Returns how many were removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for k, e := range l.entries {
		if l.expired(e, now) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

// Caller must hold l.mu.
func (l *Ledger) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastStrike) >= l.window
}
