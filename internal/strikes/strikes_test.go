package strikes

import (
	"sync"
	"testing"
	"time"

	"github.com/mbd888/driveledger/internal/identity"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(thresholds map[Kind]int) (*Ledger, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	l := New(time.Minute, thresholds)
	l.now = c.now
	return l, c
}

var peerA = identity.PeerKey{0xAA}

func TestLedger_CleanByDefault(t *testing.T) {
	l, _ := newTestLedger(nil)
	if !l.Clean(peerA) {
		t.Fatal("expected unknown peer to be clean")
	}
	if l.State(peerA, Implausible) != StateClean {
		t.Fatalf("expected clean, got %v", l.State(peerA, Implausible))
	}
}

func TestLedger_TripsAtThreshold(t *testing.T) {
	l, _ := newTestLedger(map[Kind]int{Implausible: 3})

	for i := 1; i <= 2; i++ {
		n, tripped := l.Record(peerA, Implausible)
		if n != i || tripped {
			t.Fatalf("strike %d: count=%d tripped=%v", i, n, tripped)
		}
	}
	if l.State(peerA, Implausible) != StateFlagged {
		t.Fatalf("expected flagged, got %v", l.State(peerA, Implausible))
	}

	if _, tripped := l.Record(peerA, Implausible); !tripped {
		t.Fatal("expected third strike to trip")
	}
	if l.State(peerA, Implausible) != StateTripped {
		t.Fatalf("expected tripped, got %v", l.State(peerA, Implausible))
	}
}

func TestLedger_KindWithoutThresholdOnlyFlags(t *testing.T) {
	l, _ := newTestLedger(map[Kind]int{Implausible: 1})

	for i := 0; i < 10; i++ {
		if _, tripped := l.Record(peerA, BadSignature); tripped {
			t.Fatal("bad signatures must never trip")
		}
	}
	if l.Clean(peerA) {
		t.Fatal("flagged peer is not clean")
	}
}

func TestLedger_WindowDecay(t *testing.T) {
	l, c := newTestLedger(map[Kind]int{Implausible: 2})

	l.Record(peerA, Implausible)
	c.advance(2 * time.Minute)

	if !l.Clean(peerA) {
		t.Fatal("expected strike to decay")
	}
	if n, tripped := l.Record(peerA, Implausible); n != 1 || tripped {
		t.Fatalf("expected count to restart, got %d tripped=%v", n, tripped)
	}
	if removed := l.Sweep(); removed != 0 {
		t.Fatalf("expected live entry to survive sweep, removed %d", removed)
	}
	c.advance(2 * time.Minute)
	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 decayed entry removed, got %d", removed)
	}
}

func TestLedger_OnTripFiresOnce(t *testing.T) {
	l, _ := newTestLedger(map[Kind]int{Regression: 1})

	fired := make(chan Kind, 4)
	l.OnTrip(func(_ identity.PeerKey, kind Kind, _ int) { fired <- kind })

	l.Record(peerA, Regression)
	l.Record(peerA, Regression)

	select {
	case k := <-fired:
		if k != Regression {
			t.Fatalf("unexpected kind %s", k)
		}
	case <-time.After(time.Second):
		t.Fatal("expected trip callback")
	}
	select {
	case <-fired:
		t.Fatal("callback fired twice")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestLedger_Forgive(t *testing.T) {
	l, _ := newTestLedger(map[Kind]int{Implausible: 1})
	l.Record(peerA, Implausible)
	l.Forgive(peerA)
	if !l.Clean(peerA) {
		t.Fatal("expected forgiven peer to be clean")
	}
}

func TestLedger_ConcurrentRecords(t *testing.T) {
	l, _ := newTestLedger(map[Kind]int{Implausible: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Record(peerA, Implausible)
			}
		}()
	}
	wg.Wait()
	n, _ := l.Record(peerA, Implausible)
	if n != 501 {
		t.Fatalf("expected 501 strikes, got %d", n)
	}
}
