package meter

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/driveledger/internal/channels"
	"github.com/mbd888/driveledger/internal/identity"
)

type fakeChannels struct {
	mu  sync.Mutex
	ids map[channels.ChannelID]bool
}

func newFakeChannels(ids ...channels.ChannelID) *fakeChannels {
	f := &fakeChannels{ids: make(map[channels.ChannelID]bool)}
	for _, id := range ids {
		f.ids[id] = true
	}
	return f
}

func (f *fakeChannels) Exists(id channels.ChannelID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

func peer(b byte) identity.PeerKey {
	var k identity.PeerKey
	k[0] = b
	return k
}

func chanID(b byte) channels.ChannelID {
	var id channels.ChannelID
	id[0] = b
	return id
}

func TestRecordAccumulates(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)

	_, err := m.RecordSent(chanID(1), peer(2), 100)
	require.NoError(t, err)
	c, err := m.RecordSent(chanID(1), peer(2), 50)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), c.Sent)

	_, err = m.RecordReceived(chanID(1), peer(2), 7)
	require.NoError(t, err)
	_, err = m.RecordRequested(chanID(1), peer(2), 9)
	require.NoError(t, err)

	snap, err := m.Snapshot(chanID(1), peer(2))
	require.NoError(t, err)
	assert.Equal(t, Counters{Requested: 9, Sent: 150, Received: 7}, snap)

	other, err := m.Snapshot(chanID(1), peer(3))
	require.NoError(t, err)
	assert.Equal(t, Counters{}, other)
}

func TestRecordUnknownChannelIsNoop(t *testing.T) {
	m := New(newFakeChannels(), nil)

	_, err := m.RecordSent(chanID(9), peer(1), 10)
	assert.ErrorIs(t, err, ErrUnknownChannel)
	_, err = m.Snapshot(chanID(9), peer(1))
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Empty(t, m.TakeDirty())
}

func TestRecordOverflowIsSticky(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)

	_, err := m.RecordReceived(chanID(1), peer(1), math.MaxUint64-5)
	require.NoError(t, err)

	c, err := m.RecordReceived(chanID(1), peer(1), 10)
	assert.ErrorIs(t, err, ErrCounterOverflow)
	assert.Equal(t, uint64(math.MaxUint64-5), c.Received, "overflowing add must not apply")

	_, err = m.RecordReceived(chanID(1), peer(1), 1)
	assert.ErrorIs(t, err, ErrCounterOverflow)

	m.Reset(chanID(1))
	c, err = m.RecordReceived(chanID(1), peer(1), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Received)
}

func TestConcurrentRecordsAreNotLost(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)

	const workers, perWorker = 16, 500
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := m.RecordSent(chanID(1), peer(1), 3); err != nil {
					t.Errorf("record: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	c, err := m.Snapshot(chanID(1), peer(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker*3), c.Sent)
}

func TestWithPairSerializesRecords(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)
	_, err := m.RecordReceived(chanID(1), peer(1), 10)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = m.WithPair(chanID(1), peer(1), func(c Counters) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	go func() {
		_, _ = m.RecordReceived(chanID(1), peer(1), 5)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("record completed while pair was held")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done

	c, err := m.Snapshot(chanID(1), peer(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(15), c.Received)
}

func TestWithPairPropagatesError(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)
	boom := errors.New("boom")
	err := m.WithPair(chanID(1), peer(1), func(Counters) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestChannelCreatedResetsCounters(t *testing.T) {
	m := New(newFakeChannels(chanID(1), chanID(2)), nil)
	_, _ = m.RecordSent(chanID(1), peer(1), 10)
	_, _ = m.RecordSent(chanID(2), peer(1), 20)

	m.ChannelClosed(chanID(1))
	c, err := m.Snapshot(chanID(1), peer(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), c.Sent, "closing keeps counters")

	m.ChannelCreated(channels.Channel{ID: chanID(1)})
	c, err = m.Snapshot(chanID(1), peer(1))
	require.NoError(t, err)
	assert.Zero(t, c.Sent)

	c, err = m.Snapshot(chanID(2), peer(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(20), c.Sent)
}

func TestTotalsAcrossChannels(t *testing.T) {
	m := New(newFakeChannels(chanID(1), chanID(2)), nil)
	_, _ = m.RecordReceived(chanID(1), peer(1), 10)
	_, _ = m.RecordReceived(chanID(2), peer(1), 5)
	_, _ = m.RecordRequested(chanID(2), peer(1), 8)
	_, _ = m.RecordReceived(chanID(2), peer(2), 100)

	total := m.Totals(peer(1))
	assert.Equal(t, uint64(15), total.Received)
	assert.Equal(t, uint64(8), total.Requested)
}

func TestFlusherCheckpointsAndRestores(t *testing.T) {
	ctx := context.Background()
	lookup := newFakeChannels(chanID(1))
	m := New(lookup, nil)
	store := NewMemoryStore()
	f := NewFlusher(m, store, time.Hour, nil)

	_, _ = m.RecordSent(chanID(1), peer(1), 42)
	require.NoError(t, f.Flush(ctx))
	assert.Empty(t, m.TakeDirty(), "flush clears dirty marks")

	restored := New(lookup, nil)
	require.NoError(t, restored.Restore(ctx, store))
	c, err := restored.Snapshot(chanID(1), peer(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), c.Sent)
}

type failingStore struct{ MemoryStore }

func (*failingStore) Save(context.Context, []Entry) error { return errors.New("db down") }

func TestFlusherKeepsDirtyOnFailure(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)
	f := NewFlusher(m, &failingStore{}, time.Hour, nil)

	_, _ = m.RecordSent(chanID(1), peer(1), 1)
	assert.Error(t, f.Flush(context.Background()))
	assert.Len(t, m.TakeDirty(), 1)
}

func TestFlusherStartStop(t *testing.T) {
	m := New(newFakeChannels(chanID(1)), nil)
	store := NewMemoryStore()
	f := NewFlusher(m, store, 10*time.Millisecond, nil)

	_, _ = m.RecordReceived(chanID(1), peer(1), 3)

	done := make(chan struct{})
	go func() {
		f.Start(context.Background())
		close(done)
	}()
	require.Eventually(t, func() bool {
		entries, _ := store.Load(context.Background())
		return len(entries) == 1
	}, time.Second, 5*time.Millisecond)

	f.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flusher did not stop")
	}
	assert.False(t, f.Running())
}
