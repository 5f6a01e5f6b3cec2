package meter

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/driveledger/internal/testutil"
)

func TestPostgresStoreKeepsFullRange(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	big := Entry{
		Pair:     Pair{Channel: chanID(1), Peer: peer(1)},
		Counters: Counters{Requested: 1, Sent: math.MaxUint64, Received: 7},
	}
	require.NoError(t, store.Save(ctx, []Entry{big}))

	// A stale checkpoint never moves a counter backwards.
	stale := big
	stale.Counters.Received = 3
	require.NoError(t, store.Save(ctx, []Entry{stale}))

	entries, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, big, entries[0])

	require.NoError(t, store.DeleteChannel(ctx, chanID(1)))
	entries, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
