package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTripPreservesHits(t *testing.T) {
	src := testStore(1 << 20)
	req := requestFor("snapshot me", "go")
	src.Put(KeyFor(req), testResult("snapshot content"), time.Hour)

	// Two hits before export.
	_, ok := src.Get(KeyFor(req))
	require.True(t, ok)
	_, ok = src.Get(KeyFor(req))
	require.True(t, ok)

	exported := src.Export()
	require.Len(t, exported, 1)
	assert.Equal(t, uint64(2), exported[0].Hits)

	dst := testStore(1 << 20)
	require.Equal(t, 1, dst.Restore(exported))

	entry, ok := dst.Get(KeyFor(req))
	require.True(t, ok)
	assert.Equal(t, "snapshot content", entry.Result.Content)
	// The restored counter carries on from the snapshot.
	assert.Equal(t, uint64(3), entry.HitCount())
}

func TestRestoreSkipsExpiredEntries(t *testing.T) {
	dst := testStore(1 << 20)
	stale := SnapshotEntry{
		Key:       KeyFor(requestFor("stale", "go")),
		Result:    testResult("old news"),
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	live := SnapshotEntry{
		Key:       KeyFor(requestFor("fresh", "go")),
		Result:    testResult("still good"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}

	assert.Equal(t, 1, dst.Restore([]SnapshotEntry{stale, live}))
	_, ok := dst.Get(stale.Key)
	assert.False(t, ok)
	_, ok = dst.Get(live.Key)
	assert.True(t, ok)
}
