package locks

import (
	"testing"
	"time"

	"table-service-backend/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsIdempotentForHolder(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, DefaultTTL)

	first, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	second, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.LockedAt, second.LockedAt, "re-entry keeps the original timestamp")
}

func TestAcquireConflictNamesHolder(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, DefaultTTL)

	_, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	_, err = manager.Acquire("row-1", "bob")
	conflict, ok := AsConflict(err)
	require.True(t, ok, "expected a conflict, got %v", err)
	assert.Equal(t, "alice", conflict.HolderID)
	assert.Equal(t, "row-1", conflict.RowID)
}

func TestAcquireReclaimsExpiredLock(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, 10*time.Millisecond)

	_, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	lock, err := manager.Acquire("row-1", "bob")
	require.NoError(t, err, "expired lock should be reclaimable")
	assert.Equal(t, "bob", lock.UserID)
}

func TestReleaseRules(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, DefaultTTL)

	_, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	// Someone else cannot release it.
	err = manager.Release("row-1", "bob")
	conflict, ok := AsConflict(err)
	require.True(t, ok)
	assert.Equal(t, "alice", conflict.HolderID)

	// The holder can, and a second release is a no-op.
	require.NoError(t, manager.Release("row-1", "alice"))
	require.NoError(t, manager.Release("row-1", "alice"))

	holder, err := manager.Holder("row-1")
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestForceReleaseIgnoresHolder(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, DefaultTTL)

	_, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	require.NoError(t, manager.ForceRelease("row-1"))
	require.NoError(t, manager.ForceRelease("row-1"), "unlocked row is a no-op")

	lock, err := manager.Acquire("row-1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", lock.UserID)
}

func TestHolderHidesExpiredLocks(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, 10*time.Millisecond)

	_, err := manager.Acquire("row-1", "alice")
	require.NoError(t, err)

	holder, err := manager.Holder("row-1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "alice", holder.UserID)

	time.Sleep(25 * time.Millisecond)

	holder, err = manager.Holder("row-1")
	require.NoError(t, err)
	assert.Nil(t, holder, "expired lock reads as unlocked")
}

func TestReapExpiredSweepsOnlyStaleLocks(t *testing.T) {
	store := database.NewMemoryStore()
	manager := NewManager(store, 20*time.Millisecond)

	_, err := manager.Acquire("stale", "alice")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = manager.Acquire("fresh", "bob")
	require.NoError(t, err)

	reaped, err := manager.ReapExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), reaped)

	holder, err := manager.Holder("fresh")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, "bob", holder.UserID)
}
