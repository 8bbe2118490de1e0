package locks

import (
	"errors"
	"fmt"
	"time"

	"table-service-backend/pkg/database"
	"table-service-backend/pkg/models"
)

// DefaultTTL is how long an edit lock stays valid without being released.
const DefaultTTL = 5 * time.Minute

// Manager implements the advisory row edit lock protocol on top of the
// store's atomic get-or-create. A lock is taken when a user opens a row for
// editing, released when they save, and reaped by the out-of-band sweeper
// once it outlives the TTL.
type Manager struct {
	store database.StoreInterface
	ttl   time.Duration
}

// NewManager creates a lock manager. ttl <= 0 falls back to DefaultTTL.
func NewManager(store database.StoreInterface, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire takes the edit lock on a row for userID.
//
// Re-entry is idempotent: if the user already holds the lock, the existing
// lock comes back with its original timestamp. A lock held by someone else
// yields a ConflictError naming the holder, unless it has already outlived
// the TTL, in which case it is reclaimed in place of waiting for the reaper.
func (m *Manager) Acquire(rowID, userID string) (*models.RowLock, error) {
	lock, err := m.store.AcquireRowLock(rowID, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire lock on row %s: %w", rowID, err)
	}
	if lock.UserID == userID {
		return lock, nil
	}

	if !lock.ExpiredAt(time.Now(), m.ttl) {
		return nil, &ConflictError{RowID: rowID, HolderID: lock.UserID}
	}

	// Stale lock the reaper has not gotten to yet. Drop it and retry once;
	// losing the race to another acquirer is a genuine conflict.
	if _, err := m.store.ReleaseRowLock(rowID, lock.UserID); err != nil {
		return nil, fmt.Errorf("reclaim expired lock on row %s: %w", rowID, err)
	}
	lock, err = m.store.AcquireRowLock(rowID, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire lock on row %s: %w", rowID, err)
	}
	if lock.UserID != userID {
		return nil, &ConflictError{RowID: rowID, HolderID: lock.UserID}
	}
	return lock, nil
}

// Release drops the caller's lock on the row. Releasing a lock that no
// longer exists is a no-op; releasing someone else's lock is a conflict.
func (m *Manager) Release(rowID, userID string) error {
	released, err := m.store.ReleaseRowLock(rowID, userID)
	if err != nil {
		return fmt.Errorf("release lock on row %s: %w", rowID, err)
	}
	if released {
		return nil
	}
	lock, err := m.store.GetRowLock(rowID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("inspect lock on row %s: %w", rowID, err)
	}
	return &ConflictError{RowID: rowID, HolderID: lock.UserID}
}

// ForceRelease drops the lock regardless of holder. Reserved for table
// owners and service admins unlocking rows left behind by branch members.
func (m *Manager) ForceRelease(rowID string) error {
	lock, err := m.store.GetRowLock(rowID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("inspect lock on row %s: %w", rowID, err)
	}
	if _, err := m.store.ReleaseRowLock(rowID, lock.UserID); err != nil {
		return fmt.Errorf("force release lock on row %s: %w", rowID, err)
	}
	return nil
}

// Holder returns the current lock on the row, or nil when the row is
// unlocked or the lock has expired.
func (m *Manager) Holder(rowID string) (*models.RowLock, error) {
	lock, err := m.store.GetRowLock(rowID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect lock on row %s: %w", rowID, err)
	}
	if lock.ExpiredAt(time.Now(), m.ttl) {
		return nil, nil
	}
	return lock, nil
}

// ReapExpired deletes every lock older than the TTL and reports the count.
// Called by the standalone reaper on a schedule.
func (m *Manager) ReapExpired(now time.Time) (int64, error) {
	reaped, err := m.store.DeleteExpiredLocks(now.Add(-m.ttl))
	if err != nil {
		return 0, fmt.Errorf("reap expired locks: %w", err)
	}
	return reaped, nil
}
