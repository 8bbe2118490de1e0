package models

import "time"

// RowLock is an advisory, single-holder edit lock. At most one lock exists
// per row; the row id is the primary key, so concurrent acquires collapse
// into a uniqueness conflict rather than two locks.
type RowLock struct {
	RowID    string    `json:"row_id" db:"row_id"`
	UserID   string    `json:"user_id" db:"user_id"`
	LockedAt time.Time `json:"locked_at" db:"locked_at"`
}

// ExpiredAt reports whether the lock is older than ttl at the given instant.
func (l *RowLock) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.LockedAt) > ttl
}
