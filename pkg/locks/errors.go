package locks

import (
	"errors"
	"fmt"
)

// ConflictError reports that a row is locked by another user. HolderID tells
// the caller who currently holds the edit session.
type ConflictError struct {
	RowID    string
	HolderID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("row %s is locked by user %s", e.RowID, e.HolderID)
}

// AsConflict unwraps err into a ConflictError, if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
