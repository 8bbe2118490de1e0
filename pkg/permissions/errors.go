package permissions

import "errors"

// ErrForbidden is returned when the caller is authenticated but the record
// exists and the caller holds no sufficient grant on it. Handlers map it to
// 403; it must never be conflated with database.ErrNotFound.
var ErrForbidden = errors.New("forbidden")
