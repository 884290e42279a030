package repo

import "errors"

// ErrNotFound is returned when a lookup matches no row. Callers use
// errors.Is to distinguish absence from storage faults.
var ErrNotFound = errors.New("not found")
