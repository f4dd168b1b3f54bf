package store

import "errors"

// ErrNotFound indicates a missing resource lookup.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate indicates a unique-constraint conflict. Callers racing to
// create a link for the same external id receive this and must re-read.
var ErrDuplicate = errors.New("duplicate record")
