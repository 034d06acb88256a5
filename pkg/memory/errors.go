package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by provider lookups when the requested record does
// not exist. Background reads (context assembly) treat it as "absent", not as
// a failure; boundary reads surface it as a hard not-found.
var ErrNotFound = errors.New("memory: not found")

// ErrAlreadyExists is returned by [TemporalProvider.CreateUser] when the user
// id is already registered. Clients treat it as success.
var ErrAlreadyExists = errors.New("memory: already exists")

// ValidationError reports a malformed request that was rejected before any
// remote call was attempted.
type ValidationError struct {
	// Field is the offending field name.
	Field string

	// Reason explains what is wrong with it.
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("memory: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a [ValidationError].
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
