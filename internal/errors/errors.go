package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the account manager
var (
	// Credential store errors. Fatal to the operation that hit them.
	ErrStorageFailure = errors.New("credential store failure")
	ErrNotFound       = errors.New("not found")

	// Identity errors. Recoverable: the operation continues with stale identity fields.
	ErrIdentityVerification = errors.New("identity verification failed")
	ErrMalformedResponse    = errors.New("malformed identity response")

	// Caller errors
	ErrNoCurrentAccount = errors.New("no current account")

	// Login flow errors
	ErrInvalidState = errors.New("invalid login state")
)

// Storagef wraps err as an ErrStorageFailure, keeping err in the chain.
func Storagef(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: "+format+": %w", append(append([]interface{}{ErrStorageFailure}, args...), err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
