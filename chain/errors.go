package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Tx for an address that holds no record.
	ErrNotFound = errors.New("record not found")
	// ErrAddressRetired is returned by a Tx for a destroyed address.
	ErrAddressRetired = errors.New("address retired")
	// ErrSpaceExceeded is returned by a Tx when a record outgrows its reserved space.
	ErrSpaceExceeded = errors.New("record exceeds reserved space")
	// ErrKindMismatch is returned when an address holds a record of another kind.
	ErrKindMismatch = errors.New("record kind mismatch")
)

// ValidationError reports malformed or oversized input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports a caller that is not the authenticated owner or
// administrator of the record being mutated.
type AuthorizationError struct {
	Authority Address
	Reason    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized %s: %s", e.Authority.Short(), e.Reason)
}

// ConsistencyError reports caller-supplied linkage that does not match the
// committed chain state.
type ConsistencyError struct {
	Reason string
	Err    error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inconsistent state: %s: %v", e.Reason, e.Err)
	}
	return "inconsistent state: " + e.Reason
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// StorageError wraps a failure from the underlying Store.
type StorageError struct {
	Op   string
	Addr Address
	Err  error
}

func (e *StorageError) Error() string {
	if e.Addr.IsNone() {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// asStorage classifies a Tx error. Missing or retired records mean the caller
// acted on a stale view.
func asStorage(op string, addr Address, err error) error {
	if err == nil {
		return nil
	}
	var (
		ce *ConsistencyError
		se *StorageError
	)
	if errors.As(err, &ce) || errors.As(err, &se) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAddressRetired) {
		return &ConsistencyError{Reason: fmt.Sprintf("%s %s", op, addr), Err: err}
	}
	return &StorageError{Op: op, Addr: addr, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var e *AuthorizationError
	return errors.As(err, &e)
}

// IsConsistency reports whether err is a ConsistencyError.
func IsConsistency(err error) bool {
	var e *ConsistencyError
	return errors.As(err, &e)
}

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}
