package strikes

import (
	"errors"
	"fmt"
)

var (
	// ErrStore is matched by every StoreError.
	ErrStore = errors.New("strike store failure")

	// ErrEnforcementDenied is returned by an Enforcer lacking the privilege
	// to suspend a user.
	ErrEnforcementDenied = errors.New("enforcement denied")

	// ErrNotFound is returned by a Resolver that cannot resolve an identity.
	ErrNotFound = errors.New("identity not found")

	// ErrInvalidRequest is returned for requests the engine refuses to record.
	ErrInvalidRequest = errors.New("invalid strike request")
)

// StoreError reports a persistence failure. The failed operation left no
// partial state behind and is safe to retry.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStore) hold for every StoreError.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// NewStoreError wraps err as a StoreError for op. A nil err yields nil and an
// existing StoreError is returned unchanged.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
