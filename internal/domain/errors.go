package domain

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means the remote system rejected the tenant's credentials or
// session. Never retried automatically.
type AuthError struct {
	Database string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("remote authentication failed for %q: %s", e.Database, e.Reason)
}

// TransportError wraps a network or timeout failure talking to the remote
// system. Retried at the batch level.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DensityError means a window cannot shrink below the configured floor while
// still satisfying the per-call row ceiling. Retrying without intervention
// will not help, so it is flagged distinctly in the batch's last error.
type DensityError struct {
	Module string
	Start  time.Time
	End    time.Time
	Count  int
	Limit  int
}

func (e *DensityError) Error() string {
	return fmt.Sprintf("window too dense for %s: %d records in [%s, %s) exceed limit %d at minimum width",
		e.Module, e.Count, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Limit)
}

// PersistenceError wraps a local store write failure. Upserts are safe to
// repeat, so this is retried at the batch level.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IntegrityError means a fetched page violated the monotonic-id contract.
// That signals a logic or remote API break, not a transient condition, so the
// batch is parked without automatic retry.
type IntegrityError struct {
	Module string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("cursor integrity violation on %s: %s", e.Module, e.Detail)
}

// TerminalFailure reports whether err must park the batch immediately instead
// of going through the retry budget.
func TerminalFailure(err error) bool {
	var authErr *AuthError
	var integrityErr *IntegrityError
	return errors.As(err, &authErr) || errors.As(err, &integrityErr)
}
