package csync

import (
	"errors"
	"fmt"
)

// ErrPreconditionFailed is returned by a Directory when a conditional update
// is rejected because the remote record changed since the supplied token was
// issued. It always routes into the conflict path, never a silent overwrite.
var ErrPreconditionFailed = errors.New("precondition failed: remote record changed")

// ErrNotAuthenticated is returned by a Directory when the remote rejects the
// connection's credentials. It is surfaced immediately and never retried.
var ErrNotAuthenticated = errors.New("not authenticated")

// ParseError reports a structurally invalid wire record. During a pull it is
// recorded per member and never aborts the batch.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing contact record: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parsing contact record: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError reports a network or remote-service failure. It is fatal to
// a member-list fetch and per-contact during a push.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
