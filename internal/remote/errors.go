package remote

import (
	"errors"
	"fmt"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// ErrUnauthorized is returned when the session token is missing, expired,
// or rejected. The engine reacts by pausing sync and re-entering the
// session gate's verification cycle.
var ErrUnauthorized = errors.New("remote: unauthorized")

// ConflictError is a version-conflict rejection from the write endpoint:
// the expectedVersion fence did not match the server's current version.
// Callers must never retry the same payload; the server's record is
// attached so the conflict can be surfaced with both sides.
type ConflictError struct {
	// Server is the server's current record, when the response carried
	// one. May be nil.
	Server *model.Record
}

func (e *ConflictError) Error() string {
	if e.Server != nil {
		return fmt.Sprintf("remote: version conflict (server at version %d)", e.Server.Version)
	}
	return "remote: version conflict"
}

// transientError wraps network failures and 5xx responses: failures worth
// retrying with backoff.
type transientError struct {
	status int
	cause  error
}

func (e *transientError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("remote: transient failure: %v", e.cause)
	}
	return fmt.Sprintf("remote: transient failure: status %d", e.status)
}

func (e *transientError) Unwrap() error {
	return e.cause
}

// TransientError wraps err as a retryable failure.
func TransientError(err error) error {
	return &transientError{cause: err}
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func statusError(status int, body []byte) error {
	if status >= 500 {
		return &transientError{status: status}
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("remote: server returned status %d: %s", status, msg)
}
