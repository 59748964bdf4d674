package kitchen

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for business-rule violations. These are fatal: callers must
// surface them immediately and never retry.
var (
	// ErrDuplicateID indicates a recipe with this ID already exists in some
	// status partition.
	ErrDuplicateID = errors.New("duplicate recipe ID")

	// ErrInvalidTransition indicates the requested status change is not an
	// edge in the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnknownRecipient indicates a message names a persona that was never
	// registered.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrUnsolicitedReply indicates a persona tried to reply to someone who
	// has never messaged it.
	ErrUnsolicitedReply = errors.New("unsolicited reply")
)

// WriteError marks a transient Redis I/O failure during a status transition.
// The whole transition is safe to retry: the write-new-before-delete-old
// ordering makes retries idempotent.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("recoverable write error during %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsRecoverable returns true if the error is a transient write failure whose
// enclosing operation may be retried.
func IsRecoverable(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if GetRecipe or GetMessage returned
// "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
