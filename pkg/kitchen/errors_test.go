package kitchen

import (
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Run("write errors are recoverable", func(t *testing.T) {
		we := &WriteError{Op: "write recipe", Err: errors.New("connection reset")}
		assert.True(t, IsRecoverable(we))
		assert.True(t, IsRecoverable(fmt.Errorf("transition failed: %w", we)))
		assert.Contains(t, we.Error(), "write recipe")
	})

	t.Run("business-rule errors are not recoverable", func(t *testing.T) {
		assert.False(t, IsRecoverable(ErrDuplicateID))
		assert.False(t, IsRecoverable(ErrInvalidTransition))
		assert.False(t, IsRecoverable(ErrUnknownRecipient))
		assert.False(t, IsRecoverable(ErrUnsolicitedReply))
	})

	t.Run("not found", func(t *testing.T) {
		assert.True(t, IsNotFound(redis.Nil))
		assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", redis.Nil)))
		assert.False(t, IsNotFound(errors.New("other")))
	})

	t.Run("write error unwraps its cause", func(t *testing.T) {
		cause := errors.New("broken pipe")
		we := &WriteError{Op: "index recipe", Err: cause}
		assert.ErrorIs(t, we, cause)
	})
}
