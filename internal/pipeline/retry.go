package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/padstow/galley/pkg/kitchen"
)

// invokeWithRetry calls the capability with a bounded per-attempt timeout,
// retrying transient failures (errors and timeouts) with exponential backoff
// up to the configured attempt limit.
//
// A timed-out invocation is aborted at this boundary and counted as a
// transient failure, not a revision. Business outcomes are never retried.
func (e *Engine) invokeWithRetry(ctx context.Context, cap Capability, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
	timeout := time.Duration(e.cfg.Pipeline.StageTimeoutSeconds) * time.Second
	attempts := 0

	operation := func() (*StageOutcome, error) {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		outcome, err := cap.Handle(attemptCtx, recipe, messageContext)
		if err != nil {
			log.Printf("[Pipeline] Capability attempt %d/%d failed for recipe %s at %s: %v",
				attempts, e.cfg.Pipeline.MaxAttempts, recipe.ID, recipe.CurrentStage, err)
			return nil, err
		}
		if attemptCtx.Err() != nil {
			// The capability returned after its deadline; treat as timeout
			return nil, fmt.Errorf("capability invocation timed out after %s", timeout)
		}

		return outcome, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(e.cfg.Pipeline.RetryBackoffSeconds) * time.Second
	policy.MaxElapsedTime = 0 // attempts are bounded by count, not wall clock

	outcome, err := backoff.RetryWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.Pipeline.MaxAttempts-1)), ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("capability failed after %d attempts: %w", attempts, err)
	}

	return outcome, nil
}
