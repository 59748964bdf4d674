// Package pipeline drives recipes through the fixed production stage order,
// invoking an injected capability per stage and applying its outcome through
// the lifecycle manager and the message bus.
package pipeline

import (
	"context"
	"fmt"

	"github.com/padstow/galley/pkg/kitchen"
)

// Capability is the external contract for stage work. Implementations are
// opaque to the engine: an LLM-backed persona, a human-in-the-loop proxy (the
// HumanReview stage is expected to be a thin proxy to a reviewer action), or a
// deterministic stub for testing.
//
// The engine may retry a timed-out or failed invocation, so implementations
// must tolerate duplicate submission (at-least-once semantics).
type Capability interface {
	// Handle performs the stage's work on the recipe. messageContext is the
	// recipe's discussion history so far, oldest first.
	Handle(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error)

// Handle implements Capability.
func (f CapabilityFunc) Handle(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
	return f(ctx, recipe, messageContext)
}

// OutcomeStatus is the three-variant result of a stage invocation.
type OutcomeStatus string

const (
	// OutcomeSuccess advances the recipe to the next stage (or a terminal
	// transition at the review and deployment gates)
	OutcomeSuccess OutcomeStatus = "success"

	// OutcomeRevise sends the recipe back to an earlier stage. Legal only
	// from the review stages.
	OutcomeRevise OutcomeStatus = "revise"

	// OutcomeReject terminally rejects the recipe
	OutcomeReject OutcomeStatus = "reject"
)

// Validate checks if the OutcomeStatus is a valid enum value.
func (os OutcomeStatus) Validate() error {
	switch os {
	case OutcomeSuccess, OutcomeRevise, OutcomeReject:
		return nil
	default:
		return fmt.Errorf("unknown outcome status: %q", os)
	}
}

// StageOutcome is what a capability returns to the engine.
type StageOutcome struct {
	Status   OutcomeStatus `json:"status"`
	Payload  string        `json:"payload,omitempty"`  // Stage work product (opaque)
	Feedback string        `json:"feedback,omitempty"` // Reviewer notes, rejection reasons
	// TargetStage names the stage a Revise outcome returns to. Optional:
	// when absent the recipe restarts at Development. Must be earlier than
	// the review stage that issued the revision.
	TargetStage kitchen.Stage `json:"target_stage,omitempty"`
}

// ValidateFor checks the outcome's legality for the stage that produced it.
// Violations are programming errors in the capability, never coerced.
func (o *StageOutcome) ValidateFor(stage kitchen.Stage) error {
	if o == nil {
		return fmt.Errorf("capability returned nil outcome")
	}

	if err := o.Status.Validate(); err != nil {
		return err
	}

	if o.Status == OutcomeRevise {
		if !stage.IsReview() {
			return fmt.Errorf("revise outcome from non-review stage %q", stage)
		}
		if o.TargetStage != "" {
			if err := o.TargetStage.Validate(); err != nil {
				return fmt.Errorf("invalid target stage: %w", err)
			}
			if o.TargetStage.Index() >= stage.Index() {
				return fmt.Errorf("target stage %q must precede the reviewing stage %q", o.TargetStage, stage)
			}
		}
	}

	return nil
}

// ReturnStage resolves where a Revise outcome sends the recipe.
func (o *StageOutcome) ReturnStage() kitchen.Stage {
	if o.TargetStage != "" {
		return o.TargetStage
	}
	return kitchen.StageDevelopment
}
