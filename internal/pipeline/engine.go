package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/padstow/galley/internal/config"
	"github.com/padstow/galley/internal/lifecycle"
	"github.com/padstow/galley/pkg/kitchen"
)

// ErrRecipeStuck indicates capability retries were exhausted and the recipe
// was flagged for external monitoring. The recipe is left un-transitioned at
// its current stage; only a business outcome can reject it.
var ErrRecipeStuck = errors.New("recipe marked stuck")

// Engine drives recipes through the fixed stage order. It is the only
// component that mutates stage, revision and history fields; status changes
// are delegated to the lifecycle manager.
type Engine struct {
	client       *kitchen.Client
	lifecycle    *lifecycle.Manager
	cfg          *config.GalleyConfig
	capabilities map[kitchen.Stage]Capability
}

// NewEngine creates a pipeline engine. Capabilities are registered per stage
// with RegisterCapability before use.
func NewEngine(client *kitchen.Client, manager *lifecycle.Manager, cfg *config.GalleyConfig) *Engine {
	return &Engine{
		client:       client,
		lifecycle:    manager,
		cfg:          cfg,
		capabilities: make(map[kitchen.Stage]Capability),
	}
}

// RegisterCapability installs the capability invoked for a stage.
func (e *Engine) RegisterCapability(stage kitchen.Stage, cap Capability) {
	e.capabilities[stage] = cap
}

// Setup prepares the instance for pipeline work: registers the team on the
// message bus and reconciles any transition duplicates left by a crash.
func (e *Engine) Setup(ctx context.Context) error {
	if err := e.client.RegisterTeam(ctx, e.cfg.PersonaNames()...); err != nil {
		return fmt.Errorf("failed to register team: %w", err)
	}

	removed, err := e.lifecycle.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	if removed > 0 {
		e.logEvent("reconciled", map[string]interface{}{"duplicates_removed": removed})
	}

	return nil
}

// Advance runs one stage invocation for the recipe:
//
//  1. Acquire the per-recipe advisory lock (distinct recipes run concurrently;
//     calls for the same recipe serialize).
//  2. Invoke the stage's capability with a bounded timeout, retrying transient
//     failures with backoff.
//  3. Record the exchange on the message bus regardless of outcome.
//  4. Apply the outcome (advance / revise / reject) through the lifecycle
//     manager and the recipe's stage fields.
//
// Returns the recipe as left by this call.
func (e *Engine) Advance(ctx context.Context, recipeID string) (*kitchen.Recipe, error) {
	token, err := e.client.AcquireRecipeLock(ctx, recipeID, e.lockTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to lock recipe %s: %w", recipeID, err)
	}
	defer func() {
		if err := e.client.ReleaseRecipeLock(context.Background(), recipeID, token); err != nil {
			log.Printf("[Pipeline] Failed to release lock for recipe %s: %v", recipeID, err)
		}
	}()

	recipe, status, err := e.client.LocateRecipe(ctx, recipeID)
	if err != nil {
		if kitchen.IsNotFound(err) {
			return nil, fmt.Errorf("recipe %s not found", recipeID)
		}
		return nil, err
	}

	if status.IsTerminal() {
		return nil, fmt.Errorf("recipe %s is terminal (%s); nothing to advance", recipeID, status)
	}

	stage := recipe.CurrentStage
	cap, ok := e.capabilities[stage]
	if !ok {
		return nil, fmt.Errorf("no capability registered for stage %q", stage)
	}

	messageContext, err := e.client.History(ctx, recipeID)
	if err != nil {
		return nil, err
	}

	outcome, err := e.invokeWithRetry(ctx, cap, recipe, messageContext)
	if err != nil {
		// Infrastructure failure, not a business outcome: leave the recipe
		// at its stage, flag it, and surface it for monitoring.
		return e.markStuck(ctx, status, recipe, err)
	}

	if err := outcome.ValidateFor(stage); err != nil {
		return nil, fmt.Errorf("illegal outcome from stage %q capability: %w", stage, err)
	}

	if recipe.Stuck {
		// A previously stuck recipe produced an outcome again
		if err := e.client.ClearStuck(ctx, status, recipe); err != nil {
			return nil, err
		}
	}

	if err := e.recordExchange(ctx, recipe, outcome); err != nil {
		return nil, err
	}

	switch outcome.Status {
	case OutcomeSuccess:
		return e.applySuccess(ctx, status, recipe, outcome)
	case OutcomeRevise:
		return e.applyRevise(ctx, status, recipe, outcome)
	case OutcomeReject:
		return e.applyReject(ctx, status, recipe, outcome)
	default:
		return nil, fmt.Errorf("unhandled outcome status %q", outcome.Status)
	}
}

// applySuccess appends the stage record and moves the recipe forward. The two
// review gates double as status transitions: HumanReview success approves the
// recipe, Deployment success publishes it. CreativeReview success never skips
// HumanReview.
func (e *Engine) applySuccess(ctx context.Context, status kitchen.Status, recipe *kitchen.Recipe, outcome *StageOutcome) (*kitchen.Recipe, error) {
	stage := recipe.CurrentStage
	e.appendStageRecord(recipe, stage, "success")

	if next, ok := stage.Next(); ok {
		recipe.CurrentStage = next
	}

	// Persist stage fields before any transition: the lifecycle manager
	// copies the stored record between partitions.
	if err := e.client.UpdateRecipe(ctx, status, recipe); err != nil {
		return nil, err
	}

	switch stage {
	case kitchen.StageHumanReview:
		updated, err := e.lifecycle.Transition(ctx, recipe.ID, kitchen.StatusApproved, outcome.Feedback)
		if err != nil {
			return nil, err
		}
		e.logEvent("recipe_approved", map[string]interface{}{"recipe_id": recipe.ID})
		return updated, nil

	case kitchen.StageDeployment:
		updated, err := e.lifecycle.Transition(ctx, recipe.ID, kitchen.StatusPublished, outcome.Feedback)
		if err != nil {
			return nil, err
		}
		e.emitEvent(ctx, recipe.ID, "published", outcome.Payload)
		return updated, nil

	default:
		e.logEvent("stage_complete", map[string]interface{}{
			"recipe_id": recipe.ID,
			"stage":     string(stage),
			"next":      string(recipe.CurrentStage),
		})
		return recipe, nil
	}
}

// applyRevise runs the bounded revision loop. The loop is internal to the
// stage dimension: the recipe's status stays pending or approved unless the
// bound is exceeded, which forces a terminal rejection with escalation.
func (e *Engine) applyRevise(ctx context.Context, status kitchen.Status, recipe *kitchen.Recipe, outcome *StageOutcome) (*kitchen.Recipe, error) {
	reviewStage := recipe.CurrentStage
	recipe.RevisionCount++
	e.appendStageRecord(recipe, reviewStage, "revise")

	if recipe.RevisionCount > *e.cfg.Pipeline.MaxRevisions {
		recipe.Escalated = true
		if err := e.client.UpdateRecipe(ctx, status, recipe); err != nil {
			return nil, err
		}

		notes := fmt.Sprintf("revision bound (%d) exceeded at %s: %s",
			*e.cfg.Pipeline.MaxRevisions, reviewStage, outcome.Feedback)
		updated, err := e.lifecycle.Transition(ctx, recipe.ID, kitchen.StatusRejected, notes)
		if err != nil {
			return nil, err
		}

		e.logEvent("revision_bound_exceeded", map[string]interface{}{
			"recipe_id":      recipe.ID,
			"revision_count": recipe.RevisionCount,
			"escalation":     true,
		})
		e.emitEvent(ctx, recipe.ID, "rejected", notes)
		return updated, nil
	}

	recipe.CurrentStage = outcome.ReturnStage()
	if err := e.client.UpdateRecipe(ctx, status, recipe); err != nil {
		return nil, err
	}

	e.logEvent("revision_requested", map[string]interface{}{
		"recipe_id":      recipe.ID,
		"from_stage":     string(reviewStage),
		"return_stage":   string(recipe.CurrentStage),
		"revision_count": recipe.RevisionCount,
	})

	return recipe, nil
}

// applyReject terminally rejects the recipe on a business Reject outcome.
func (e *Engine) applyReject(ctx context.Context, status kitchen.Status, recipe *kitchen.Recipe, outcome *StageOutcome) (*kitchen.Recipe, error) {
	e.appendStageRecord(recipe, recipe.CurrentStage, "reject")

	if err := e.client.UpdateRecipe(ctx, status, recipe); err != nil {
		return nil, err
	}

	updated, err := e.lifecycle.Transition(ctx, recipe.ID, kitchen.StatusRejected, outcome.Feedback)
	if err != nil {
		return nil, err
	}

	e.logEvent("recipe_rejected", map[string]interface{}{
		"recipe_id": recipe.ID,
		"stage":     string(recipe.CurrentStage),
	})
	e.emitEvent(ctx, recipe.ID, "rejected", outcome.Feedback)

	return updated, nil
}

// markStuck flags the recipe after retry exhaustion and emits the stuck event.
func (e *Engine) markStuck(ctx context.Context, status kitchen.Status, recipe *kitchen.Recipe, cause error) (*kitchen.Recipe, error) {
	if err := e.client.MarkStuck(ctx, status, recipe); err != nil {
		return nil, err
	}

	e.logEvent("recipe_stuck", map[string]interface{}{
		"recipe_id": recipe.ID,
		"stage":     string(recipe.CurrentStage),
		"cause":     cause.Error(),
	})
	e.emitEvent(ctx, recipe.ID, "stuck", cause.Error())

	return recipe, fmt.Errorf("stage %q failed after %d attempts: %w: %w",
		recipe.CurrentStage, e.cfg.Pipeline.MaxAttempts, ErrRecipeStuck, cause)
}

// recordExchange publishes the stage exchange to the message bus so the
// recipe's history gains an entry regardless of outcome. The engine is the
// designated initiator: personas themselves only ever reply.
func (e *Engine) recordExchange(ctx context.Context, recipe *kitchen.Recipe, outcome *StageOutcome) error {
	stage := recipe.CurrentStage
	sender := e.cfg.PersonaForStage(stage)

	var recipient string
	var msgType kitchen.MessageType
	content := outcome.Feedback
	if content == "" {
		content = outcome.Payload
	}

	switch outcome.Status {
	case OutcomeSuccess:
		if next, ok := stage.Next(); ok {
			recipient = e.cfg.PersonaForStage(next)
		} else {
			recipient = e.cfg.Coordinator
		}
		if stage.IsReview() {
			msgType = kitchen.MessageTypeApprovalNotification
		} else {
			msgType = kitchen.MessageTypeCreativeSuggestion
		}
		if stage == kitchen.StageDeployment {
			msgType = kitchen.MessageTypeApprovalNotification
		}

	case OutcomeRevise:
		recipient = e.cfg.PersonaForStage(outcome.ReturnStage())
		msgType = kitchen.MessageTypeRevisionRequest

	case OutcomeReject:
		recipient = e.cfg.Coordinator
		msgType = kitchen.MessageTypeRevisionRequest
	}

	if _, err := e.client.SendMessage(ctx, sender, recipient, msgType, content, recipe.ID); err != nil {
		return fmt.Errorf("failed to record stage exchange: %w", err)
	}

	return nil
}

// Run polls the non-terminal partitions and advances every workable recipe
// until the context is cancelled. Recipes flagged stuck are skipped until an
// operator clears them. This is the simplest scheduling model the advisory
// lock supports; parallel workers pointed at the same instance behave the
// same way.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Setup(ctx); err != nil {
		return err
	}

	log.Printf("[Pipeline] Starting for instance '%s'", e.client.InstanceName())

	interval := time.Duration(e.cfg.Pipeline.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Pipeline] Shutting down...")
			return nil
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

// sweep advances each workable recipe by one stage.
func (e *Engine) sweep(ctx context.Context) {
	for _, status := range []kitchen.Status{kitchen.StatusPending, kitchen.StatusApproved} {
		recipes, err := e.client.ListByStatus(ctx, status)
		if err != nil {
			log.Printf("[Pipeline] Failed to list %s recipes: %v", status, err)
			continue
		}

		for _, recipe := range recipes {
			if recipe.Stuck {
				continue
			}
			if _, err := e.Advance(ctx, recipe.ID); err != nil {
				log.Printf("[Pipeline] Error advancing recipe %s: %v", recipe.ID, err)
				// Continue processing - don't crash on single recipe failure
			}
		}
	}
}

// appendStageRecord appends to the recipe's strictly-ordered stage history.
func (e *Engine) appendStageRecord(recipe *kitchen.Recipe, stage kitchen.Stage, outcome string) {
	recipe.StageHistory = append(recipe.StageHistory, kitchen.StageRecord{
		Stage:       stage,
		TimestampMs: time.Now().UnixMilli(),
		Outcome:     outcome,
	})
}

// emitEvent publishes a terminal-state event; failures are logged, not fatal,
// since the state change itself already committed.
func (e *Engine) emitEvent(ctx context.Context, recipeID, eventType, details string) {
	event := &kitchen.RecipeEvent{
		RecipeID:    recipeID,
		EventType:   eventType,
		TimestampMs: time.Now().UnixMilli(),
		Details:     details,
	}
	if err := e.client.PublishRecipeEvent(ctx, event); err != nil {
		log.Printf("[Pipeline] Failed to publish %s event for recipe %s: %v", eventType, recipeID, err)
	}
}

// lockTTL guards against a crashed holder: long enough for every retry of one
// capability invocation plus bookkeeping.
func (e *Engine) lockTTL() time.Duration {
	perAttempt := time.Duration(e.cfg.Pipeline.StageTimeoutSeconds) * time.Second
	return perAttempt*time.Duration(e.cfg.Pipeline.MaxAttempts) + 30*time.Second
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "pipeline"
	data["event_type"] = eventType
	data["instance"] = e.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Pipeline] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
