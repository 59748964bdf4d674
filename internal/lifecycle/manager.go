// Package lifecycle owns recipe status mutation. All status changes go through
// Manager.Transition, which validates the lifecycle graph and moves the record
// between partitions with a write-new-confirm-delete-old ordering: a crash
// mid-transition leaves the recipe briefly duplicated, never lost. Reconcile
// cleans up such duplicates on restart.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/padstow/galley/pkg/kitchen"
)

// legalEdges is the fixed directed graph of status transitions.
// published and rejected have no outgoing edges.
var legalEdges = map[kitchen.Status][]kitchen.Status{
	kitchen.StatusPending:  {kitchen.StatusApproved, kitchen.StatusRejected},
	kitchen.StatusApproved: {kitchen.StatusPublished, kitchen.StatusPending, kitchen.StatusRejected},
}

// EdgeAllowed reports whether from→to is a legal lifecycle transition.
func EdgeAllowed(from, to kitchen.Status) bool {
	for _, target := range legalEdges[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Manager performs crash-consistent status transitions on top of the kitchen
// client's partition primitives.
type Manager struct {
	client *kitchen.Client
}

// NewManager creates a lifecycle manager.
func NewManager(client *kitchen.Client) *Manager {
	return &Manager{client: client}
}

// Transition moves a recipe to the target status:
//
//  1. Validate the current→target edge; illegal edges fail with
//     ErrInvalidTransition and are never retried.
//  2. Write a complete copy of the record into the target partition and
//     confirm the write.
//  3. Only then remove the record from the source partition.
//  4. Append the move to the recipe's audit trail.
//
// Retrying after a partial failure is idempotent: if the target partition
// already holds the recipe, step 2 is a no-op and step 3 proceeds. I/O
// failures come back as recoverable write errors (kitchen.IsRecoverable) and
// the whole call may be retried safely.
func (m *Manager) Transition(ctx context.Context, recipeID string, target kitchen.Status, notes string) (*kitchen.Recipe, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	recipe, source, err := m.client.LocateRecipe(ctx, recipeID)
	if err != nil {
		if kitchen.IsNotFound(err) {
			return nil, fmt.Errorf("recipe %s not found in any partition", recipeID)
		}
		return nil, err
	}

	if source == target {
		// A retry of a transition that already completed. Succeed trivially:
		// the record is live in exactly the partition the caller wanted.
		log.Printf("[Lifecycle] Recipe %s already in %s, nothing to do", recipeID, target)
		return recipe, nil
	}

	if !EdgeAllowed(source, target) {
		return nil, fmt.Errorf("transition %s→%s for recipe %s: %w", source, target, recipeID, kitchen.ErrInvalidTransition)
	}

	recipe.Status = target
	recipe.UpdatedAtMs = time.Now().UnixMilli()
	if notes != "" {
		recipe.ReviewNotes = append(recipe.ReviewNotes, notes)
	}

	// Step 2: write the complete copy to the target partition
	if err := m.client.WriteRecipeTo(ctx, target, recipe); err != nil {
		return nil, err
	}

	// Confirm the write landed before touching the source
	written, err := m.client.RecipeExistsIn(ctx, target, recipeID)
	if err != nil {
		return nil, err
	}
	if !written {
		return nil, &kitchen.WriteError{Op: "confirm target write", Err: fmt.Errorf("recipe %s missing from %s after write", recipeID, target)}
	}

	// Step 4 before step 3: if the delete crashes, the audit already explains
	// the duplicate the reconciler will find.
	entry := &kitchen.AuditEntry{
		From:        source,
		To:          target,
		TimestampMs: recipe.UpdatedAtMs,
		Notes:       notes,
	}
	if err := m.client.AppendAudit(ctx, recipeID, entry); err != nil {
		return nil, err
	}

	// Step 3: remove from the source partition
	if err := m.client.DeleteRecipeFrom(ctx, source, recipeID); err != nil {
		return nil, err
	}

	log.Printf("[Lifecycle] Recipe %s: %s → %s", recipeID, source, target)

	return recipe, nil
}
