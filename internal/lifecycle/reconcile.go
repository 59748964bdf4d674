package lifecycle

import (
	"context"
	"log"

	"github.com/padstow/galley/pkg/kitchen"
)

// Reconcile scans every status partition for recipes that appear in more than
// one (the signature of a transition that crashed between writing the new copy
// and deleting the old one) and deletes all but the copy with the newest
// updated_at. Run at engine startup.
//
// Returns the number of duplicates removed.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	type located struct {
		recipe *kitchen.Recipe
		status kitchen.Status
	}

	byID := make(map[string][]located)
	for _, status := range kitchen.AllStatuses {
		recipes, err := m.client.ListByStatus(ctx, status)
		if err != nil {
			return 0, err
		}
		for _, r := range recipes {
			byID[r.ID] = append(byID[r.ID], located{recipe: r, status: status})
		}
	}

	removed := 0
	for id, copies := range byID {
		if len(copies) < 2 {
			continue
		}

		// Keep the newest copy; a duplicated recipe is recoverable, a lost
		// one is not, so preferring newer is always safe.
		newest := copies[0]
		for _, c := range copies[1:] {
			if c.recipe.UpdatedAtMs > newest.recipe.UpdatedAtMs {
				newest = c
			}
		}

		for _, c := range copies {
			if c.status == newest.status {
				continue
			}
			if err := m.client.DeleteRecipeFrom(ctx, c.status, id); err != nil {
				return removed, err
			}
			removed++
			log.Printf("[Lifecycle] Reconciled recipe %s: dropped stale copy in %s, kept %s",
				id, c.status, newest.status)
		}
	}

	return removed, nil
}
