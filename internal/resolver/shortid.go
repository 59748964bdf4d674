// Package resolver maps short recipe-ID prefixes typed on the CLI to full
// UUIDs stored in the kitchen.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/padstow/galley/pkg/kitchen"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// ResolveRecipeID resolves a short ID prefix to a full UUID.
// Returns the full UUID if exactly one match found.
// Returns error if zero or multiple matches found.
func ResolveRecipeID(ctx context.Context, client *kitchen.Client, shortID string) (string, error) {
	// If input is already a full UUID, verify it exists and return as-is
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		_, err := client.GetRecipe(ctx, shortID)
		if err != nil {
			if kitchen.IsNotFound(err) {
				return "", fmt.Errorf("recipe not found: %s", shortID)
			}
			return "", fmt.Errorf("failed to verify recipe existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := client.ScanRecipeIDs(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for recipe: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no recipes matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no recipes found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple recipes matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d recipes", e.ShortID, len(e.Matches))
}
