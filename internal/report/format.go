// Package report formats recipes and message history for CLI output and for
// downstream story generation. The full discussion for a recipe is the raw
// material for the published behind-the-scenes write-up.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/padstow/galley/pkg/kitchen"
)

// FormatRecipeTable writes recipes as a formatted table to the provided writer.
// Returns the number of recipes formatted.
func FormatRecipeTable(w io.Writer, recipes []*kitchen.Recipe, status kitchen.Status) int {
	if len(recipes) == 0 {
		fmt.Fprintf(w, "No %s recipes found\n", status)
		return 0
	}

	fmt.Fprintf(w, "%s recipes:\n\n", status)

	fmt.Fprintf(w, "%-10s %-28s %-16s %-4s %-6s %s\n",
		"ID", "TITLE", "STAGE", "REV", "STUCK", "AGE")
	fmt.Fprintf(w, "%-10s %-28s %-16s %-4s %-6s %s\n",
		"----------", "----------------------------", "----------------", "----", "------", "--------")

	for _, r := range recipes {
		fmt.Fprintf(w, "%-10s %-28s %-16s %-4d %-6s %s\n",
			shorten(r.ID, 8),
			truncate(r.Title, 28),
			string(r.CurrentStage),
			r.RevisionCount,
			boolMark(r.Stuck),
			formatAge(r.CreatedAtMs),
		)
	}

	countMsg := "recipe"
	if len(recipes) != 1 {
		countMsg = "recipes"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(recipes), countMsg)

	return len(recipes)
}

// FormatRecipeJSONL writes recipes as line-delimited JSON to the provided
// writer. Ideal for streaming and processing with tools like jq.
func FormatRecipeJSONL(w io.Writer, recipes []*kitchen.Recipe) error {
	for _, recipe := range recipes {
		data, err := json.Marshal(recipe)
		if err != nil {
			return fmt.Errorf("failed to marshal recipe to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatDiscussion writes a recipe's cross-agent message history in
// chronological order, one exchange per block.
func FormatDiscussion(w io.Writer, messages []*kitchen.Message, recipeID string) int {
	if len(messages) == 0 {
		fmt.Fprintf(w, "No messages recorded for recipe %s\n", shorten(recipeID, 8))
		return 0
	}

	fmt.Fprintf(w, "Discussion for recipe %s:\n\n", shorten(recipeID, 8))

	for _, m := range messages {
		ts := time.UnixMilli(m.CreatedAtMs).UTC().Format("2006-01-02 15:04:05")
		fmt.Fprintf(w, "[%s] %s → %s (%s)\n", ts, m.Sender, m.Recipient, m.Type)
		if m.InReplyTo != "" {
			fmt.Fprintf(w, "  in reply to %s\n", shorten(m.InReplyTo, 8))
		}
		fmt.Fprintf(w, "  %s\n\n", truncate(m.Content, 200))
	}

	return len(messages)
}

// FormatMailbox writes a persona's inbox in arrival order.
func FormatMailbox(w io.Writer, messages []*kitchen.Message, agentName string) int {
	if len(messages) == 0 {
		fmt.Fprintf(w, "Mailbox for %s is empty\n", agentName)
		return 0
	}

	fmt.Fprintf(w, "Mailbox for %s:\n\n", agentName)

	fmt.Fprintf(w, "%-10s %-14s %-22s %-10s %s\n",
		"ID", "FROM", "TYPE", "RECIPE", "CONTENT")
	fmt.Fprintf(w, "%-10s %-14s %-22s %-10s %s\n",
		"----------", "--------------", "----------------------", "----------", "----------------------------------------")

	for _, m := range messages {
		fmt.Fprintf(w, "%-10s %-14s %-22s %-10s %s\n",
			shorten(m.ID, 8),
			truncate(m.Sender, 14),
			string(m.Type),
			shorten(m.RecipeID, 8),
			truncate(m.Content, 40),
		)
	}

	return len(messages)
}

// shorten returns the first n characters of an ID, or "-" for empty IDs.
func shorten(id string, n int) string {
	if id == "" {
		return "-"
	}
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// truncate limits a string to maxLen characters, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func formatAge(createdAtMs int64) string {
	if createdAtMs == 0 {
		return "-"
	}

	d := time.Since(time.UnixMilli(createdAtMs)).Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute

	if hours >= 24 {
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}
