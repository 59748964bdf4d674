package commands

import (
	"context"
	"os"

	"github.com/padstow/galley/internal/report"
	"github.com/padstow/galley/internal/resolver"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <recipe-id>",
	Short: "Show the full cross-agent discussion for a recipe",
	Long: `Show the full ordered message log correlated to a recipe, across every
persona's mailbox. This is the raw material for the published
behind-the-scenes story. Accepts a short ID prefix (6+ characters).`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, client, err := loadClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()

	recipeID, err := resolver.ResolveRecipeID(ctx, client, args[0])
	if err != nil {
		return err
	}

	messages, err := client.History(ctx, recipeID)
	if err != nil {
		return err
	}

	report.FormatDiscussion(os.Stdout, messages, recipeID)
	return nil
}
