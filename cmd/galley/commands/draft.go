package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/padstow/galley/internal/printer"
	"github.com/padstow/galley/pkg/kitchen"
	"github.com/spf13/cobra"
)

var draftIngredients []string

var draftCmd = &cobra.Command{
	Use:   "draft <title>",
	Short: "Create a new recipe draft and queue it for the pipeline",
	Long: `Create a new recipe in pending status. The next pipeline sweep picks it
up at the Development stage.`,
	Args: cobra.ExactArgs(1),
	RunE: runDraft,
}

func init() {
	draftCmd.Flags().StringSliceVarP(&draftIngredients, "ingredient", "i", nil, "seed ingredient (repeatable)")
	rootCmd.AddCommand(draftCmd)
}

func runDraft(cmd *cobra.Command, args []string) error {
	_, client, err := loadClient()
	if err != nil {
		return err
	}
	defer client.Close()

	title := strings.TrimSpace(args[0])
	if title == "" {
		return fmt.Errorf("recipe title cannot be empty")
	}

	now := time.Now().UnixMilli()
	recipe := &kitchen.Recipe{
		ID:           uuid.NewString(),
		Slug:         slugify(title),
		Title:        title,
		Ingredients:  draftIngredients,
		Status:       kitchen.StatusPending,
		CurrentStage: kitchen.StageDevelopment,
		CreatedAtMs:  now,
		UpdatedAtMs:  now,
	}

	if err := client.CreateRecipe(context.Background(), recipe); err != nil {
		return err
	}

	printer.Success("Created recipe %s\n", recipe.ID)
	printer.Info("Status pending, waiting at the %s stage.\n", recipe.CurrentStage)
	return nil
}

func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
