package commands

import (
	"context"
	"os"

	"github.com/padstow/galley/internal/report"
	"github.com/padstow/galley/pkg/kitchen"
	"github.com/spf13/cobra"
)

var (
	listStatus string
	listJSONL  bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recipes in a status partition",
	Long: `List recipes in a status partition, ordered by creation time.

Stuck recipes stay in their real partition and are marked in the STUCK
column. Use --jsonl for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "pending", "Status partition to list (pending, approved, published, rejected)")
	listCmd.Flags().BoolVar(&listJSONL, "jsonl", false, "Output as line-delimited JSON")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	_, client, err := loadClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()

	status := kitchen.Status(listStatus)
	if err := status.Validate(); err != nil {
		return err
	}

	recipes, err := client.ListByStatus(ctx, status)
	if err != nil {
		return err
	}

	if listJSONL {
		return report.FormatRecipeJSONL(os.Stdout, recipes)
	}

	report.FormatRecipeTable(os.Stdout, recipes, status)
	return nil
}
