package commands

import (
	"context"
	"os"

	"github.com/padstow/galley/internal/report"
	"github.com/spf13/cobra"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox <agent-name>",
	Short: "Show the messages addressed to a persona",
	Long: `Show every message delivered to the named persona's mailbox, oldest
first. Only the recipient's own mailbox is readable; there is no way to
peek at another persona's traffic.`,
	Args: cobra.ExactArgs(1),
	RunE: runInbox,
}

func init() {
	rootCmd.AddCommand(inboxCmd)
}

func runInbox(cmd *cobra.Command, args []string) error {
	_, client, err := loadClient()
	if err != nil {
		return err
	}
	defer client.Close()

	messages, err := client.Inbox(context.Background(), args[0])
	if err != nil {
		return err
	}

	report.FormatMailbox(os.Stdout, messages, args[0])
	return nil
}
