package commands

import (
	"fmt"
	"os"

	"github.com/padstow/galley/internal/printer"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter galley.yml in the current directory",
	Long: `Create a starter galley.yml with one persona per pipeline stage. Edit
the commands to point at your own agent executables, then start the
pipeline with 'galley run'.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing galley.yml")
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `version: "1.0"
instance: "test-kitchen"

redis:
  addr: "localhost:6379"
  db: 0

coordinator: "editor"

team:
  margaret:
    role: "recipe developer"
    stage: "development"
    command: ["./agents/developer"]
  steph:
    role: "food photographer"
    stage: "photography"
    command: ["./agents/photographer"]
  devon:
    role: "copywriter"
    stage: "copywriting"
    command: ["./agents/copywriter"]
  priya:
    role: "creative director"
    stage: "creative_review"
    command: ["./agents/creative-review"]
  frank:
    role: "editor in chief"
    stage: "human_review"
    command: ["./agents/human-review"]
  noor:
    role: "site producer"
    stage: "deployment"
    command: ["./agents/deploy"]

pipeline:
  max_revisions: 3
  stage_timeout_seconds: 120
  max_attempts: 3
  retry_backoff_seconds: 2
  poll_interval_seconds: 10
`

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = "galley.yml"
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		printer.Error(
			fmt.Sprintf("%s already exists", path),
			"refusing to overwrite an existing configuration",
			[]string{"pass --force to overwrite", "or pass --config to choose another path"},
		)
		return fmt.Errorf("%s already exists", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	printer.Success("Created %s\n", path)
	printer.Info("Edit the team commands, then run 'galley run' to start the pipeline.\n")
	return nil
}
