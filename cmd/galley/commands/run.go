package commands

import (
	"os/signal"
	"syscall"

	"github.com/padstow/galley/internal/lifecycle"
	"github.com/padstow/galley/internal/pipeline"
	"github.com/padstow/galley/internal/printer"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline engine",
	Long: `Run the pipeline engine for this instance until interrupted.

Each team member's configured command is invoked as its stage capability:
the recipe and its discussion history arrive on stdin as JSON, and the
command must write a single StageOutcome JSON object to stdout.

The engine reconciles any crash leftovers at startup, then polls the
pending and approved partitions and advances every workable recipe.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, client, err := loadClient()
	if err != nil {
		return err
	}
	defer client.Close()

	engine := pipeline.NewEngine(client, lifecycle.NewManager(client), cfg)

	for name, member := range cfg.Team {
		if len(member.Command) == 0 {
			return printer.Error(
				"Team member has no command",
				"Every persona needs a command to act as its stage capability when running the engine.",
				[]string{"Add a command to member '" + name + "' in " + configPath},
			)
		}
		engine.RegisterCapability(member.Stage, &pipeline.ExecCapability{Command: member.Command})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer.Step("Starting pipeline engine for instance '%s'\n", cfg.Instance)

	return engine.Run(ctx)
}
