package commands

import (
	"fmt"

	"github.com/padstow/galley/internal/config"
	"github.com/padstow/galley/pkg/kitchen"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "galley",
	Short: "Galley - recipe production workflow engine",
	Long: `Galley drives recipes through a staged creative pipeline: development,
photography, copywriting, two review gates, and deployment. A simulated
creative team of named personas works each stage, and their exchanges are
recorded as an addressed message log that doubles as the audit trail for the
published behind-the-scenes story.

State lives in Redis, namespaced per instance, with crash-consistent status
transitions (a recipe is never lost, at worst briefly duplicated).`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "galley.yml", "Path to galley.yml")
}

// loadClient loads the config and opens a kitchen client for its instance.
// Caller must Close() the client.
func loadClient() (*config.GalleyConfig, *kitchen.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	client, err := kitchen.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Instance)
	if err != nil {
		return nil, nil, err
	}

	return cfg, client, nil
}
