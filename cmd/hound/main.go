package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tazhate/hound/config"
	"github.com/tazhate/hound/internal/api"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hound",
	Short: "Hound - dog care reminder backend",
	Long: `Hound keeps a family's dog care reminders on schedule: it arms a
timer for every reminder, survives restarts, and pushes a notification to
every family member when something is due.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hound version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (default $HOUND_CONFIG)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(familyCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(versionCmd)

	api.Version = Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Hound version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// setup loads the configuration, initializes logging and opens the store.
func setup(cmd *cobra.Command) (*config.Config, *storage.Storage, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})

	store, err := storage.New(cfg.DatabaseDriver, cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init storage: %w", err)
	}
	return cfg, store, nil
}
