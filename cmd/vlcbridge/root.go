package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/vlcbridge/migrations"

	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/database"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/logging"
)

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "vlcbridge",
		Short:        "Bridge VLC media players to a remote-control hub",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: $VLCBRIDGE_CONFIG or "+config.DefaultPath+")")
	root.PersistentFlags().BoolVarP(&opts.jsonOut, "json", "j", false, "output as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newDeviceCmd(opts),
		newAuditCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// getConfigPath returns the --config flag, then VLCBRIDGE_CONFIG, then the
// default path.
func getConfigPath(opts *options) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	if path := os.Getenv("VLCBRIDGE_CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath
}

// loadConfig loads configuration and builds the configured logger.
func loadConfig(opts *options) (*config.Config, *logging.Logger, error) {
	configPath := getConfigPath(opts)
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openRegistry opens and migrates the database and loads the device
// registry. The caller closes the returned database.
func openRegistry(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *device.Registry, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if err := registry.Reload(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("loading device registry: %w", err)
	}
	return db, registry, nil
}
