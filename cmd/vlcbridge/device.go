package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vlcbridge/internal/audit"
	"github.com/nerrad567/vlcbridge/internal/device"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
	"github.com/nerrad567/vlcbridge/internal/vlc"
)

func newDeviceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage configured players",
	}
	cmd.AddCommand(
		newDeviceListCmd(opts),
		newDeviceAddCmd(opts),
		newDeviceRemoveCmd(opts),
	)
	return cmd
}

func newDeviceListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured players",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, registry, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			return printRecords(cmd.OutOrStdout(), registry.List(), opts.jsonOut)
		},
	}
}

func printRecords(w io.Writer, records []device.Record, jsonOut bool) error {
	if jsonOut {
		if records == nil {
			records = []device.Record{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No players configured")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tENTITY")
	for i := range records {
		r := &records[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Address(), r.EntityID())
	}
	return tw.Flush()
}

type addFlags struct {
	host     string
	port     int
	password string
	name     string
}

func newDeviceAddCmd(opts *options) *cobra.Command {
	flags := &addFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Probe a player and add it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, registry, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			// Setup goes through the session so the CLI applies the same
			// probe and duplicate rules as the hub flow.
			manager := session.NewManager(registry, headlessGateway{}, session.Options{
				ClientOptions: []vlc.Option{vlc.WithLogger(log)},
				Logger:        log,
				Audit:         audit.NewRecorder(audit.NewSQLiteRepository(db.DB), audit.SourceCLI, log),
			})
			defer manager.Close()

			result := manager.HandleSetup(ctx, session.SetupRequest{
				Host:   flags.host,
				Port:   flags.port,
				Secret: flags.password,
				Name:   flags.name,
			})
			return reportSetup(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&flags.host, "host", "", "player host name or IP address")
	cmd.Flags().IntVar(&flags.port, "port", device.DefaultPort, "player HTTP interface port")
	cmd.Flags().StringVar(&flags.password, "password", "", "player HTTP interface password")
	cmd.Flags().StringVar(&flags.name, "name", "", "display name")
	for _, name := range []string{"host", "password", "name"} {
		//nolint:errcheck // Flag names are defined above
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

// errSetupFailed is returned by device add when the player was not added.
var errSetupFailed = errors.New("setup failed")

func reportSetup(w io.Writer, result session.SetupResult) error {
	switch result.Error {
	case session.SetupErrorNone:
		fmt.Fprintf(w, "Added player %s (%s)\n", result.DeviceID, device.EntityIDFor(result.DeviceID))
		return nil
	case session.SetupErrorConnectionRefused:
		return fmt.Errorf("%w: %s: player %s did not answer with the given credentials", errSetupFailed, result.Error, result.DeviceID)
	default:
		return fmt.Errorf("%w: %s", errSetupFailed, result.Error)
	}
}

func newDeviceRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a configured player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, registry, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := registry.Remove(ctx, args[0]); err != nil {
				return fmt.Errorf("removing %s: %w", args[0], err)
			}
			audit.NewRecorder(audit.NewSQLiteRepository(db.DB), audit.SourceCLI, log).
				Record(ctx, audit.ActionDeviceRemoved, args[0], nil)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed player %s\n", args[0])
			return nil
		},
	}
}

// headlessGateway is the session gateway for one-shot CLI commands: there
// is no hub to tell.
type headlessGateway struct{}

func (headlessGateway) UpdateAttributes(context.Context, string, player.State) error { return nil }
func (headlessGateway) SetDeviceState(context.Context, session.DeviceState) error { return nil }
func (headlessGateway) ClearEntities() {}
func (headlessGateway) AddEntity(*player.Adapter) {}
func (headlessGateway) EntityCount() int { return 0 }
