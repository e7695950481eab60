package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/vlcbridge/internal/audit"
	"github.com/nerrad567/vlcbridge/internal/discovery"
	"github.com/nerrad567/vlcbridge/internal/hub"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/config"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/database"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/logging"
	"github.com/nerrad567/vlcbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/vlcbridge/internal/mirror"
	"github.com/nerrad567/vlcbridge/internal/player"
	"github.com/nerrad567/vlcbridge/internal/session"
	"github.com/nerrad567/vlcbridge/internal/vlc"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
}

// run wires every component and blocks until ctx is cancelled. Deferred
// closes run in reverse start order.
func run(ctx context.Context, opts *options) error {
	log := logging.Default()
	log.Info("starting vlcbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", getConfigPath(opts))

	db, registry, err := openRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("device registry loaded", "path", cfg.Database.Path, "devices", registry.Count())

	server, err := hub.New(hub.Deps{
		Config:      cfg.Listen,
		Integration: cfg.Integration,
		Logger:      log,
		DB:          db,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating hub server: %w", err)
	}

	sessOpts := sessionOptions(cfg, log)
	sessOpts.Audit = audit.NewRecorder(audit.NewSQLiteRepository(db.DB), audit.SourceHub, log)
	manager := session.NewManager(registry, server, sessOpts)
	defer func() {
		log.Info("stopping player sessions")
		manager.Close()
	}()
	server.SetSession(manager)

	mqttClient, mqttMirror, err := startMQTT(ctx, cfg, server, manager, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer mqttMirror.Close()
	}

	influxClient, err := startTelemetry(cfg, server, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting hub server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing hub server", "error", closeErr)
		}
	}()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	if cfg.Discovery.Enabled {
		advertiser := discovery.NewAdvertiser(discovery.InfoFromConfig(cfg, version))
		if err := advertiser.Start(); err != nil {
			// The hub can still be pointed at the bridge by address.
			log.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer advertiser.Shutdown()
			info := advertiser.Info()
			log.Info("mDNS advertisement started", "instance", info.Instance, "service", info.Service)
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", cfg.ListenAddr())

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// sessionOptions maps configuration onto session options.
func sessionOptions(cfg *config.Config, log *logging.Logger) session.Options {
	opts := session.Options{
		Timing: player.Timing{
			PollInterval: cfg.Polling.StatusInterval,
			ErrorBackoff: cfg.Polling.ErrorBackoff,
			SettleDelay:  cfg.Polling.SettleDelay,
		},
		ConnectivityInterval: cfg.Polling.ConnectivityInterval,
		ConnectivityBackoff:  cfg.Polling.ConnectivityBackoff,
		ConnectivityWorkers:  cfg.Polling.ConnectivityWorkers,
		ClientOptions:        []vlc.Option{vlc.WithLogger(log)},
		Logger:               log,
	}
	if base := cfg.Integration.PublicURL; base != "" {
		opts.ImageURL = func(deviceID string) string {
			return hub.ArtURL(base, deviceID)
		}
	}
	return opts
}

// startMQTT connects the state mirror when enabled. It returns nils when
// MQTT is disabled.
func startMQTT(ctx context.Context, cfg *config.Config, server *hub.Server, manager *session.Manager, log *logging.Logger) (*mqtt.Client, *mirror.MQTT, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT mirror disabled")
		return nil, nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Debug("MQTT session established")
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", client.Topics().Prefix,
	)

	m := mirror.NewMQTT(client, manager, log)
	if err := m.Start(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("starting MQTT mirror: %w", err)
	}
	server.AddObserver(m)
	return client, m, nil
}

// startTelemetry connects InfluxDB when enabled. It returns a nil client
// when telemetry is disabled.
func startTelemetry(cfg *config.Config, server *hub.Server, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB telemetry disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)

	server.AddObserver(mirror.NewTelemetry(client))
	return client, nil
}

// healthCheck verifies the infrastructure the bridge started with. Nil
// optional clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
