// fleetlink - device state aggregation and realtime fan-out.
//
// This is the main entry point for the fleetlink server. It connects to an
// MQTT broker (or starts an embedded one), folds device reports into an
// in-memory state store, pushes that state to WebSocket viewers and relays
// their commands back to the devices. A direct HTTP proxy reaches devices
// by IP when MQTT is not an option.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/fleetlink/internal/aggregator"
	"github.com/nerrad567/fleetlink/internal/api"
	"github.com/nerrad567/fleetlink/internal/broker"
	"github.com/nerrad567/fleetlink/internal/device"
	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/infrastructure/kafka"
	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetlink/internal/proxy"
	"github.com/nerrad567/fleetlink/internal/realtime"
	"github.com/nerrad567/fleetlink/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the parsed command-line flags.
type options struct {
	configPath string

	// explicitConfig is true when the path came from --config or
	// FLEETLINK_CONFIG, in which case a missing file is an error.
	explicitConfig bool
	showVersion    bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options

	flags := pflag.NewFlagSet("fleetlink", pflag.ContinueOnError)
	flags.SetOutput(out)
	flags.StringVarP(&opts.configPath, "config", "c", "",
		"path to the YAML config file (default $FLEETLINK_CONFIG or "+defaultConfigPath+")")
	flags.BoolVarP(&opts.showVersion, "version", "v", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	switch {
	case opts.configPath != "":
		opts.explicitConfig = true
	case os.Getenv("FLEETLINK_CONFIG") != "":
		opts.configPath = os.Getenv("FLEETLINK_CONFIG")
		opts.explicitConfig = true
	default:
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// loadConfig reads the config file. Only the implicit default path may be
// missing, in which case built-in defaults are used.
func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}
	if !opts.explicitConfig && errors.Is(err, fs.ErrNotExist) {
		return config.Default()
	}
	return nil, err
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(out, "fleetlink %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fleetlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", opts.configPath,
		"level", cfg.Logging.Level,
		"namespace", cfg.MQTT.Topics.Namespace,
	)

	// Embedded broker (optional)
	if cfg.MQTT.Embedded.Enabled {
		b := broker.New(cfg.MQTT.Embedded, log)
		if err := b.Start(); err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// State pipeline: broker → aggregator → store → hub → viewers
	topics := device.Topics{Namespace: cfg.MQTT.Topics.Namespace}
	qos := byte(cfg.MQTT.QoS)

	store := device.NewStore()
	store.SetLogger(log.Component("store"))

	format, err := relay.ParseFormat(cfg.MQTT.Topics.CommandFormat)
	if err != nil {
		return fmt.Errorf("configuring command relay: %w", err)
	}
	commandRelay := relay.New(mqttClient, topics, format, qos)

	hub := realtime.NewHub(store, commandRelay)
	hub.SetLogger(log.Component("realtime"))

	if cfg.Kafka.Enabled {
		exporter, err := kafka.New(cfg.Kafka, log.Component("kafka"))
		if err != nil {
			return fmt.Errorf("creating kafka exporter: %w", err)
		}
		defer func() {
			if closeErr := exporter.Close(); closeErr != nil {
				log.Error("error closing kafka exporter", "error", closeErr)
			}
		}()
		hub.SetAlertSink(exporter)
		log.Info("kafka alert export enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	agg := aggregator.New(store, topics, hub)
	agg.SetLogger(log.Component("aggregator"))
	if err := agg.Subscribe(mqttClient, qos); err != nil {
		return fmt.Errorf("subscribing to device topics: %w", err)
	}
	log.Info("subscribed to device topics", "patterns", topics.Subscriptions())

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.Component("api"),
		Store:      store,
		Hub:        hub,
		Relay:      commandRelay,
		Proxy:      proxy.New(cfg.GetProxyTimeout(), cfg.Proxy.Scheme),
		MQTT:       mqttClient,
		Aggregator: agg,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := healthCheck(ctx, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		log.Info("initialisation complete, waiting for shutdown signal")
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")
		return server.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("fleetlink stopped")
	return nil
}

// healthCheck verifies infrastructure connections before serving.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client) error {
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
