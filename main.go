package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const shutdownTimeout = 20 * time.Second

func main() {
	flag.Parse()
	configPath, explicit := defaultConfigPath, false
	if flag.NArg() > 0 {
		configPath, explicit = flag.Arg(0), true
	}

	startupLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		startupLog.Fatal().Err(err).Str("path", configPath).Msg("Invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var out io.Writer = os.Stderr
	if stdinIsTerminal() {
		out = crlfWriter{w: os.Stderr}
	}
	logger := newLogger(cfg.Logging, out)

	// Connection manager
	manager := NewManager(cfg.managerConfig(), sessionFactory(cfg, logger), logger)

	// Integrations
	var integrations []Integration

	if cfg.Discord.Enabled {
		dc, err := NewDiscordSink(cfg.Discord.BotToken, DiscordSinkConfig{
			ChannelID: cfg.Discord.ChannelID,
			GuildID:   cfg.Discord.GuildID,
			BotName:   cfg.Server.BotName,
			Relay:     cfg.RelayKinds(),
			Censor:    NewCensor(cfg.Relay.Censor),
			Commands:  cfg.Discord.Commands,
		}, manager, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Discord client")
		}
		integrations = append(integrations, dc)
	}

	if cfg.Advertiser.Enabled {
		integrations = append(integrations,
			NewAdvertiserSink(cfg.Advertiser.URL, cfg.Advertiser.Name, millis(cfg.Advertiser.TimeoutMS)))
	}

	if cfg.OTel.Enabled {
		meterProvider, loggerProvider, err := setupOTel(ctx, cfg.OTel)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to set up OpenTelemetry")
		}
		defer meterProvider.Shutdown(context.Background())
		defer loggerProvider.Shutdown(context.Background())

		metrics, err := NewMetricsSink(meterProvider)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create metrics")
		}
		integrations = append(integrations,
			NewOTelLogSink(loggerProvider.Logger(cfg.OTel.ServiceName), cfg.RelayKinds()),
			metrics,
		)
	}

	if cfg.Feed.Enabled {
		integrations = append(integrations, NewFeedSink(cfg.Feed.Listen, cfg.Feed.AllowedOrigins, logger))
	}

	// Bridge + listeners
	bridge := NewBridge(integrations, logger)
	manager.Subscribe(ListenerFunc(logLifecycle(logger)))
	manager.Subscribe(bridge)
	manager.Subscribe(NewGreeter(manager, cfg.Greeting.Messages, millis(cfg.Greeting.DelayMS), logger))

	var wg sync.WaitGroup
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		bridge.Run(bridgeCtx)
	}()

	if restoreTerm, ok := watchQuitKey(cancel); ok {
		defer restoreTerm()
		logger.Info().Msg("Press q to quit")
	}

	if err := bridge.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start integrations")
	}
	manager.Start()

	names := make([]string, len(integrations))
	for i, in := range integrations {
		names[i] = in.Name()
	}
	logger.Info().
		Str("server", cfg.Server.Host+":"+cfg.Server.RCONPort).
		Strs("integrations", names).
		Msg("gamechat-relay started")
	if cfg.Relay.StartupNotice != "" {
		bridge.SendMessage(ctx, cfg.Relay.StartupNotice)
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	manager.Stop()
	if err := bridge.Drain(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Pending events were not delivered")
	}
	if cfg.Relay.ShutdownNotice != "" {
		bridge.SendMessage(shutdownCtx, cfg.Relay.ShutdownNotice)
	}
	stopBridge()
	wg.Wait()
	bridge.Stop(shutdownCtx)
}

// setupOTel builds OTLP/gRPC metric and log pipelines. Endpoints come from the
// standard OTEL_EXPORTER_OTLP_* environment variables.
func setupOTel(ctx context.Context, cfg OTelConfig) (*sdkmetric.MeterProvider, *sdklog.LoggerProvider, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(millis(cfg.MetricsIntervalMS)))),
	)

	logExporter, err := otlploggrpc.New(ctx, otlploggrpc.WithInsecure())
	if err != nil {
		meterProvider.Shutdown(ctx)
		return nil, nil, fmt.Errorf("log exporter: %w", err)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	return meterProvider, loggerProvider, nil
}

func newLogger(cfg LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// sessionFactory builds a fresh RCON-backed session for every connect attempt.
func sessionFactory(cfg Config, logger zerolog.Logger) SessionFactory {
	var tailer *LogTailer
	switch cfg.LogSource.Type {
	case "file":
		tailer = NewLogTailer(&FileLogSource{Path: cfg.LogSource.Path}, logger)
	case "k8s":
		src := NewPodLogSource(NewK8sClient(cfg.LogSource.Namespace), cfg.LogSource.PodLabel, logger)
		tailer = NewLogTailer(src, logger)
	}

	sessionCfg := RCONSessionConfig{
		PollInterval:    millis(cfg.Server.PollIntervalMS),
		ChatCommand:     cfg.Server.ChatCommand,
		ListCommand:     cfg.Server.ListCommand,
		GamemodeCommand: cfg.Server.GamemodeCommand,
		LeaveMessage:    cfg.Server.LeaveMessage,
	}
	return func() (Session, error) {
		pool := NewRCONPool(cfg.Server.Host, cfg.Server.RCONPort, cfg.Server.Password)
		return NewRCONSession(pool, sessionCfg, tailer, logger), nil
	}
}

func logLifecycle(logger zerolog.Logger) func(Event) {
	log := logger.With().Str("component", "lifecycle").Logger()
	return func(ev Event) {
		switch e := ev.(type) {
		case Reconnecting:
			l := log.Info().Int("attempt", e.Attempt).Dur("delay", e.Delay)
			if e.Unbounded() {
				l = l.Str("max", "unbounded")
			} else {
				l = l.Int("max", e.MaxRetries)
			}
			l.Msg("Reconnecting to game server")
		case ConnectError:
			log.Warn().Err(e.Err).Msg("Connection attempt failed")
		case Disconnected:
			log.Info().Str("reason", string(e.Reason)).Int("attempts", e.Attempts).Msg("Disconnected")
		case GamemodeChanged:
			log.Info().Str("gamemode", e.Value).Msg("Gamemode changed")
		}
	}
}
