package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courier-cdc/courier/admin"
	"github.com/courier-cdc/courier/cfg"
	"github.com/courier-cdc/courier/db"
	"github.com/courier-cdc/courier/notify"
	"github.com/courier-cdc/courier/publisher"
	_ "github.com/courier-cdc/courier/publisher/sink"
	_ "github.com/courier-cdc/courier/publisher/transformer"
	"github.com/courier-cdc/courier/routing"
	"github.com/courier-cdc/courier/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Courier - change data routing and batching")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("driver", cfg.Config.Database.Driver).Msg("Opening change-log store")
	store, err := db.Open(db.Options{
		Driver:        cfg.Config.Database.Driver,
		DSN:           cfg.Config.Database.DSN,
		BusyTimeoutMS: cfg.Config.Database.BusyTimeoutMS,
		MaxOpenConns:  cfg.Config.Database.MaxOpenConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open change-log store")
		return
	}
	defer store.Close()

	if err := store.Seed(ctx, cfg.Config); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed configuration")
		return
	}

	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     cfg.Config.DataDir,
		SinkConfigs: cfg.Config.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize batch publisher")
		return
	}
	if err := registry.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start batch publisher")
		return
	}
	defer registry.Stop()

	hub := notify.NewHub()
	service := routing.NewService(store, routing.OptionsFromConfig(cfg.Config), hub, registry)

	// Batches routed before a crash may never have reached the publish log
	announced, err := service.AnnounceRouted(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to announce routed batches")
	} else if announced > 0 {
		log.Info().Int("batches", announced).Msg("Re-announced routed batches")
	}

	channels, err := service.Channels(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list channels")
		return
	}
	channelIDs := make([]string, 0, len(channels))
	for _, ch := range channels {
		channelIDs = append(channelIDs, ch.ChannelID)
	}

	scheduler := routing.NewScheduler(service, hub,
		time.Duration(cfg.Config.Routing.PollIntervalMS)*time.Millisecond,
		time.Duration(cfg.Config.Routing.MaxBackoffMS)*time.Millisecond)
	scheduler.Start(ctx, channelIDs)
	defer scheduler.Stop()

	collector := telemetry.NewMetricsCollector(service, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	var server *http.Server
	if cfg.Config.Admin.Enabled {
		server = startAdminServer(store, service, scheduler, registry)
	}

	log.Info().
		Str("node_group_id", cfg.Config.NodeGroupID).
		Int("channels", len(channelIDs)).
		Str("data_dir", cfg.Config.DataDir).
		Msg("Courier started successfully")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin server shutdown failed")
		}
		cancel()
	}
}

func startAdminServer(store *db.Store, service *routing.Service, scheduler *routing.Scheduler, registry *publisher.Registry) *http.Server {
	mux := http.NewServeMux()
	handlers := admin.NewHandlers(store, service, scheduler, registry)
	admin.RegisterRoutes(mux, handlers, cfg.Config.Admin.Secret)
	if h := telemetry.GetMetricsHandler(); h != nil {
		mux.Handle("/metrics", h)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("address", addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return server
}
