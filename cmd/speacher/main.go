package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/speacher/internal/api"
	"github.com/snarg/speacher/internal/config"
	"github.com/snarg/speacher/internal/events"
	"github.com/snarg/speacher/internal/history"
	"github.com/snarg/speacher/internal/jobs"
	"github.com/snarg/speacher/internal/pipeline"
	"github.com/snarg/speacher/internal/provider"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "postgres connection string")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-broker", "", "mqtt broker url")
	flag.StringVar(&overrides.UploadDir, "upload-dir", "", "directory for spooled uploads")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("speacher starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Provider adapters; only configured providers are registered
	registry := provider.NewRegistry()
	registerProviders(ctx, registry, cfg, log)
	if len(registry.Names()) == 0 {
		log.Warn().Msg("no transcription providers configured")
	} else {
		log.Info().Strs("providers", registry.Names()).Msg("providers configured")
	}

	// Database (optional)
	var db *history.Store
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = history.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
	} else {
		log.Info().Msg("no database configured, history disabled")
	}

	// MQTT (optional)
	var mqtt *events.Publisher
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = events.Connect(events.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	} else {
		log.Info().Msg("no mqtt broker configured, job events disabled")
	}

	// Job store and pipeline
	store := jobs.NewStore()
	pipe := pipeline.New(pipeline.Options{
		Store:        store,
		Registry:     registry,
		Archive:      archive(db),
		Events:       mqtt,
		PollInterval: cfg.PollInterval,
		JobTimeout:   cfg.JobTimeout,
		Log:          log.With().Str("component", "pipeline").Logger(),
	})

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(ctx, cfg, api.Deps{
		Store:    store,
		Registry: registry,
		Pipeline: pipe,
		DB:       db,
		MQTT:     mqtt,
		Version:  version,
	}, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("speacher stopped")
}

func registerProviders(ctx context.Context, registry *provider.Registry, cfg *config.Config, log zerolog.Logger) {
	awsCfg := provider.AWSConfig{
		Region:    cfg.AWSRegion,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
		Bucket:    cfg.AWSBucket,
		Endpoint:  cfg.AWSEndpoint,
	}
	if awsCfg.Configured() {
		a, err := provider.NewAWSAdapter(awsCfg, log.With().Str("component", "aws").Logger())
		if err != nil {
			log.Error().Err(err).Msg("aws adapter init failed")
		} else {
			registry.Register(a)
		}
	}

	azureCfg := provider.AzureConfig{
		StorageAccount: cfg.AzureStorageAccount,
		StorageKey:     cfg.AzureStorageKey,
		Container:      cfg.AzureContainer,
		SpeechKey:      cfg.AzureSpeechKey,
		SpeechRegion:   cfg.AzureSpeechRegion,
	}
	if azureCfg.Configured() {
		a, err := provider.NewAzureAdapter(azureCfg, log.With().Str("component", "azure").Logger())
		if err != nil {
			log.Error().Err(err).Msg("azure adapter init failed")
		} else {
			registry.Register(a)
		}
	}

	gcpCfg := provider.GCPConfig{
		Bucket:          cfg.GCPBucket,
		APIKey:          cfg.GCPAPIKey,
		CredentialsFile: cfg.GCPCredentialsFile,
	}
	if gcpCfg.Configured() {
		a, err := provider.NewGCPAdapter(ctx, gcpCfg, log.With().Str("component", "gcp").Logger())
		if err != nil {
			log.Error().Err(err).Msg("gcp adapter init failed")
		} else {
			registry.Register(a)
		}
	}
}

// archive keeps a nil *history.Store out of the pipeline's interface field.
func archive(db *history.Store) pipeline.Archive {
	if db == nil {
		return nil
	}
	return db
}
