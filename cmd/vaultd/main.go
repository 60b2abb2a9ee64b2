// Package main is the entry point for the vault service daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"

	"github.com/docvault/docvault/internal/audit"
	"github.com/docvault/docvault/internal/backend"
	"github.com/docvault/docvault/internal/config"
	"github.com/docvault/docvault/internal/keys"
	"github.com/docvault/docvault/internal/migration"
	"github.com/docvault/docvault/internal/server"
	"github.com/docvault/docvault/internal/vault"
	"github.com/docvault/docvault/pkg/metrics"
	"github.com/docvault/docvault/pkg/tracing"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	logger := setupLogger()
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("go_version", runtime.Version()).
		Msg("starting vault service")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Initialize metrics
	appMetrics := metrics.NewMetrics()
	logger.Info().Msg("metrics initialized")

	// Initialize tracing
	var tracer *tracing.Tracer
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint != "" {
		tracingCfg := tracing.Config{
			ServiceName:    "docvault",
			ServiceVersion: version,
			Endpoint:       cfg.Observability.TracingEndpoint,
			Insecure:       cfg.Observability.TracingInsecure,
			SampleRate:     cfg.Observability.TracingSampleRate,
			Environment:    cfg.Observability.Environment,
			Enabled:        true,
		}
		tracer, err = tracing.InitTracer(tracingCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without tracing")
		} else {
			logger.Info().
				Str("endpoint", cfg.Observability.TracingEndpoint).
				Float64("sample_rate", cfg.Observability.TracingSampleRate).
				Msg("tracing initialized")
		}
	} else {
		logger.Info().Msg("tracing disabled")
	}

	// Create storage backends
	adapters, blobStore, driveSvc, err := createBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create storage backends")
	}

	// Create key provider chain
	var keyProvider keys.Provider
	if cfg.Vault.EncryptionEnabled {
		keyProvider, err = createKeyChain(cfg, appMetrics.Vault, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create key provider")
		}
	}

	// Create audit log. Audit entries persist next to the documents in the
	// bucket; without a bucket they stay in memory.
	var auditLog audit.Log
	if blobStore != nil {
		auditLog = audit.NewBlobRecorder(blobStore, logger)
	} else {
		logger.Warn().Msg("bucket backend disabled - audit entries are kept in memory only")
		auditLog = audit.NewMemoryRecorder()
	}

	// Create vault service
	vaultService, err := vault.NewService(vault.Options{
		Adapters:   adapters,
		Preference: vault.Preference(cfg.Vault.StoragePreference),
		Keys:       keyProvider,
		Encrypt:    cfg.Vault.EncryptionEnabled,
		Audit:      auditLog,
		Metrics:    appMetrics.Vault,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault service")
	}

	logger.Info().
		Str("storage_preference", cfg.Vault.StoragePreference).
		Bool("encryption", cfg.Vault.EncryptionEnabled).
		Bool("kms", cfg.KMSEnabled()).
		Msg("vault service initialized")

	// Create migration coordinator when drive is available as a source
	var migrator server.BatchMigrator
	if driveSvc != nil {
		fetcher := migration.NewDriveFetcher(driveSvc, logger)
		migrator = migration.NewCoordinator(vaultService, fetcher, migration.Config{
			Threshold: cfg.Migration.Threshold,
			Workers:   cfg.Migration.Workers,
		}, appMetrics.Vault, logger)
		logger.Info().
			Int("threshold", cfg.Migration.Threshold).
			Int("workers", cfg.Migration.Workers).
			Msg("migration coordinator initialized")
	} else {
		logger.Info().Msg("drive backend disabled - batch migration unavailable")
	}

	// Start retention sweeper
	if cfg.Vault.RetentionEnabled {
		sweeper := vault.NewRetentionSweeper(vaultService, vault.RetentionConfig{
			Interval:  cfg.Vault.RetentionInterval,
			Retention: cfg.Vault.RetentionPeriod,
			BatchSize: cfg.Vault.RetentionBatchSize,
		}, logger)
		sweeper.Start(ctx)
	}

	// Create HTTP server
	handler := server.NewVaultHandler(vaultService, migrator, auditLog, logger)
	httpConfig := server.HTTPConfig{
		Port:           cfg.Server.HTTPPort,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    120 * time.Second,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		EnableTracing:  tracer != nil,
		Metrics:        appMetrics.Vault,
	}
	httpServer := server.NewHTTPServer(httpConfig, handler, logger)

	// Create metrics server
	metricsServerCfg := server.MetricsServerConfig{
		Port:         cfg.Server.MetricsPort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Path:         "/metrics",
	}
	metricsServer := server.NewMetricsServer(metricsServerCfg, appMetrics, logger)

	// Channel to collect errors from servers
	errCh := make(chan error, 2)

	go func() {
		if err := httpServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	go func() {
		if err := metricsServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	logger.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Msg("vault service started")

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// Shutdown tracer first (to flush any pending spans)
	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
			shutdownErr = err
		} else {
			logger.Info().Msg("tracer shutdown complete")
		}
	}

	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
		shutdownErr = err
	}

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
		shutdownErr = err
	}

	if shutdownErr != nil {
		logger.Error().Msg("shutdown completed with errors")
		os.Exit(1)
	}

	logger.Info().Msg("shutdown completed successfully")
}

// setupLogger initializes the zerolog logger.
func setupLogger() zerolog.Logger {
	// Default to JSON logging for production
	format := os.Getenv("DOCVAULT_LOG_FORMAT")
	level := os.Getenv("DOCVAULT_LOG_LEVEL")

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	var logger zerolog.Logger
	if format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.With().
		Timestamp().
		Str("service", "docvault").
		Logger()
}

// createBackends builds the configured storage adapters. The blob store and
// drive service are also returned directly: the blob store doubles as the
// audit sink and the drive service feeds the migration fetcher.
func createBackends(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]backend.Adapter, *backend.BlobStore, *drive.Service, error) {
	var adapters []backend.Adapter
	var blobStore *backend.BlobStore
	var driveSvc *drive.Service

	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cfg.Blob.Enabled {
		store, err := backend.NewBlobStore(backend.BlobConfig{
			Endpoint:        cfg.Blob.Endpoint,
			Bucket:          cfg.Blob.Bucket,
			Region:          cfg.Blob.Region,
			AccessKeyID:     cfg.Blob.AccessKeyID,
			SecretAccessKey: cfg.Blob.SecretAccessKey,
			UseSSL:          cfg.Blob.UseSSL,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create bucket backend: %w", err)
		}
		if err := store.Ensure(ensureCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure bucket exists - bucket storage may not work")
		}
		adapters = append(adapters, store)
		blobStore = store
		logger.Info().
			Str("bucket", cfg.Blob.Bucket).
			Str("endpoint", cfg.Blob.Endpoint).
			Msg("bucket backend initialized")
	}

	if cfg.Drive.Enabled {
		svc, err := backend.NewDriveService(ctx, cfg.Drive.CredentialsFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create drive client: %w", err)
		}
		store, err := backend.NewDriveStore(svc, cfg.Drive.FolderName, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create drive backend: %w", err)
		}
		if err := store.Ensure(ensureCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to ensure vault folder exists - drive storage may not work")
		}
		adapters = append(adapters, store)
		driveSvc = svc
		logger.Info().
			Str("folder", cfg.Drive.FolderName).
			Msg("drive backend initialized")
	}

	return adapters, blobStore, driveSvc, nil
}

// createKeyChain wires the managed key service in front of local derivation.
// Fallbacks to the local path are counted so an ailing key service is
// visible before it matters.
func createKeyChain(cfg *config.Config, m *metrics.VaultMetrics, logger zerolog.Logger) (keys.Provider, error) {
	local, err := keys.NewLocalProvider(cfg.Vault.LocalPassphrase)
	if err != nil {
		return nil, fmt.Errorf("create local key provider: %w", err)
	}

	if !cfg.KMSEnabled() {
		logger.Info().Msg("no managed key service configured - using local key derivation")
		return keys.NewChain(nil, "", local), nil
	}

	managed, err := keys.NewManagedProvider(keys.ManagedConfig{
		Address:   cfg.KMS.Address,
		Token:     cfg.KMS.Token,
		KeyName:   cfg.KMS.KeyName,
		Namespace: cfg.KMS.Namespace,
		Timeout:   cfg.KMS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create managed key provider: %w", err)
	}

	logger.Info().
		Str("address", cfg.KMS.Address).
		Str("key_name", cfg.KMS.KeyName).
		Msg("managed key service configured")

	return keys.NewChain(managed, cfg.KMS.KeyName, local, keys.WithFallbackHook(func(err error) {
		logger.Warn().Err(err).Msg("managed key service unavailable - falling back to local key derivation")
		if m != nil {
			m.RecordKeyFallback()
		}
	})), nil
}
