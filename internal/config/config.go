// Package config provides configuration management for the vault service.
// Configuration is loaded from environment variables with the DOCVAULT_ prefix.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the vault service.
type Config struct {
	Server        ServerConfig
	Blob          BlobConfig
	Drive         DriveConfig
	KMS           KMSConfig
	Vault         VaultConfig
	Migration     MigrationConfig
	Log           LogConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP and metrics server settings.
type ServerConfig struct {
	// HTTPPort is the port for the vault API (default: 8080)
	HTTPPort int
	// MetricsPort is the port for Prometheus metrics (default: 9091)
	MetricsPort int
	// ShutdownTimeout is the graceful shutdown timeout (default: 30s)
	ShutdownTimeout time.Duration
	// ReadTimeout bounds request reads (default: 30s)
	ReadTimeout time.Duration
	// WriteTimeout bounds response writes (default: 60s)
	WriteTimeout time.Duration
	// MaxUploadBytes caps incoming document size (default: 64MB)
	MaxUploadBytes int64
}

// BlobConfig holds S3/MinIO object storage settings.
type BlobConfig struct {
	// Enabled wires the bucket backend in (default: true)
	Enabled bool
	// Endpoint is the S3/MinIO endpoint URL (required for MinIO, empty for AWS S3)
	Endpoint string
	// Bucket is the bucket name for vault documents (required when enabled)
	Bucket string
	// Region is the AWS region (default: us-east-1)
	Region string
	// AccessKeyID is the access key (required when enabled)
	AccessKeyID string
	// SecretAccessKey is the secret key (required when enabled)
	SecretAccessKey string
	// UseSSL enables SSL for MinIO connections (default: true)
	UseSSL bool
}

// DriveConfig holds Google Drive folder storage settings.
type DriveConfig struct {
	// Enabled wires the drive backend in (default: false)
	Enabled bool
	// CredentialsFile is a service-account key file; empty uses
	// application default credentials
	CredentialsFile string
	// FolderName is the vault folder name (default: SecureVault)
	FolderName string
}

// KMSConfig holds managed key-management service settings.
type KMSConfig struct {
	// Address is the base URL of the transit-style key service (optional;
	// empty disables the managed path and local derivation is used)
	Address string
	// Token authenticates requests to the key service
	Token string
	// KeyName is the named key for encrypt/decrypt (default: vault-docs)
	KeyName string
	// Namespace is an optional tenancy namespace
	Namespace string
	// Timeout bounds each key-service request (default: 10s)
	Timeout time.Duration
}

// VaultConfig holds core vault behavior settings.
type VaultConfig struct {
	// StoragePreference is bucket, drive, or hybrid (default: hybrid)
	StoragePreference string
	// EncryptionEnabled seals stored content (default: true)
	EncryptionEnabled bool
	// LocalPassphrase derives local encryption keys; required when
	// encryption is enabled and no managed key service is configured,
	// and required anyway as the managed fallback path
	LocalPassphrase string
	// RetentionEnabled starts the retention sweeper (default: false)
	RetentionEnabled bool
	// RetentionPeriod is the default document retention (default: 7y)
	RetentionPeriod time.Duration
	// RetentionInterval is how often the sweeper runs (default: 24h)
	RetentionInterval time.Duration
	// RetentionBatchSize limits documents examined per sweep (default: 100)
	RetentionBatchSize int
}

// MigrationConfig holds batch migration settings.
type MigrationConfig struct {
	// Threshold is the minimum finding count that triggers migration (default: 3)
	Threshold int
	// Workers bounds concurrent migrations (default: 8)
	Workers int
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error) (default: info)
	Level string
	// Format is the log format (json, console) (default: json)
	Format string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	// TracingEnabled enables OpenTelemetry tracing (default: false)
	TracingEnabled bool
	// TracingEndpoint is the OTLP collector endpoint (e.g., "localhost:4318")
	TracingEndpoint string
	// TracingInsecure disables TLS for the tracing connection (default: true)
	TracingInsecure bool
	// TracingSampleRate is the sampling rate (0.0 to 1.0) (default: 1.0)
	TracingSampleRate float64
	// Environment is the deployment environment (e.g., "production", "staging")
	Environment string
}

// Load reads configuration from environment variables.
// Environment variables use the DOCVAULT_ prefix.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPPort:        getEnvInt("DOCVAULT_HTTP_PORT", 8080),
			MetricsPort:     getEnvInt("DOCVAULT_METRICS_PORT", 9091),
			ShutdownTimeout: getEnvDuration("DOCVAULT_SHUTDOWN_TIMEOUT", 30*time.Second),
			ReadTimeout:     getEnvDuration("DOCVAULT_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("DOCVAULT_WRITE_TIMEOUT", 60*time.Second),
			MaxUploadBytes:  int64(getEnvInt("DOCVAULT_MAX_UPLOAD_BYTES", 64*1024*1024)),
		},
		Blob: BlobConfig{
			Enabled:         getEnvBool("DOCVAULT_BLOB_ENABLED", true),
			Endpoint:        getEnv("DOCVAULT_BLOB_ENDPOINT", ""),
			Bucket:          getEnv("DOCVAULT_BLOB_BUCKET", ""),
			Region:          getEnv("DOCVAULT_BLOB_REGION", "us-east-1"),
			AccessKeyID:     getEnv("DOCVAULT_BLOB_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("DOCVAULT_BLOB_SECRET_ACCESS_KEY", ""),
			UseSSL:          getEnvBool("DOCVAULT_BLOB_USE_SSL", true),
		},
		Drive: DriveConfig{
			Enabled:         getEnvBool("DOCVAULT_DRIVE_ENABLED", false),
			CredentialsFile: getEnv("DOCVAULT_DRIVE_CREDENTIALS_FILE", ""),
			FolderName:      getEnv("DOCVAULT_DRIVE_FOLDER_NAME", "SecureVault"),
		},
		KMS: KMSConfig{
			Address:   getEnv("DOCVAULT_KMS_ADDRESS", ""),
			Token:     getEnv("DOCVAULT_KMS_TOKEN", ""),
			KeyName:   getEnv("DOCVAULT_KMS_KEY_NAME", "vault-docs"),
			Namespace: getEnv("DOCVAULT_KMS_NAMESPACE", ""),
			Timeout:   getEnvDuration("DOCVAULT_KMS_TIMEOUT", 10*time.Second),
		},
		Vault: VaultConfig{
			StoragePreference:  getEnv("DOCVAULT_STORAGE_PREFERENCE", "hybrid"),
			EncryptionEnabled:  getEnvBool("DOCVAULT_ENCRYPTION_ENABLED", true),
			LocalPassphrase:    getEnv("DOCVAULT_LOCAL_PASSPHRASE", ""),
			RetentionEnabled:   getEnvBool("DOCVAULT_RETENTION_ENABLED", false),
			RetentionPeriod:    getEnvDuration("DOCVAULT_RETENTION_PERIOD", 7*365*24*time.Hour),
			RetentionInterval:  getEnvDuration("DOCVAULT_RETENTION_INTERVAL", 24*time.Hour),
			RetentionBatchSize: getEnvInt("DOCVAULT_RETENTION_BATCH_SIZE", 100),
		},
		Migration: MigrationConfig{
			Threshold: getEnvInt("DOCVAULT_MIGRATION_THRESHOLD", 3),
			Workers:   getEnvInt("DOCVAULT_MIGRATION_WORKERS", 8),
		},
		Log: LogConfig{
			Level:  getEnv("DOCVAULT_LOG_LEVEL", "info"),
			Format: getEnv("DOCVAULT_LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:    getEnvBool("DOCVAULT_TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("DOCVAULT_TRACING_ENDPOINT", ""),
			TracingInsecure:   getEnvBool("DOCVAULT_TRACING_INSECURE", true),
			TracingSampleRate: getEnvFloat("DOCVAULT_TRACING_SAMPLE_RATE", 1.0),
			Environment:       getEnv("DOCVAULT_ENVIRONMENT", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and valid.
func (c *Config) Validate() error {
	var errs []error

	// Server validation
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("DOCVAULT_HTTP_PORT must be between 1 and 65535"))
	}
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("DOCVAULT_METRICS_PORT must be between 1 and 65535"))
	}
	if c.Server.MaxUploadBytes < 1 {
		errs = append(errs, errors.New("DOCVAULT_MAX_UPLOAD_BYTES must be positive"))
	}

	// Backend validation: at least one backend must be enabled.
	if !c.Blob.Enabled && !c.Drive.Enabled {
		errs = append(errs, errors.New("at least one of DOCVAULT_BLOB_ENABLED or DOCVAULT_DRIVE_ENABLED must be true"))
	}
	if c.Blob.Enabled {
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("DOCVAULT_BLOB_BUCKET is required when the bucket backend is enabled"))
		}
		if c.Blob.AccessKeyID == "" {
			errs = append(errs, errors.New("DOCVAULT_BLOB_ACCESS_KEY_ID is required when the bucket backend is enabled"))
		}
		if c.Blob.SecretAccessKey == "" {
			errs = append(errs, errors.New("DOCVAULT_BLOB_SECRET_ACCESS_KEY is required when the bucket backend is enabled"))
		}
	}
	if c.Drive.Enabled && c.Drive.FolderName == "" {
		errs = append(errs, errors.New("DOCVAULT_DRIVE_FOLDER_NAME is required when the drive backend is enabled"))
	}

	// Storage preference must name an enabled backend.
	switch strings.ToLower(c.Vault.StoragePreference) {
	case "bucket":
		if !c.Blob.Enabled {
			errs = append(errs, errors.New("DOCVAULT_STORAGE_PREFERENCE is bucket but the bucket backend is disabled"))
		}
	case "drive":
		if !c.Drive.Enabled {
			errs = append(errs, errors.New("DOCVAULT_STORAGE_PREFERENCE is drive but the drive backend is disabled"))
		}
	case "hybrid":
	default:
		errs = append(errs, errors.New("DOCVAULT_STORAGE_PREFERENCE must be one of: bucket, drive, hybrid"))
	}

	// Encryption validation: without key material the vault could seal
	// documents it can never open again, so fail configuration instead.
	if c.Vault.EncryptionEnabled && c.Vault.LocalPassphrase == "" {
		errs = append(errs, errors.New("DOCVAULT_LOCAL_PASSPHRASE is required when encryption is enabled"))
	}
	if c.KMS.Address != "" && c.KMS.KeyName == "" {
		errs = append(errs, errors.New("DOCVAULT_KMS_KEY_NAME is required when a key service address is set"))
	}

	// Retention validation (conditional)
	if c.Vault.RetentionEnabled {
		if c.Vault.RetentionPeriod <= 0 {
			errs = append(errs, errors.New("DOCVAULT_RETENTION_PERIOD must be greater than 0 when retention is enabled"))
		}
		if c.Vault.RetentionInterval <= 0 {
			errs = append(errs, errors.New("DOCVAULT_RETENTION_INTERVAL must be greater than 0 when retention is enabled"))
		}
		if c.Vault.RetentionBatchSize <= 0 {
			errs = append(errs, errors.New("DOCVAULT_RETENTION_BATCH_SIZE must be greater than 0 when retention is enabled"))
		}
	}

	// Migration validation
	if c.Migration.Threshold < 0 {
		errs = append(errs, errors.New("DOCVAULT_MIGRATION_THRESHOLD cannot be negative"))
	}
	if c.Migration.Workers < 1 {
		errs = append(errs, errors.New("DOCVAULT_MIGRATION_WORKERS must be at least 1"))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, errors.New("DOCVAULT_LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		errs = append(errs, errors.New("DOCVAULT_LOG_FORMAT must be one of: json, console"))
	}

	// Tracing validation (conditional)
	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("DOCVAULT_TRACING_ENDPOINT is required when tracing is enabled"))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}

	return nil
}

// ValidationError contains multiple validation errors.
type ValidationError struct {
	Errors []error
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap returns the underlying errors for errors.Is/As compatibility.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// KMSEnabled returns true if a managed key service is configured.
func (c *Config) KMSEnabled() bool {
	return c.KMS.Address != ""
}

// Helper functions for reading environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
