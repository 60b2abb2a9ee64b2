package vault

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/audit"
	"github.com/docvault/docvault/internal/backend"
)

// RetentionConfig defines retention sweep settings.
type RetentionConfig struct {
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
}

// RetentionSweeper removes vault documents whose retention period has
// elapsed. Documents tagged with a retention policy are kept until their
// policy expires; untagged documents follow the configured default.
type RetentionSweeper struct {
	service   *Service
	logger    zerolog.Logger
	interval  time.Duration
	retention time.Duration
	batchSize int
}

// NewRetentionSweeper creates a retention sweeper over the vault service.
func NewRetentionSweeper(service *Service, cfg RetentionConfig, logger zerolog.Logger) *RetentionSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 7 * 365 * 24 * time.Hour
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	return &RetentionSweeper{
		service:   service,
		logger:    logger.With().Str("component", "retention_sweeper").Logger(),
		interval:  interval,
		retention: retention,
		batchSize: batchSize,
	}
}

// Start begins the sweep loop until the context is canceled.
func (s *RetentionSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Int("batch_size", s.batchSize).
		Msg("starting retention sweeper")

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			s.run(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (s *RetentionSweeper) run(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	deleted := 0

	for kind, adapter := range s.service.Adapters() {
		records, err := adapter.List(ctx, "", s.batchSize)
		if err != nil {
			s.logger.Error().Err(err).Str("backend", string(kind)).Msg("failed to list documents for sweep")
			continue
		}

		for _, record := range records {
			if !s.expired(record, cutoff) {
				continue
			}
			if err := adapter.Delete(ctx, record.Address); err != nil {
				s.logger.Warn().Err(err).
					Str("vault_path", record.Address.String()).
					Msg("failed to delete expired document")
				continue
			}
			s.service.audit.Record(ctx, audit.Entry{
				SourceID: record.Metadata.SourceID,
				Action:   audit.ActionDelete,
				Actor:    "retention_sweeper",
			})
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("retention sweep completed")
	}
}

// expired reports whether the record's retention window has passed. Records
// carrying an explicit retention tag keep their own window.
func (s *RetentionSweeper) expired(record backend.Record, cutoff time.Time) bool {
	storedAt := record.Created
	if storedAt.IsZero() {
		return false
	}

	if policy, ok := record.Metadata.Custom["retention_policy"]; ok {
		window, known := retentionWindows[policy]
		if !known {
			// Unknown policy: keep the document, never guess shorter.
			return false
		}
		return time.Since(storedAt) > window
	}

	return storedAt.Before(cutoff)
}

var retentionWindows = map[string]time.Duration{
	"7_years": 7 * 365 * 24 * time.Hour,
	"1_year":  365 * 24 * time.Hour,
	"90_days": 90 * 24 * time.Hour,
}
