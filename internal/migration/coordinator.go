// Package migration batch-moves classified documents into the vault. A
// classifier produces candidates with finding counts; the coordinator pulls
// content for every candidate over the threshold and vaults it through a
// bounded worker pool.
package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/vault"
	"github.com/docvault/docvault/pkg/metrics"
)

// Candidate is one classifier result considered for migration.
type Candidate struct {
	SourceID     string `json:"file_id"`
	Name         string `json:"file_name"`
	FindingCount int    `json:"finding_count"`
}

// ContentFetcher pulls candidate content from its source system and, after a
// successful migration, removes the source copy.
type ContentFetcher interface {
	Fetch(ctx context.Context, sourceID string) (content []byte, contentType string, err error)
	Remove(ctx context.Context, sourceID string) error
}

// Migrator vaults one classified document. Satisfied by the vault service.
type Migrator interface {
	MigrateSensitive(ctx context.Context, req vault.MigrateRequest) (vault.MigrateResult, error)
}

// Config tunes the coordinator.
type Config struct {
	// Threshold is the minimum finding count that makes a candidate
	// sensitive enough to migrate.
	Threshold int
	// Workers bounds concurrent migrations (default 8).
	Workers int
	// Actor is recorded on the audit trail for batch migrations.
	Actor string
}

// MigratedItem reports one successfully vaulted document.
type MigratedItem struct {
	SourceID  string `json:"file_id"`
	Name      string `json:"file_name"`
	VaultPath string `json:"vault_path"`
	Hash      string `json:"file_hash"`
}

// FailedItem reports one candidate that could not be migrated.
type FailedItem struct {
	SourceID string `json:"file_id"`
	Name     string `json:"file_name"`
	Error    string `json:"error"`
}

// Summary is the outcome of one batch.
type Summary struct {
	Migrated []MigratedItem `json:"migrated"`
	Failed   []FailedItem   `json:"failed"`
	Skipped  int            `json:"skipped"`
}

// Coordinator runs migration batches.
type Coordinator struct {
	migrator  Migrator
	fetcher   ContentFetcher
	threshold int
	workers   int
	actor     string
	metrics   *metrics.VaultMetrics
	logger    zerolog.Logger
}

// NewCoordinator wires a migration coordinator.
func NewCoordinator(migrator Migrator, fetcher ContentFetcher, cfg Config, m *metrics.VaultMetrics, logger zerolog.Logger) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	actor := cfg.Actor
	if actor == "" {
		actor = "migration_coordinator"
	}

	return &Coordinator{
		migrator:  migrator,
		fetcher:   fetcher,
		threshold: cfg.Threshold,
		workers:   workers,
		actor:     actor,
		metrics:   m,
		logger:    logger.With().Str("component", "migration_coordinator").Logger(),
	}
}

// Run migrates every candidate at or over the threshold. Failures are
// isolated per item: one bad document never stops the batch.
func (c *Coordinator) Run(ctx context.Context, candidates []Candidate) Summary {
	eligible := make([]Candidate, 0, len(candidates))
	skipped := 0
	for _, cand := range candidates {
		if cand.FindingCount >= c.threshold {
			eligible = append(eligible, cand)
		} else {
			skipped++
		}
	}

	c.logger.Info().
		Int("candidates", len(candidates)).
		Int("eligible", len(eligible)).
		Int("threshold", c.threshold).
		Msg("starting migration batch")

	if c.metrics != nil {
		c.metrics.RecordMigrationBatch(len(eligible))
	}

	summary := Summary{Skipped: skipped}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.workers)

	for _, cand := range eligible {
		wg.Add(1)
		go func(cand Candidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			item, err := c.migrateOne(ctx, cand)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed = append(summary.Failed, FailedItem{
					SourceID: cand.SourceID,
					Name:     cand.Name,
					Error:    err.Error(),
				})
				if c.metrics != nil {
					c.metrics.RecordMigration("failed")
				}
				return
			}
			summary.Migrated = append(summary.Migrated, item)
			if c.metrics != nil {
				c.metrics.RecordMigration("migrated")
			}
		}(cand)
	}
	wg.Wait()

	c.logger.Info().
		Int("migrated", len(summary.Migrated)).
		Int("failed", len(summary.Failed)).
		Int("skipped", summary.Skipped).
		Msg("migration batch completed")

	return summary
}

func (c *Coordinator) migrateOne(ctx context.Context, cand Candidate) (MigratedItem, error) {
	content, contentType, err := c.fetcher.Fetch(ctx, cand.SourceID)
	if err != nil {
		c.logger.Error().Err(err).Str("file_id", cand.SourceID).Msg("fetch candidate content")
		return MigratedItem{}, fmt.Errorf("fetch content: %w", err)
	}

	result, err := c.migrator.MigrateSensitive(ctx, vault.MigrateRequest{
		SourceID:     cand.SourceID,
		Name:         cand.Name,
		Content:      content,
		ContentType:  contentType,
		FindingCount: cand.FindingCount,
		Actor:        c.actor,
		CleanupSource: func(ctx context.Context) error {
			return c.fetcher.Remove(ctx, cand.SourceID)
		},
	})
	if err != nil {
		c.logger.Error().Err(err).Str("file_id", cand.SourceID).Msg("migrate candidate")
		return MigratedItem{}, err
	}

	return MigratedItem{
		SourceID:  cand.SourceID,
		Name:      cand.Name,
		VaultPath: result.Primary().String(),
		Hash:      result.Hash,
	}, nil
}
