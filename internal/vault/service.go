// Package vault orchestrates document storage: encrypt once, fan out to the
// configured backends, and keep an audit trail of every touch.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/docvault/docvault/internal/audit"
	"github.com/docvault/docvault/internal/backend"
	"github.com/docvault/docvault/internal/keys"
	"github.com/docvault/docvault/pkg/metrics"
	"github.com/docvault/docvault/pkg/tracing"
)

// Preference selects which backends a stored document is written to.
type Preference string

const (
	// PreferBucket writes to object storage only.
	PreferBucket Preference = "bucket"
	// PreferDrive writes to folder storage only.
	PreferDrive Preference = "drive"
	// PreferHybrid writes to every configured backend redundantly.
	PreferHybrid Preference = "hybrid"
)

// ErrConfiguration indicates the service cannot serve the request as
// configured, e.g. the preferred backend is not wired up.
var ErrConfiguration = errors.New("vault: configuration error")

// Compliance tags attached to migrated documents.
const (
	retentionPolicy = "7_years"
	complianceLevel = "FIPS_140_2"
)

// Options configures a Service.
type Options struct {
	Adapters   []backend.Adapter
	Preference Preference
	Keys       keys.Provider
	// Encrypt controls whether stored content is sealed. Disabling it is
	// an explicit choice; documents then carry an empty scheme ID.
	Encrypt bool
	Audit   audit.Recorder
	Metrics *metrics.VaultMetrics
	Logger  zerolog.Logger
}

// Service is the vault's storage orchestrator.
type Service struct {
	adapters   map[backend.Kind]backend.Adapter
	preference Preference
	keys       keys.Provider
	encrypt    bool
	audit      audit.Recorder
	metrics    *metrics.VaultMetrics
	logger     zerolog.Logger
}

// NewService wires a vault service from its collaborators.
func NewService(opts Options) (*Service, error) {
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("%w: no storage backends configured", ErrConfiguration)
	}
	if opts.Encrypt && opts.Keys == nil {
		return nil, fmt.Errorf("%w: encryption enabled without a key provider", ErrConfiguration)
	}
	if opts.Preference == "" {
		opts.Preference = PreferHybrid
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemoryRecorder()
	}

	adapters := make(map[backend.Kind]backend.Adapter, len(opts.Adapters))
	for _, adapter := range opts.Adapters {
		adapters[adapter.Kind()] = adapter
	}

	switch opts.Preference {
	case PreferBucket, PreferDrive:
		if _, ok := adapters[backend.Kind(opts.Preference)]; !ok {
			return nil, fmt.Errorf("%w: preferred backend %q is not configured", ErrConfiguration, opts.Preference)
		}
	case PreferHybrid:
	default:
		return nil, fmt.Errorf("%w: unknown storage preference %q", ErrConfiguration, opts.Preference)
	}

	return &Service{
		adapters:   adapters,
		preference: opts.Preference,
		keys:       opts.Keys,
		encrypt:    opts.Encrypt,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With().Str("component", "vault_service").Logger(),
	}, nil
}

// StoreRequest describes a document entering the vault.
type StoreRequest struct {
	SourceID    string
	Name        string
	Content     []byte
	ContentType string
	Actor       string
	Origin      string
	// Tags are extra metadata entries stored alongside the document.
	Tags map[string]string
	// Hash is the SHA-256 of the original content, when already computed.
	Hash string
}

// BackendFailure reports a backend that could not take a write.
type BackendFailure struct {
	Backend backend.Kind `json:"backend"`
	Error   string       `json:"error"`
}

// StoreResult reports where a document landed.
type StoreResult struct {
	Addresses []backend.Address
	Failures  []BackendFailure
	Encrypted bool
	SchemeID  string
	StoredAt  time.Time
}

// Primary returns the first surviving address.
func (r StoreResult) Primary() backend.Address {
	if len(r.Addresses) == 0 {
		return backend.Address{}
	}
	return r.Addresses[0]
}

// Store encrypts the document once and writes it to the selected backends
// concurrently. In hybrid mode a partial failure still succeeds: the
// surviving copies are returned together with per-backend failure reports,
// and nothing is rolled back.
func (s *Service) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.store", tracing.WithAttributes(
		tracing.AttrDocumentID.String(req.SourceID),
		tracing.AttrActor.String(req.Actor),
	))
	defer span.End()

	if req.SourceID == "" || req.Name == "" {
		return StoreResult{}, fmt.Errorf("%w: source id and name are required", ErrConfiguration)
	}

	targets := s.targets()
	payload := req.Content
	schemeID := keys.SchemeNone
	if s.encrypt {
		sealed, scheme, err := s.keys.Encrypt(ctx, req.Content)
		if err != nil {
			err = fmt.Errorf("encrypt document %q: %w", req.SourceID, err)
			tracing.RecordError(ctx, err)
			return StoreResult{}, err
		}
		payload, schemeID = sealed, scheme
	}
	span.SetAttributes(tracing.AttrSchemeID.String(schemeID))

	storedAt := time.Now().UTC()
	meta := backend.Metadata{
		SourceID:    req.SourceID,
		Name:        req.Name,
		StoredAt:    storedAt,
		Encrypted:   s.encrypt,
		SchemeID:    schemeID,
		ContentType: req.ContentType,
		Hash:        req.Hash,
		Custom:      req.Tags,
	}

	type outcome struct {
		kind backend.Kind
		addr backend.Address
		err  error
	}

	results := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, adapter := range targets {
		wg.Add(1)
		go func(i int, adapter backend.Adapter) {
			defer wg.Done()
			start := time.Now()
			addr, err := adapter.Put(ctx, req.SourceID, req.Name, payload, meta)
			s.observe("store", adapter.Kind(), err, start)
			results[i] = outcome{kind: adapter.Kind(), addr: addr, err: err}
		}(i, adapter)
	}
	wg.Wait()

	result := StoreResult{
		Encrypted: s.encrypt,
		SchemeID:  schemeID,
		StoredAt:  storedAt,
	}
	for _, out := range results {
		if out.err != nil {
			s.logger.Error().Err(out.err).
				Str("source_id", req.SourceID).
				Str("backend", string(out.kind)).
				Msg("backend write failed")
			result.Failures = append(result.Failures, BackendFailure{
				Backend: out.kind,
				Error:   out.err.Error(),
			})
			continue
		}
		result.Addresses = append(result.Addresses, out.addr)
	}

	if len(result.Addresses) == 0 {
		err := fmt.Errorf("store %q: all backends failed: %s",
			req.SourceID, result.Failures[0].Error)
		tracing.RecordError(ctx, err)
		return StoreResult{}, err
	}
	span.SetAttributes(tracing.AttrVaultPath.String(result.Primary().String()))

	s.audit.Record(ctx, audit.Entry{
		SourceID: req.SourceID,
		Action:   audit.ActionStore,
		Actor:    req.Actor,
		Origin:   req.Origin,
	})

	s.logger.Info().
		Str("source_id", req.SourceID).
		Str("vault_path", result.Primary().String()).
		Int("copies", len(result.Addresses)).
		Int("failures", len(result.Failures)).
		Bool("encrypted", s.encrypt).
		Msg("document stored")

	return result, nil
}

// Document is retrieved vault content with its metadata.
type Document struct {
	Content  []byte
	Metadata backend.Metadata
	Address  backend.Address
}

// Retrieve fetches and, when needed, decrypts the addressed document. The
// decryption path is chosen strictly by the scheme recorded at store time.
func (s *Service) Retrieve(ctx context.Context, vaultPath, actor string) (Document, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.retrieve", tracing.WithAttributes(
		tracing.AttrVaultPath.String(vaultPath),
		tracing.AttrActor.String(actor),
	))
	defer span.End()

	addr, err := backend.ParseAddress(vaultPath)
	if err != nil {
		return Document{}, err
	}
	adapter, ok := s.adapters[addr.Kind]
	if !ok {
		return Document{}, fmt.Errorf("%w: backend %q is not configured", ErrConfiguration, addr.Kind)
	}
	span.SetAttributes(tracing.AttrBackend.String(string(addr.Kind)))

	start := time.Now()
	payload, meta, err := adapter.Get(ctx, addr)
	s.observe("retrieve", addr.Kind, err, start)
	if err != nil {
		tracing.RecordError(ctx, err)
		return Document{}, err
	}

	content := payload
	if meta.Encrypted {
		if s.keys == nil {
			return Document{}, fmt.Errorf("%w: encrypted document but no key provider", ErrConfiguration)
		}
		span.SetAttributes(tracing.AttrSchemeID.String(meta.SchemeID))
		content, err = s.keys.Decrypt(ctx, payload, meta.SchemeID)
		if err != nil {
			err = fmt.Errorf("decrypt %q: %w", vaultPath, err)
			tracing.RecordError(ctx, err)
			return Document{}, err
		}
	}

	s.audit.Record(ctx, audit.Entry{
		SourceID: meta.SourceID,
		Action:   audit.ActionRetrieve,
		Actor:    actor,
	})

	return Document{Content: content, Metadata: meta, Address: addr}, nil
}

// Listing is a merged view over all configured backends.
type Listing struct {
	Documents []backend.Record
	// BackendErrors reports backends that could not be listed; the
	// documents slice then holds the partial result from the rest.
	BackendErrors map[backend.Kind]string
}

// List merges listings across all configured backends, most recent first.
// A down backend degrades the result instead of failing it.
func (s *Service) List(ctx context.Context, prefix string, limit int) (Listing, error) {
	if limit <= 0 {
		limit = 100
	}

	listing := Listing{}
	var merged []backend.Record
	for kind, adapter := range s.adapters {
		start := time.Now()
		records, err := adapter.List(ctx, prefix, limit)
		s.observe("list", kind, err, start)
		if err != nil {
			s.logger.Warn().Err(err).Str("backend", string(kind)).Msg("backend listing failed")
			if listing.BackendErrors == nil {
				listing.BackendErrors = make(map[backend.Kind]string)
			}
			listing.BackendErrors[kind] = err.Error()
			continue
		}
		merged = append(merged, records...)
	}

	if len(merged) == 0 && len(listing.BackendErrors) == len(s.adapters) {
		return Listing{}, fmt.Errorf("list: all backends failed: %w", backend.ErrUnavailable)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Created.After(merged[j].Created)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	listing.Documents = merged
	return listing, nil
}

// Delete removes the addressed document from its backend.
func (s *Service) Delete(ctx context.Context, vaultPath, actor string) error {
	ctx, span := tracing.StartSpan(ctx, "vault.delete", tracing.WithAttributes(
		tracing.AttrVaultPath.String(vaultPath),
		tracing.AttrActor.String(actor),
	))
	defer span.End()

	addr, err := backend.ParseAddress(vaultPath)
	if err != nil {
		return err
	}
	span.SetAttributes(tracing.AttrBackend.String(string(addr.Kind)))
	adapter, ok := s.adapters[addr.Kind]
	if !ok {
		return fmt.Errorf("%w: backend %q is not configured", ErrConfiguration, addr.Kind)
	}

	start := time.Now()
	err = adapter.Delete(ctx, addr)
	s.observe("delete", addr.Kind, err, start)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, audit.Entry{
		SourceID: addr.Path,
		Action:   audit.ActionDelete,
		Actor:    actor,
	})

	return nil
}

// MigrateRequest describes a sensitive document being pulled into the vault
// after classification.
type MigrateRequest struct {
	SourceID    string
	Name        string
	Content     []byte
	ContentType string
	Actor       string
	// FindingCount is how many sensitive findings classification reported.
	FindingCount int
	// CleanupSource, when set, removes the original after a successful
	// store. Failures are logged and ignored: the vault copy is what
	// matters.
	CleanupSource func(ctx context.Context) error
}

// MigrateResult reports a completed migration.
type MigrateResult struct {
	StoreResult
	Hash            string
	ComplianceLevel string
	RetentionPolicy string
}

// MigrateSensitive hashes, tags and stores a classified document, then
// best-effort removes the source copy.
func (s *Service) MigrateSensitive(ctx context.Context, req MigrateRequest) (MigrateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.migrate", tracing.WithAttributes(
		tracing.AttrDocumentID.String(req.SourceID),
		tracing.AttrActor.String(req.Actor),
	))
	defer span.End()

	sum := sha256.Sum256(req.Content)
	hash := hex.EncodeToString(sum[:])

	stored, err := s.Store(ctx, StoreRequest{
		SourceID:    req.SourceID,
		Name:        req.Name,
		Content:     req.Content,
		ContentType: req.ContentType,
		Actor:       req.Actor,
		Hash:        hash,
		Tags: map[string]string{
			"retention_policy": retentionPolicy,
			"compliance_level": complianceLevel,
			"finding_count":    strconv.Itoa(req.FindingCount),
		},
	})
	if err != nil {
		return MigrateResult{}, err
	}

	s.audit.Record(ctx, audit.Entry{
		SourceID: req.SourceID,
		Action:   audit.ActionMigrate,
		Actor:    req.Actor,
	})

	if req.CleanupSource != nil {
		if err := req.CleanupSource(ctx); err != nil {
			s.logger.Warn().Err(err).
				Str("source_id", req.SourceID).
				Msg("source cleanup after migration failed")
		}
	}

	return MigrateResult{
		StoreResult:     stored,
		Hash:            hash,
		ComplianceLevel: complianceLevel,
		RetentionPolicy: retentionPolicy,
	}, nil
}

// BackendStats summarizes one backend's vault content.
type BackendStats struct {
	Documents int   `json:"documents"`
	Bytes     int64 `json:"bytes"`
	Encrypted int   `json:"encrypted"`
}

// Stats summarizes the vault across backends.
type Stats struct {
	TotalDocuments     int                           `json:"total_documents"`
	TotalBytes         int64                         `json:"total_bytes"`
	EncryptedDocuments int                           `json:"encrypted_documents"`
	EncryptionPercent  float64                       `json:"encryption_percent"`
	Backends           map[backend.Kind]BackendStats `json:"backends"`
}

// Statistics aggregates document counts, sizes and encryption coverage.
func (s *Service) Statistics(ctx context.Context) (Stats, error) {
	stats := Stats{Backends: make(map[backend.Kind]BackendStats)}

	for kind, adapter := range s.adapters {
		records, err := adapter.List(ctx, "", 1000)
		if err != nil {
			return Stats{}, fmt.Errorf("statistics: list %s: %w", kind, err)
		}

		var bs BackendStats
		for _, rec := range records {
			bs.Documents++
			bs.Bytes += rec.Size
			if rec.Metadata.Encrypted {
				bs.Encrypted++
			}
		}
		stats.Backends[kind] = bs
		stats.TotalDocuments += bs.Documents
		stats.TotalBytes += bs.Bytes
		stats.EncryptedDocuments += bs.Encrypted

		if s.metrics != nil {
			s.metrics.SetStoredTotals(string(kind), float64(bs.Documents), float64(bs.Bytes))
		}
	}

	if stats.TotalDocuments > 0 {
		stats.EncryptionPercent = 100 * float64(stats.EncryptedDocuments) / float64(stats.TotalDocuments)
	}
	return stats, nil
}

// BackendStatus reports one backend's reachability.
type BackendStatus struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// StorageStatus probes every configured backend.
func (s *Service) StorageStatus(ctx context.Context) map[backend.Kind]BackendStatus {
	status := make(map[backend.Kind]BackendStatus, len(s.adapters))
	for kind, adapter := range s.adapters {
		if err := adapter.HealthCheck(ctx); err != nil {
			status[kind] = BackendStatus{Available: false, Error: err.Error()}
			continue
		}
		status[kind] = BackendStatus{Available: true}
	}
	return status
}

// Preference reports the configured storage preference.
func (s *Service) StoragePreference() Preference {
	return s.preference
}

// Adapters returns the configured adapters keyed by kind.
func (s *Service) Adapters() map[backend.Kind]backend.Adapter {
	return s.adapters
}

// targets resolves the preference to the adapters a store fans out to.
func (s *Service) targets() []backend.Adapter {
	switch s.preference {
	case PreferBucket:
		return []backend.Adapter{s.adapters[backend.KindBucket]}
	case PreferDrive:
		return []backend.Adapter{s.adapters[backend.KindDrive]}
	default:
		targets := make([]backend.Adapter, 0, len(s.adapters))
		// Stable order: bucket first, then drive.
		if a, ok := s.adapters[backend.KindBucket]; ok {
			targets = append(targets, a)
		}
		if a, ok := s.adapters[backend.KindDrive]; ok {
			targets = append(targets, a)
		}
		return targets
	}
}

func (s *Service) observe(operation string, kind backend.Kind, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordOperation(operation, string(kind), status, time.Since(start).Seconds())
}
