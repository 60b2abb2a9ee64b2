// Package audit records who touched which vault document and when. Entries
// are persisted as standalone JSON blobs so the trail survives independently
// of any database and can be replayed from storage alone.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// auditPrefix is the key prefix audit entries live under in the bucket.
const auditPrefix = "audit_logs"

// Entry is one audit record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SourceID  string    `json:"file_id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Origin    string    `json:"origin,omitempty"`
}

// Actions recorded by the vault service.
const (
	ActionStore    = "stored"
	ActionRetrieve = "retrieved"
	ActionDelete   = "deleted"
	ActionMigrate  = "migrated"
)

// Recorder persists audit entries. Record must never fail the operation
// being audited; implementations swallow and log their own errors.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Reader lists recorded audit entries, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// Log is a recorder whose entries can be read back.
type Log interface {
	Recorder
	Reader
}

// ObjectStore is the storage blob-backed audit entries are written to and
// read back from.
type ObjectStore interface {
	PutRaw(ctx context.Context, key string, data []byte, contentType string) error
	GetRaw(ctx context.Context, key string) ([]byte, error)
	ListRaw(ctx context.Context, prefix string, limit int) ([]string, error)
}

// BlobRecorder writes entries as JSON blobs under
// audit_logs/YYYY/MM/DD/access_<source-id>_<HHMMSS>.json.
type BlobRecorder struct {
	store  ObjectStore
	logger zerolog.Logger
}

// NewBlobRecorder creates a blob-backed audit recorder.
func NewBlobRecorder(store ObjectStore, logger zerolog.Logger) *BlobRecorder {
	return &BlobRecorder{
		store:  store,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record persists the entry. Failures are logged and dropped: an audit sink
// outage must not take vault operations down with it.
func (r *BlobRecorder) Record(ctx context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error().Err(err).Str("file_id", entry.SourceID).Msg("marshal audit entry")
		return
	}

	key := entryKey(entry)
	if err := r.store.PutRaw(ctx, key, data, "application/json"); err != nil {
		r.logger.Error().Err(err).Str("key", key).Msg("persist audit entry")
		return
	}

	r.logger.Debug().
		Str("file_id", entry.SourceID).
		Str("action", entry.Action).
		Str("key", key).
		Msg("audit entry recorded")
}

// Recent reads entries back from storage, newest first. Entries that fail to
// load are skipped with a warning; the trail should degrade, not vanish.
func (r *BlobRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	keys, err := r.store.ListRaw(ctx, auditPrefix+"/", 0)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	// Keys are dated, so lexicographic order is day order. Newest days
	// first, then trim before fetching bodies.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := r.store.GetRaw(ctx, key)
		if err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("read audit entry")
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("decode audit entry")
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

func entryKey(entry Entry) string {
	ts := entry.Timestamp.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/access_%s_%s.json",
		auditPrefix, ts.Year(), ts.Month(), ts.Day(), entry.SourceID, ts.Format("150405"))
}

// MemoryRecorder collects entries in memory. Used in tests and when no blob
// sink is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryRecorder creates an in-memory audit recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the entry.
func (r *MemoryRecorder) Record(_ context.Context, entry Entry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Recent returns the newest entries first.
func (r *MemoryRecorder) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries := r.Entries()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
