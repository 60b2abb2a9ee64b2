package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/docvault/docvault/internal/audit"
	"github.com/docvault/docvault/internal/backend"
	"github.com/docvault/docvault/internal/keys"
)

type fakeObject struct {
	data []byte
	meta backend.Metadata
}

type fakeAdapter struct {
	kind backend.Kind

	mu      sync.Mutex
	objects map[string]fakeObject

	putErr    error
	listErr   error
	healthErr error
}

func newFakeAdapter(kind backend.Kind) *fakeAdapter {
	return &fakeAdapter{kind: kind, objects: make(map[string]fakeObject)}
}

func (f *fakeAdapter) Kind() backend.Kind { return f.kind }

func (f *fakeAdapter) Put(_ context.Context, sourceID, name string, data []byte, meta backend.Metadata) (backend.Address, error) {
	if f.putErr != nil {
		return backend.Address{}, f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("documents/%s_%s_%s", sourceID, meta.StoredAt.Format("20060102_150405"), name)
	f.objects[path] = fakeObject{data: append([]byte(nil), data...), meta: meta}
	return backend.Address{Kind: f.kind, Path: path}, nil
}

func (f *fakeAdapter) Get(_ context.Context, addr backend.Address) ([]byte, backend.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[addr.Path]
	if !ok {
		return nil, backend.Metadata{}, backend.ErrNotFound
	}
	return obj.data, obj.meta, nil
}

func (f *fakeAdapter) List(_ context.Context, prefix string, _ int) ([]backend.Record, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []backend.Record
	for path, obj := range f.objects {
		records = append(records, backend.Record{
			Address:  backend.Address{Kind: f.kind, Path: path},
			Metadata: obj.meta,
			Size:     int64(len(obj.data)),
			Created:  obj.meta.StoredAt,
			Updated:  obj.meta.StoredAt,
		})
	}
	return records, nil
}

func (f *fakeAdapter) Delete(_ context.Context, addr backend.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[addr.Path]; !ok {
		return backend.ErrNotFound
	}
	delete(f.objects, addr.Path)
	return nil
}

func (f *fakeAdapter) Exists(_ context.Context, addr backend.Address) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[addr.Path]
	return ok, nil
}

func (f *fakeAdapter) Ensure(context.Context) error { return nil }

func (f *fakeAdapter) HealthCheck(context.Context) error { return f.healthErr }

func localChain(t *testing.T) keys.Provider {
	t.Helper()
	local, err := keys.NewLocalProvider("test passphrase")
	require.NoError(t, err)
	return keys.NewChain(nil, "", local)
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Keys == nil && opts.Encrypt {
		opts.Keys = localChain(t)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	return svc
}

func TestStore_HybridWritesAllBackends(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)
	recorder := audit.NewMemoryRecorder()

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	})

	result, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1",
		Name:     "report.pdf",
		Content:  []byte("classified"),
		Actor:    "svc-ingest",
	})
	require.NoError(t, err)

	assert.Len(t, result.Addresses, 2)
	assert.Empty(t, result.Failures)
	assert.True(t, result.Encrypted)
	assert.Equal(t, keys.SchemeLocal, result.SchemeID)
	assert.Len(t, bucket.objects, 1)
	assert.Len(t, drive.objects, 1)

	// The stored payload must be sealed, not the plaintext.
	for _, obj := range bucket.objects {
		assert.NotEqual(t, "classified", string(obj.data))
		assert.True(t, obj.meta.Encrypted)
		assert.Equal(t, keys.SchemeLocal, obj.meta.SchemeID)
	}

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionStore, entries[0].Action)
	assert.Equal(t, "doc-1", entries[0].SourceID)
}

func TestStore_HybridPartialFailure(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)
	drive.putErr = fmt.Errorf("%w: connection reset", backend.ErrUnavailable)

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	result, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1",
		Name:     "report.pdf",
		Content:  []byte("classified"),
	})
	require.NoError(t, err, "one surviving copy is a success")

	require.Len(t, result.Addresses, 1)
	assert.Equal(t, backend.KindBucket, result.Addresses[0].Kind)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, backend.KindDrive, result.Failures[0].Backend)
	assert.Contains(t, result.Failures[0].Error, "connection reset")

	// The surviving copy stays put; there is no rollback.
	assert.Len(t, bucket.objects, 1)
}

func TestStore_AllBackendsFail(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	bucket.putErr = errors.New("bucket down")
	drive := newFakeAdapter(backend.KindDrive)
	drive.putErr = errors.New("drive down")

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1",
		Name:     "report.pdf",
		Content:  []byte("classified"),
	})
	assert.Error(t, err)
}

func TestStore_BucketPreferenceWritesBucketOnly(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferBucket,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	result, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1",
		Name:     "report.pdf",
		Content:  []byte("classified"),
	})
	require.NoError(t, err)

	assert.Len(t, result.Addresses, 1)
	assert.Len(t, bucket.objects, 1)
	assert.Empty(t, drive.objects)
}

func TestStore_MissingIdentity(t *testing.T) {
	svc := newTestService(t, Options{
		Adapters: []backend.Adapter{newFakeAdapter(backend.KindBucket)},
		Encrypt:  true,
		Logger:   zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{Content: []byte("x")})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStore_RecordsSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	bucket := newFakeAdapter(backend.KindBucket)
	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket},
		Preference: PreferBucket,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1",
		Name:     "report.pdf",
		Content:  []byte("classified"),
		Actor:    "svc-ingest",
	})
	require.NoError(t, err)

	var span sdktrace.ReadOnlySpan
	for _, s := range spans.Ended() {
		if s.Name() == "vault.store" {
			span = s
		}
	}
	require.NotNil(t, span, "store must emit a vault.store span")

	attrs := make(map[attribute.Key]string)
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "doc-1", attrs["docvault.document.id"])
	assert.Equal(t, "svc-ingest", attrs["docvault.actor"])
	assert.Equal(t, keys.SchemeLocal, attrs["docvault.scheme.id"])
	assert.Contains(t, attrs["docvault.vault.path"], "bucket://documents/doc-1_")
}

func TestRetrieve_RoundTrip(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	recorder := audit.NewMemoryRecorder()

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket},
		Preference: PreferBucket,
		Encrypt:    true,
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	})

	stored, err := svc.Store(context.Background(), StoreRequest{
		SourceID:    "doc-1",
		Name:        "report.pdf",
		Content:     []byte("SSN 123-45-6789"),
		ContentType: "application/pdf",
	})
	require.NoError(t, err)

	doc, err := svc.Retrieve(context.Background(), stored.Primary().String(), "analyst")
	require.NoError(t, err)

	assert.Equal(t, "SSN 123-45-6789", string(doc.Content))
	assert.Equal(t, "doc-1", doc.Metadata.SourceID)
	assert.Equal(t, "application/pdf", doc.Metadata.ContentType)

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionRetrieve, entries[1].Action)
}

func TestRetrieve_NotFound(t *testing.T) {
	svc := newTestService(t, Options{
		Adapters: []backend.Adapter{newFakeAdapter(backend.KindBucket)},
		Encrypt:  true,
		Logger:   zerolog.Nop(),
	})

	_, err := svc.Retrieve(context.Background(), "bucket://documents/absent", "analyst")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestRetrieve_BadAddress(t *testing.T) {
	svc := newTestService(t, Options{
		Adapters: []backend.Adapter{newFakeAdapter(backend.KindBucket)},
		Encrypt:  true,
		Logger:   zerolog.Nop(),
	})

	_, err := svc.Retrieve(context.Background(), "tape://documents/x", "analyst")
	assert.ErrorIs(t, err, backend.ErrBadAddress)
}

func TestRetrieve_UnknownScheme(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	svc := newTestService(t, Options{
		Adapters: []backend.Adapter{bucket},
		Encrypt:  true,
		Logger:   zerolog.Nop(),
	})

	// A document written by a future deployment with a scheme this one
	// does not know must fail loudly, not decode garbage.
	bucket.objects["documents/doc-9_x"] = fakeObject{
		data: []byte("opaque"),
		meta: backend.Metadata{SourceID: "doc-9", Encrypted: true, SchemeID: "PQC_KYBER"},
	}

	_, err := svc.Retrieve(context.Background(), "bucket://documents/doc-9_x", "analyst")
	assert.ErrorIs(t, err, keys.ErrUnknownScheme)
}

func TestList_MergesMostRecentFirst(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{SourceID: "doc-1", Name: "first.pdf", Content: []byte("a")})
	require.NoError(t, err)
	_, err = svc.Store(context.Background(), StoreRequest{SourceID: "doc-2", Name: "second.pdf", Content: []byte("b")})
	require.NoError(t, err)

	listing, err := svc.List(context.Background(), "", 10)
	require.NoError(t, err)

	require.Len(t, listing.Documents, 4, "two documents, two backends each")
	assert.Empty(t, listing.BackendErrors)
	assert.Equal(t, "doc-2", listing.Documents[0].Metadata.SourceID)
	assert.Equal(t, "doc-1", listing.Documents[len(listing.Documents)-1].Metadata.SourceID)
}

func TestList_PartialWhenBackendDown(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)
	drive.listErr = fmt.Errorf("%w: timeout", backend.ErrUnavailable)

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferBucket,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{SourceID: "doc-1", Name: "report.pdf", Content: []byte("a")})
	require.NoError(t, err)

	listing, err := svc.List(context.Background(), "", 10)
	require.NoError(t, err)

	assert.Len(t, listing.Documents, 1)
	require.Contains(t, listing.BackendErrors, backend.KindDrive)
	assert.Contains(t, listing.BackendErrors[backend.KindDrive], "timeout")
}

func TestDelete_SecondDeleteNotFound(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	recorder := audit.NewMemoryRecorder()

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket},
		Preference: PreferBucket,
		Encrypt:    true,
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	})

	stored, err := svc.Store(context.Background(), StoreRequest{
		SourceID: "doc-1", Name: "report.pdf", Content: []byte("a"),
	})
	require.NoError(t, err)
	path := stored.Primary().String()

	require.NoError(t, svc.Delete(context.Background(), path, "admin"))
	assert.ErrorIs(t, svc.Delete(context.Background(), path, "admin"), backend.ErrNotFound)

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionDelete, entries[1].Action)
}

func TestMigrateSensitive(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	recorder := audit.NewMemoryRecorder()

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket},
		Preference: PreferBucket,
		Encrypt:    true,
		Audit:      recorder,
		Logger:     zerolog.Nop(),
	})

	content := []byte("patient records")
	cleaned := false

	result, err := svc.MigrateSensitive(context.Background(), MigrateRequest{
		SourceID:     "drive-file-1",
		Name:         "patients.csv",
		Content:      content,
		ContentType:  "text/csv",
		FindingCount: 12,
		Actor:        "dlp-scanner",
		CleanupSource: func(context.Context) error {
			cleaned = true
			return nil
		},
	})
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Hash)
	assert.Equal(t, "FIPS_140_2", result.ComplianceLevel)
	assert.Equal(t, "7_years", result.RetentionPolicy)
	assert.True(t, cleaned)

	for _, obj := range bucket.objects {
		assert.Equal(t, "7_years", obj.meta.Custom["retention_policy"])
		assert.Equal(t, "FIPS_140_2", obj.meta.Custom["compliance_level"])
		assert.Equal(t, "12", obj.meta.Custom["finding_count"])
		assert.Equal(t, result.Hash, obj.meta.Hash)
	}

	actions := []string{}
	for _, entry := range recorder.Entries() {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, audit.ActionMigrate)
}

func TestMigrateSensitive_CleanupFailureIgnored(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket},
		Preference: PreferBucket,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.MigrateSensitive(context.Background(), MigrateRequest{
		SourceID: "drive-file-1",
		Name:     "patients.csv",
		Content:  []byte("x"),
		CleanupSource: func(context.Context) error {
			return errors.New("source gone")
		},
	})
	assert.NoError(t, err, "source cleanup is best-effort")
}

func TestStatistics(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	_, err := svc.Store(context.Background(), StoreRequest{SourceID: "doc-1", Name: "a.pdf", Content: []byte("aaaa")})
	require.NoError(t, err)

	stats, err := svc.Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalDocuments)
	assert.Equal(t, 2, stats.EncryptedDocuments)
	assert.InDelta(t, 100.0, stats.EncryptionPercent, 0.01)
	assert.Positive(t, stats.TotalBytes)
	assert.Equal(t, 1, stats.Backends[backend.KindBucket].Documents)
}

func TestStorageStatus(t *testing.T) {
	bucket := newFakeAdapter(backend.KindBucket)
	drive := newFakeAdapter(backend.KindDrive)
	drive.healthErr = errors.New("api quota exceeded")

	svc := newTestService(t, Options{
		Adapters:   []backend.Adapter{bucket, drive},
		Preference: PreferHybrid,
		Encrypt:    true,
		Logger:     zerolog.Nop(),
	})

	status := svc.StorageStatus(context.Background())
	assert.True(t, status[backend.KindBucket].Available)
	assert.False(t, status[backend.KindDrive].Available)
	assert.Contains(t, status[backend.KindDrive].Error, "quota")
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewService(Options{
		Adapters:   []backend.Adapter{newFakeAdapter(backend.KindBucket)},
		Preference: PreferDrive,
		Logger:     zerolog.Nop(),
	})
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewService(Options{
		Adapters: []backend.Adapter{newFakeAdapter(backend.KindBucket)},
		Encrypt:  true,
		Logger:   zerolog.Nop(),
	})
	assert.ErrorIs(t, err, ErrConfiguration, "encryption without a key provider")
}
