package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects map[string][]byte
	lastKey string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) PutRaw(_ context.Context, key string, data []byte, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.objects[key] = data
	s.lastKey = key
	return nil
}

func (s *fakeStore) GetRaw(_ context.Context, key string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (s *fakeStore) ListRaw(_ context.Context, prefix string, limit int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	var keys []string
	for key := range s.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func TestBlobRecorder_WritesDatedKey(t *testing.T) {
	store := newFakeStore()
	recorder := NewBlobRecorder(store, zerolog.Nop())

	recorder.Record(context.Background(), Entry{
		Timestamp: time.Date(2024, 3, 7, 9, 15, 42, 0, time.UTC),
		SourceID:  "doc-1",
		Action:    ActionStore,
		Actor:     "svc-ingest",
	})

	assert.Equal(t, "audit_logs/2024/03/07/access_doc-1_091542.json", store.lastKey)

	var entry Entry
	require.NoError(t, json.Unmarshal(store.objects[store.lastKey], &entry))
	assert.Equal(t, "doc-1", entry.SourceID)
	assert.Equal(t, ActionStore, entry.Action)
	assert.NotEmpty(t, entry.ID)
}

func TestBlobRecorder_SinkFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("bucket down")
	recorder := NewBlobRecorder(store, zerolog.Nop())

	// Must not panic or propagate; auditing is best-effort.
	recorder.Record(context.Background(), Entry{SourceID: "doc-1", Action: ActionDelete})
}

func TestBlobRecorder_RecentNewestFirst(t *testing.T) {
	store := newFakeStore()
	recorder := NewBlobRecorder(store, zerolog.Nop())
	ctx := context.Background()

	recorder.Record(ctx, Entry{
		Timestamp: time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC),
		SourceID:  "doc-1",
		Action:    ActionStore,
		Actor:     "svc-ingest",
	})
	recorder.Record(ctx, Entry{
		Timestamp: time.Date(2024, 3, 7, 9, 15, 42, 0, time.UTC),
		SourceID:  "doc-2",
		Action:    ActionRetrieve,
		Actor:     "compliance-bot",
	})
	recorder.Record(ctx, Entry{
		Timestamp: time.Date(2024, 3, 7, 14, 30, 0, 0, time.UTC),
		SourceID:  "doc-1",
		Action:    ActionDelete,
		Actor:     "compliance-bot",
	})

	entries, err := recorder.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ActionDelete, entries[0].Action)
	assert.Equal(t, ActionRetrieve, entries[1].Action)
	assert.Equal(t, ActionStore, entries[2].Action)

	limited, err := recorder.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestBlobRecorder_RecentSkipsUnreadableEntries(t *testing.T) {
	store := newFakeStore()
	recorder := NewBlobRecorder(store, zerolog.Nop())
	ctx := context.Background()

	recorder.Record(ctx, Entry{
		Timestamp: time.Date(2024, 3, 7, 9, 15, 42, 0, time.UTC),
		SourceID:  "doc-1",
		Action:    ActionStore,
	})
	store.objects["audit_logs/2024/03/07/access_doc-2_101500.json"] = []byte("not json")

	entries, err := recorder.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-1", entries[0].SourceID)
}

func TestBlobRecorder_RecentListFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("bucket down")
	recorder := NewBlobRecorder(store, zerolog.Nop())

	_, err := recorder.Recent(context.Background(), 10)
	assert.Error(t, err)
}

func TestMemoryRecorder(t *testing.T) {
	recorder := NewMemoryRecorder()
	recorder.Record(context.Background(), Entry{SourceID: "doc-1", Action: ActionRetrieve})
	recorder.Record(context.Background(), Entry{SourceID: "doc-2", Action: ActionDelete})

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "doc-1", entries[0].SourceID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.NotEmpty(t, entries[1].ID)
}

func TestMemoryRecorder_Recent(t *testing.T) {
	recorder := NewMemoryRecorder()
	recorder.Record(context.Background(), Entry{
		Timestamp: time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC),
		SourceID:  "doc-1",
		Action:    ActionStore,
	})
	recorder.Record(context.Background(), Entry{
		Timestamp: time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC),
		SourceID:  "doc-2",
		Action:    ActionRetrieve,
	})

	entries, err := recorder.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc-2", entries[0].SourceID)
}
