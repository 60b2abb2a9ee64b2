package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/backend"
	"github.com/docvault/docvault/internal/vault"
)

type fakeFetcher struct {
	mu      sync.Mutex
	content map[string][]byte
	removed []string

	fetchErr map[string]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		content:  make(map[string][]byte),
		fetchErr: make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, sourceID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fetchErr[sourceID]; err != nil {
		return nil, "", err
	}
	content, ok := f.content[sourceID]
	if !ok {
		return nil, "", backend.ErrNotFound
	}
	return content, "text/plain", nil
}

func (f *fakeFetcher) Remove(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sourceID)
	return nil
}

type fakeMigrator struct {
	mu       sync.Mutex
	migrated []string
	failOn   map[string]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (m *fakeMigrator) MigrateSensitive(ctx context.Context, req vault.MigrateRequest) (vault.MigrateResult, error) {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		max := m.maxInFlight.Load()
		if cur <= max || m.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if err := m.failOn[req.SourceID]; err != nil {
		return vault.MigrateResult{}, err
	}

	if req.CleanupSource != nil {
		if err := req.CleanupSource(ctx); err != nil {
			return vault.MigrateResult{}, err
		}
	}

	m.mu.Lock()
	m.migrated = append(m.migrated, req.SourceID)
	m.mu.Unlock()

	return vault.MigrateResult{
		StoreResult: vault.StoreResult{
			Addresses: []backend.Address{{Kind: backend.KindBucket, Path: "documents/" + req.SourceID}},
		},
		Hash: "hash-" + req.SourceID,
	}, nil
}

func TestCoordinator_MigratesOverThreshold(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.content["f1"] = []byte("ssn data")
	fetcher.content["f2"] = []byte("more ssn data")
	migrator := &fakeMigrator{}

	coord := NewCoordinator(migrator, fetcher, Config{Threshold: 3}, nil, zerolog.Nop())
	summary := coord.Run(context.Background(), []Candidate{
		{SourceID: "f1", Name: "a.txt", FindingCount: 5},
		{SourceID: "f2", Name: "b.txt", FindingCount: 3},
		{SourceID: "f3", Name: "c.txt", FindingCount: 1},
	})

	assert.Len(t, summary.Migrated, 2)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, 1, summary.Skipped, "below-threshold candidates are skipped, not failed")
	assert.ElementsMatch(t, []string{"f1", "f2"}, fetcher.removed, "sources removed after vaulting")
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.content["ok-1"] = []byte("a")
	fetcher.content["bad-fetch"] = []byte("b")
	fetcher.content["bad-store"] = []byte("c")
	fetcher.content["ok-2"] = []byte("d")
	fetcher.fetchErr["bad-fetch"] = errors.New("source unreadable")

	migrator := &fakeMigrator{failOn: map[string]error{
		"bad-store": errors.New("all backends failed"),
	}}

	coord := NewCoordinator(migrator, fetcher, Config{Threshold: 1}, nil, zerolog.Nop())
	summary := coord.Run(context.Background(), []Candidate{
		{SourceID: "ok-1", Name: "1.txt", FindingCount: 2},
		{SourceID: "bad-fetch", Name: "2.txt", FindingCount: 2},
		{SourceID: "bad-store", Name: "3.txt", FindingCount: 2},
		{SourceID: "ok-2", Name: "4.txt", FindingCount: 2},
	})

	require.Len(t, summary.Migrated, 2)
	require.Len(t, summary.Failed, 2)

	failedIDs := map[string]string{}
	for _, item := range summary.Failed {
		failedIDs[item.SourceID] = item.Error
	}
	assert.Contains(t, failedIDs["bad-fetch"], "source unreadable")
	assert.Contains(t, failedIDs["bad-store"], "all backends failed")

	// Failed sources must never be removed.
	assert.NotContains(t, fetcher.removed, "bad-fetch")
}

func TestCoordinator_BoundsWorkers(t *testing.T) {
	fetcher := newFakeFetcher()
	for i := 0; i < 50; i++ {
		fetcher.content[fmt.Sprintf("f%d", i)] = []byte("x")
	}
	migrator := &fakeMigrator{}

	coord := NewCoordinator(migrator, fetcher, Config{Threshold: 1, Workers: 4}, nil, zerolog.Nop())

	candidates := make([]Candidate, 0, 50)
	for i := 0; i < 50; i++ {
		candidates = append(candidates, Candidate{
			SourceID:     fmt.Sprintf("f%d", i),
			Name:         fmt.Sprintf("f%d.txt", i),
			FindingCount: 1,
		})
	}

	summary := coord.Run(context.Background(), candidates)
	assert.Len(t, summary.Migrated, 50)
	assert.LessOrEqual(t, migrator.maxInFlight.Load(), int32(4), "worker pool must be bounded")
}

func TestCoordinator_EmptyBatch(t *testing.T) {
	coord := NewCoordinator(&fakeMigrator{}, newFakeFetcher(), Config{Threshold: 1}, nil, zerolog.Nop())
	summary := coord.Run(context.Background(), nil)
	assert.Empty(t, summary.Migrated)
	assert.Empty(t, summary.Failed)
}
