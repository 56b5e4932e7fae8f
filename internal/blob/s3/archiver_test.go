package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/store/memory"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob { return &memBlob{objects: make(map[string][]byte)} }

func (b *memBlob) Put(_ context.Context, blob domain.Blob) error {
	data, err := io.ReadAll(blob.Body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[blob.Path]; ok && blob.Create {
		return fmt.Errorf("memblob: %s: %w", blob.Path, domain.ErrAlreadyExists)
	}
	b.objects[blob.Path] = data
	return nil
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("memblob: %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func seedJournal(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Update(ctx, func(tx domain.Tx) error {
			return tx.AppendJournal(ctx, domain.EventAirdrop, map[string]any{"n": i})
		}))
	}
}

func readLines(t *testing.T, data []byte) []domain.JournalEntry {
	t.Helper()
	var out []domain.JournalEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e domain.JournalEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveJournal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJournal(t, store, 7)

	blob := newMemBlob()
	at := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	a := NewArchiver(blob, blob, store, slog.New(slog.DiscardHandler)).
		WithPageSize(3).
		WithClock(func() time.Time { return at })

	res, err := a.ArchiveJournal(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 7, res.Count)
	assert.Equal(t, fmt.Sprintf("journal/2025/03/09/journal-%d.jsonl", at.Unix()), res.Path)

	entries := readLines(t, blob.objects[res.Path])
	require.Len(t, entries, 7)
	assert.Equal(t, res.LastID, entries[6].ID)
	assert.Equal(t, domain.EventAirdrop, entries[0].Event)

	var cp checkpoint
	require.NoError(t, json.Unmarshal(blob.objects[checkpointPath], &cp))
	assert.Equal(t, res.LastID, cp.LastID)
	assert.Equal(t, res.Path, cp.Path)
}

func TestArchiveJournalResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJournal(t, store, 2)

	blob := newMemBlob()
	clock := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	a := NewArchiver(blob, blob, store, slog.New(slog.DiscardHandler)).
		WithClock(func() time.Time { return clock })

	first, err := a.ArchiveJournal(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, first.Count)

	again, err := a.ArchiveJournal(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again.Count)
	assert.Empty(t, again.Path)

	seedJournal(t, store, 3)
	clock = clock.Add(time.Minute)
	second, err := a.ArchiveJournal(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, second.Count)
	assert.NotEqual(t, first.Path, second.Path)

	entries := readLines(t, blob.objects[second.Path])
	require.Len(t, entries, 3)
	assert.Greater(t, entries[0].ID, first.LastID)
}

func TestArchiveJournalRespectsCutoff(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJournal(t, store, 4)

	blob := newMemBlob()
	a := NewArchiver(blob, blob, store, slog.New(slog.DiscardHandler))

	res, err := a.ArchiveJournal(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, blob.objects)
}

func TestArchiveJournalRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedJournal(t, store, 1)

	blob := newMemBlob()
	at := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	blob.objects[archivePath(at)] = []byte("{}\n")

	a := NewArchiver(blob, blob, store, slog.New(slog.DiscardHandler)).
		WithClock(func() time.Time { return at })
	_, err := a.ArchiveJournal(ctx, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, ok := blob.objects[checkpointPath]
	assert.False(t, ok)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
