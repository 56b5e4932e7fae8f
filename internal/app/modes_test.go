package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/config"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlob) Put(_ context.Context, blob domain.Blob) error {
	data, err := io.ReadAll(blob.Body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[blob.Path]; ok && blob.Create {
		return fmt.Errorf("%s: %w", blob.Path, domain.ErrAlreadyExists)
	}
	b.objects[blob.Path] = data
	return nil
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlob) journalObjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.objects {
		if strings.HasSuffix(k, ".jsonl") {
			out = append(out, k)
		}
	}
	return out
}

type stubLock struct {
	held     bool
	acquired int
	released int
}

func (l *stubLock) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func newTestApp(t *testing.T, mode string) (*App, *Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Archive.RetentionDays = 0
	logger := slog.New(slog.DiscardHandler)

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return New(&cfg, logger), deps
}

func TestWireMemoryBackend(t *testing.T) {
	_, deps := newTestApp(t, "server")

	assert.NotNil(t, deps.Store)
	assert.NotNil(t, deps.Engine)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.ReplayGuard)
	assert.Nil(t, deps.BlobWriter)
	assert.Empty(t, deps.Pingers)
}

func TestArchiveModeUploadsJournal(t *testing.T) {
	a, deps := newTestApp(t, "server")
	ctx := context.Background()

	_, err := deps.Engine.CreateMarket(ctx, common.HexToAddress("0xaa"), 10)
	require.NoError(t, err)
	_, err = deps.Engine.Airdrop(ctx, common.HexToAddress("0xbb"), 100)
	require.NoError(t, err)

	blob := &memBlob{objects: make(map[string][]byte)}
	deps.BlobWriter, deps.BlobReader = blob, blob
	lock := &stubLock{}
	deps.LockManager = lock
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, a.ArchiveMode(ctx, deps))
	assert.Len(t, blob.journalObjects(), 1)
	assert.Equal(t, 1, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestArchiveModeSkipsWhenLockHeld(t *testing.T) {
	a, deps := newTestApp(t, "server")
	blob := &memBlob{objects: make(map[string][]byte)}
	deps.BlobWriter, deps.BlobReader = blob, blob
	deps.LockManager = &stubLock{held: true}

	require.NoError(t, a.ArchiveMode(context.Background(), deps))
	assert.Empty(t, blob.objects)
}

func TestArchiveModeRequiresBlobStorage(t *testing.T) {
	a, deps := newTestApp(t, "server")
	require.Error(t, a.ArchiveMode(context.Background(), deps))
}

type chanPublisher chan string

func (c chanPublisher) Publish(_ context.Context, channel string, _ []byte) error {
	c <- channel
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("down")
}

func TestFanoutDeliversToAll(t *testing.T) {
	a, b := make(chanPublisher, 1), make(chanPublisher, 1)
	err := fanout{a, failingPublisher{}, b}.Publish(context.Background(), domain.ChannelFees, nil)
	require.Error(t, err)
	assert.Equal(t, domain.ChannelFees, <-a)
	assert.Equal(t, domain.ChannelFees, <-b)
}

func TestServerModeStopsOnCancel(t *testing.T) {
	a, deps := newTestApp(t, "server")
	a.cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServerMode(ctx, deps) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server mode did not stop")
	}
}
