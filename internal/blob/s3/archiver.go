package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const (
	checkpointPath  = "journal/checkpoint.json"
	defaultPageSize = 500
)

// JournalSource lists committed journal entries. domain.Store satisfies it.
type JournalSource interface {
	Journal(ctx context.Context, q domain.JournalQuery) ([]domain.JournalEntry, error)
}

// checkpoint records the last journal entry written to blob storage so
// repeated runs do not upload the same entries twice.
type checkpoint struct {
	LastID     int64     `json:"last_id"`
	Path       string    `json:"path"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ArchiveResult summarises one archive run.
type ArchiveResult struct {
	Path   string
	Count  int
	LastID int64
}

// Archiver copies journal entries older than a cutoff into JSONL objects.
// Entries are never deleted from the store.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	source   JournalSource
	logger   *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, source JournalSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		reader:   reader,
		source:   source,
		logger:   logger,
		pageSize: defaultPageSize,
		now:      time.Now,
	}
}

// WithPageSize sets how many journal entries are fetched per query.
func (a *Archiver) WithPageSize(n int) *Archiver {
	if n > 0 {
		a.pageSize = n
	}
	return a
}

// WithClock replaces the time source used for object names.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// ArchiveJournal uploads every entry created before the cutoff that has not
// been archived yet to journal/YYYY/MM/DD/journal-<unix>.jsonl, then advances
// the checkpoint. A zero Count means there was nothing new to archive.
func (a *Archiver) ArchiveJournal(ctx context.Context, before time.Time) (ArchiveResult, error) {
	cp, err := a.loadCheckpoint(ctx)
	if err != nil {
		return ArchiveResult{}, err
	}

	var (
		buf     bytes.Buffer
		count   int
		firstID int64
		lastID  = cp.LastID
	)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for {
		page, err := a.source.Journal(ctx, domain.JournalQuery{
			AfterID: lastID,
			Before:  before,
			Limit:   a.pageSize,
		})
		if err != nil {
			return ArchiveResult{}, fmt.Errorf("s3blob: archive journal query: %w", err)
		}
		for _, e := range page {
			if err := enc.Encode(e); err != nil {
				return ArchiveResult{}, fmt.Errorf("s3blob: archive journal encode %d: %w", e.ID, err)
			}
			if count == 0 {
				firstID = e.ID
			}
			lastID = e.ID
			count++
		}
		if len(page) < a.pageSize {
			break
		}
	}

	if count == 0 {
		return ArchiveResult{LastID: lastID}, nil
	}

	now := a.now().UTC()
	path := archivePath(now)
	err = a.writer.Put(ctx, domain.Blob{
		Path:        path,
		Body:        bytes.NewReader(buf.Bytes()),
		Size:        int64(buf.Len()),
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"entries":  strconv.Itoa(count),
			"first-id": strconv.FormatInt(firstID, 10),
			"last-id":  strconv.FormatInt(lastID, 10),
		},
		Create: true,
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("s3blob: archive journal upload: %w", err)
	}
	if err := a.saveCheckpoint(ctx, checkpoint{LastID: lastID, Path: path, ArchivedAt: now}); err != nil {
		return ArchiveResult{}, err
	}

	a.logger.InfoContext(ctx, "journal archived",
		slog.String("path", path),
		slog.Int("count", count),
		slog.Int64("last_id", lastID),
	)
	return ArchiveResult{Path: path, Count: count, LastID: lastID}, nil
}

func (a *Archiver) loadCheckpoint(ctx context.Context) (checkpoint, error) {
	rc, err := a.reader.Get(ctx, checkpointPath)
	if errors.Is(err, domain.ErrNotFound) {
		return checkpoint{}, nil
	}
	if err != nil {
		return checkpoint{}, fmt.Errorf("s3blob: load checkpoint: %w", err)
	}
	defer rc.Close()

	var cp checkpoint
	if err := json.NewDecoder(rc).Decode(&cp); err != nil {
		return checkpoint{}, fmt.Errorf("s3blob: decode checkpoint: %w", err)
	}
	return cp, nil
}

func (a *Archiver) saveCheckpoint(ctx context.Context, cp checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("s3blob: encode checkpoint: %w", err)
	}
	err = a.writer.Put(ctx, domain.Blob{
		Path:        checkpointPath,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("s3blob: save checkpoint: %w", err)
	}
	return nil
}

// archivePath partitions archive objects by day:
//
//	journal/2025/01/31/journal-1738281600.jsonl
func archivePath(at time.Time) string {
	return fmt.Sprintf("journal/%s/journal-%d.jsonl", at.Format("2006/01/02"), at.Unix())
}
