package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// AppendJournal writes a journal row inside the operation's transaction.
func (t *txn) AppendJournal(ctx context.Context, event string, detail map[string]any) error {
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal journal detail: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: append journal %s: %w", event, err)
	}
	return nil
}

// Journal returns committed journal entries matching q in id order.
func (s *Store) Journal(ctx context.Context, q domain.JournalQuery) ([]domain.JournalEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE id > $1`
	args := []any{q.AfterID}
	if !q.Before.IsZero() {
		args = append(args, q.Before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY id"
	query, args = paginate(query, args, domain.ListOpts{Limit: q.Limit})

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e          domain.JournalEntry
			detailJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal journal detail %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate journal: %w", err)
	}
	return entries, nil
}
