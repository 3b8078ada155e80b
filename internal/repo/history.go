package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oceanstack/argo-insight/internal/models"
)

type historyRow struct {
	models.QueryHistoryEntry
	Query []byte `db:"structured_query"`
}

// AppendHistory records one translated question.
func (p *Postgres) AppendHistory(ctx context.Context, entry models.QueryHistoryEntry) error {
	raw, err := json.Marshal(entry.StructuredQuery)
	if err != nil {
		return fmt.Errorf("encode structured query: %w", err)
	}
	const query = `
		INSERT INTO query_history (id, question, structured_query, confidence, result_count, created_at)
		VALUES (:id, :question, :structured_query, :confidence, :result_count, :created_at)`
	if _, err := p.db.NamedExecContext(ctx, query, historyRow{QueryHistoryEntry: entry, Query: raw}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns the most recent entries first.
func (p *Postgres) ListHistory(ctx context.Context, limit int) ([]models.QueryHistoryEntry, error) {
	limit = listLimit(limit, defaultHistoryLimit)
	var rows []historyRow
	const query = `SELECT id, question, structured_query, confidence, result_count, created_at
		FROM query_history ORDER BY created_at DESC LIMIT $1`
	if err := p.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]models.QueryHistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := row.QueryHistoryEntry
		if err := json.Unmarshal(row.Query, &entry.StructuredQuery); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", entry.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
