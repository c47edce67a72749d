package postgresql

import (
	"context"
	"fmt"

	"github.com/dukex/convoflow/pkg/models"
)

func (p *Persistence) SaveTimer(ctx context.Context, timer *models.Timer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO timers (conversation_id, token, due_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET token = EXCLUDED.token, due_at = EXCLUDED.due_at
	`, timer.ConversationID, timer.Token, timer.DueAt)
	if err != nil {
		return fmt.Errorf("failed to save timer of %s: %w", timer.ConversationID, err)
	}

	return nil
}

func (p *Persistence) DeleteTimer(ctx context.Context, conversationID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM timers WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete timer of %s: %w", conversationID, err)
	}

	return nil
}

func (p *Persistence) Timers(ctx context.Context) ([]*models.Timer, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT conversation_id, token, due_at FROM timers ORDER BY due_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query timers: %w", err)
	}
	defer p.closeRows(ctx, rows)

	out := make([]*models.Timer, 0)

	for rows.Next() {
		var t models.Timer

		err := rows.Scan(&t.ConversationID, &t.Token, &t.DueAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}

		out = append(out, &t)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}

	return out, nil
}
