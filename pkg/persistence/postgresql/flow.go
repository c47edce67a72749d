package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

// Flows returns the latest version of every flow.
func (p *Persistence) Flows(ctx context.Context) ([]*models.Flow, error) {
	query := `
		SELECT DISTINCT ON (id) definition
		FROM flows
		ORDER BY id, version DESC
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer p.closeRows(ctx, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		var definition []byte

		err := rows.Scan(&definition)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flow, err := decodeFlow(definition)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (p *Persistence) FlowByID(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT definition FROM flows WHERE id = $1 ORDER BY version DESC LIMIT 1`

	flow, err := p.queryFlow(ctx, query, id)
	if err != nil {
		return nil, persistence.NewFlowError("FlowByID", id, err)
	}

	return flow, nil
}

func (p *Persistence) FlowVersion(ctx context.Context, id string, version int) (*models.Flow, error) {
	query := `SELECT definition FROM flows WHERE id = $1 AND version = $2`

	flow, err := p.queryFlow(ctx, query, id, version)
	if err != nil {
		return nil, persistence.NewFlowVersionError("FlowVersion", id, version, err)
	}

	return flow, nil
}

// SaveFlow inserts a new version; version 0 is assigned the next free number.
func (p *Persistence) SaveFlow(ctx context.Context, flow *models.Flow) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if flow.Version == 0 {
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM flows WHERE id = $1`, flow.ID).Scan(&flow.Version)
		if err != nil {
			return persistence.NewFlowError("SaveFlow", flow.ID, err)
		}
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}

	definition, err := json.Marshal(flow)
	if err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, fmt.Errorf("failed to marshal flow: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flows (id, version, name, active, definition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, flow.ID, flow.Version, flow.Name, flow.Active, definition, flow.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewFlowVersionError("SaveFlow", flow.ID, flow.Version, persistence.ErrFlowVersionExists)
		}

		return persistence.NewFlowVersionError("SaveFlow", flow.ID, flow.Version, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit flow %s: %w", flow.ID, err)
	}

	return nil
}

func (p *Persistence) queryFlow(ctx context.Context, query string, args ...any) (*models.Flow, error) {
	var definition []byte

	err := p.db.QueryRowContext(ctx, query, args...).Scan(&definition)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrFlowNotFound
		}

		return nil, fmt.Errorf("failed to query flow: %w", err)
	}

	return decodeFlow(definition)
}

func decodeFlow(definition []byte) (*models.Flow, error) {
	var flow models.Flow

	err := json.Unmarshal(definition, &flow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal flow definition: %w", err)
	}

	return &flow, nil
}
