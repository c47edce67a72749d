package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/persistence"
)

const conversationColumns = `
	id
  , flow_id
  , flow_version
  , channel_id
  , channel_type
  , external_user_id
  , current_node_id
  , waiting_for
  , wait_token
  , resume_at
  , attempts
  , status
  , end_reason
  , variables
  , processed_events
  , idle_deadline
  , started_at
  , updated_at
  , ended_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		c               models.Conversation
		variables       []byte
		processedEvents []byte
	)

	err := row.Scan(
		&c.ID,
		&c.FlowID,
		&c.FlowVersion,
		&c.ChannelID,
		&c.ChannelType,
		&c.ExternalUserID,
		&c.CurrentNodeID,
		&c.WaitingFor,
		&c.WaitToken,
		&c.ResumeAt,
		&c.Attempts,
		&c.Status,
		&c.EndReason,
		&variables,
		&processedEvents,
		&c.IdleDeadline,
		&c.StartedAt,
		&c.UpdatedAt,
		&c.EndedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(variables, &c.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	err = json.Unmarshal(processedEvents, &c.ProcessedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal processed events: %w", err)
	}

	return &c, nil
}

func (p *Persistence) LoadConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	c, err := scanConversation(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError("LoadConversation", id, persistence.ErrConversationNotFound)
		}

		return nil, persistence.NewConversationError("LoadConversation", id, err)
	}

	return c, nil
}

// SaveConversation upserts the full conversation state.
func (p *Persistence) SaveConversation(ctx context.Context, c *models.Conversation) error {
	variables, err := json.Marshal(nonNilMap(c.Variables))
	if err != nil {
		return persistence.NewConversationError("SaveConversation", c.ID, err)
	}

	processed := c.ProcessedEvents
	if processed == nil {
		processed = []string{}
	}

	processedEvents, err := json.Marshal(processed)
	if err != nil {
		return persistence.NewConversationError("SaveConversation", c.ID, err)
	}

	query := `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id
		  , flow_version = EXCLUDED.flow_version
		  , current_node_id = EXCLUDED.current_node_id
		  , waiting_for = EXCLUDED.waiting_for
		  , wait_token = EXCLUDED.wait_token
		  , resume_at = EXCLUDED.resume_at
		  , attempts = EXCLUDED.attempts
		  , status = EXCLUDED.status
		  , end_reason = EXCLUDED.end_reason
		  , variables = EXCLUDED.variables
		  , processed_events = EXCLUDED.processed_events
		  , idle_deadline = EXCLUDED.idle_deadline
		  , updated_at = EXCLUDED.updated_at
		  , ended_at = EXCLUDED.ended_at
	`

	_, err = p.db.ExecContext(ctx, query,
		c.ID,
		c.FlowID,
		c.FlowVersion,
		c.ChannelID,
		string(c.ChannelType),
		c.ExternalUserID,
		c.CurrentNodeID,
		string(c.WaitingFor),
		c.WaitToken,
		c.ResumeAt,
		c.Attempts,
		string(c.Status),
		c.EndReason,
		variables,
		processedEvents,
		c.IdleDeadline,
		c.StartedAt,
		c.UpdatedAt,
		c.EndedAt,
	)
	if err != nil {
		return persistence.NewConversationError("SaveConversation", c.ID, err)
	}

	return nil
}

func (p *Persistence) FindActiveConversation(ctx context.Context, flowID, channelID, externalUserID string) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE status = 'active'
		  AND channel_id = $1
		  AND external_user_id = $2
		  AND ($3::text = '' OR flow_id = $3)
		ORDER BY started_at DESC
		LIMIT 1
	`

	c, err := scanConversation(p.db.QueryRowContext(ctx, query, channelID, externalUserID, flowID))
	if err != nil {
		target := channelID + "/" + externalUserID
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError("FindActiveConversation", target, persistence.ErrConversationNotFound)
		}

		return nil, persistence.NewConversationError("FindActiveConversation", target, err)
	}

	return c, nil
}

func (p *Persistence) LatestConversation(ctx context.Context, channelID, externalUserID string) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE channel_id = $1
		  AND external_user_id = $2
		ORDER BY started_at DESC
		LIMIT 1
	`

	c, err := scanConversation(p.db.QueryRowContext(ctx, query, channelID, externalUserID))
	if err != nil {
		target := channelID + "/" + externalUserID
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewConversationError("LatestConversation", target, persistence.ErrConversationNotFound)
		}

		return nil, persistence.NewConversationError("LatestConversation", target, err)
	}

	return c, nil
}

func (p *Persistence) ActiveConversations(ctx context.Context, filter persistence.ConversationFilter) ([]*models.Conversation, error) {
	conditions := []string{"status = 'active'"}
	args := make([]any, 0, 4)

	if filter.FlowID != "" {
		args = append(args, filter.FlowID)
		conditions = append(conditions, fmt.Sprintf("flow_id = $%d", len(args)))
	}

	if filter.WaitingFor != "" {
		args = append(args, string(filter.WaitingFor))
		conditions = append(conditions, fmt.Sprintf("waiting_for = $%d", len(args)))
	}

	if filter.IdleBefore != nil {
		args = append(args, *filter.IdleBefore)
		conditions = append(conditions, fmt.Sprintf("idle_deadline IS NOT NULL AND idle_deadline <= $%d", len(args)))
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY started_at`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer p.closeRows(ctx, rows)

	out := make([]*models.Conversation, 0)

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		out = append(out, c)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return out, nil
}

func (p *Persistence) AppendMessage(ctx context.Context, m *models.Message) error {
	var metadata []byte

	if len(m.Metadata) > 0 {
		var err error

		metadata, err = json.Marshal(m.Metadata)
		if err != nil {
			return persistence.NewConversationError("AppendMessage", m.ConversationID, err)
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, node_id, direction, content, media_url, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.ConversationID, m.NodeID, string(m.Direction), m.Content, m.MediaURL, metadata, m.Timestamp)
	if err != nil {
		return persistence.NewConversationError("AppendMessage", m.ConversationID, err)
	}

	return nil
}

func (p *Persistence) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, conversation_id, node_id, direction, content, media_url, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, persistence.NewConversationError("Messages", conversationID, err)
	}
	defer p.closeRows(ctx, rows)

	out := make([]*models.Message, 0)

	for rows.Next() {
		var (
			m        models.Message
			metadata []byte
		)

		err := rows.Scan(&m.ID, &m.ConversationID, &m.NodeID, &m.Direction, &m.Content, &m.MediaURL, &metadata, &m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		if len(metadata) > 0 {
			err = json.Unmarshal(metadata, &m.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}

		out = append(out, &m)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return out, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}

	return m
}
