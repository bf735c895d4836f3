package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

// DefaultChatLimit is how many messages GetChatMessages returns when limit <= 0.
const DefaultChatLimit = 20

type chatContext struct {
	Role    model.ChatRole `json:"role"`
	Message string         `json:"message"`
}

type chatRow struct {
	ID        int64                   `db:"id"`
	Context   jsonColumn[chatContext] `db:"context"`
	Timestamp time.Time               `db:"timestamp"`
}

// AddChatMessage appends a message to the compacted chat of userID.
func (s *Store) AddChatMessage(ctx context.Context, userID string, role model.ChatRole, message string) (model.ChatMessage, error) {
	var row chatRow
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &row, `
			INSERT INTO compact_chat (user_id, context) VALUES ($1, $2)
			RETURNING id, context, timestamp`,
			userID, jsonColumn[chatContext]{chatContext{Role: role, Message: message}},
		); err != nil {
			return fmt.Errorf("%w: %w", ErrQuery, err)
		}
		return nil
	})
	if err != nil {
		return model.ChatMessage{}, err
	}
	return row.toModel(), nil
}

// GetChatMessages returns up to limit messages of userID, newest first.
func (s *Store) GetChatMessages(ctx context.Context, userID string, limit int) ([]model.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	var rows []chatRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, context, timestamp FROM compact_chat
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`, userID, limit); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return lo.Map(rows, func(r chatRow, _ int) model.ChatMessage { return r.toModel() }), nil
}

func (r chatRow) toModel() model.ChatMessage {
	role := r.Context.V.Role
	if role == "" {
		role = model.RoleUser
	}
	return model.ChatMessage{
		ID:        r.ID,
		Role:      role,
		Message:   r.Context.V.Message,
		Timestamp: r.Timestamp,
	}
}
