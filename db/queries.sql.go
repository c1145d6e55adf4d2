package db

import (
	"context"
	"time"
)

const upsertConversation = `
INSERT INTO conversations (id, mode, started_at, last_turn_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO UPDATE SET last_turn_at = EXCLUDED.last_turn_at
`

type UpsertConversationParams struct {
	ID     string
	Mode   string
	TurnAt time.Time
}

func (q *Queries) UpsertConversation(ctx context.Context, arg UpsertConversationParams) error {
	_, err := q.db.Exec(ctx, upsertConversation, arg.ID, arg.Mode, arg.TurnAt)
	return err
}

const insertTurn = `
INSERT INTO turns (id, conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4, $5)
`

type InsertTurnParams struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

func (q *Queries) InsertTurn(ctx context.Context, arg InsertTurnParams) error {
	_, err := q.db.Exec(ctx, insertTurn,
		arg.ID,
		arg.ConversationID,
		arg.Role,
		arg.Content,
		arg.CreatedAt,
	)
	return err
}

const listTurns = `
SELECT id, conversation_id, role, content, created_at
FROM turns
WHERE conversation_id = $1
ORDER BY seq
`

func (q *Queries) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := q.db.Query(ctx, listTurns, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Turn
	for rows.Next() {
		var i Turn
		if err := rows.Scan(
			&i.ID,
			&i.ConversationID,
			&i.Role,
			&i.Content,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listConversations = `
SELECT c.id, c.mode, c.started_at, c.last_turn_at, COUNT(t.id) AS turn_count
FROM conversations c
LEFT JOIN turns t ON t.conversation_id = c.id
GROUP BY c.id
ORDER BY c.last_turn_at DESC
LIMIT $1
`

func (q *Queries) ListConversations(ctx context.Context, limit int32) ([]ConversationSummary, error) {
	rows, err := q.db.Query(ctx, listConversations, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConversationSummary
	for rows.Next() {
		var i ConversationSummary
		if err := rows.Scan(
			&i.ID,
			&i.Mode,
			&i.StartedAt,
			&i.LastTurnAt,
			&i.TurnCount,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteConversation = `
DELETE FROM conversations WHERE id = $1
`

func (q *Queries) DeleteConversation(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConversation, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getAllConfig = `
SELECT key, value, updated_at FROM config ORDER BY key
`

func (q *Queries) GetAllConfig(ctx context.Context) ([]Config, error) {
	rows, err := q.db.Query(ctx, getAllConfig)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Config
	for rows.Next() {
		var i Config
		if err := rows.Scan(&i.Key, &i.Value, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getConfigValue = `
SELECT value FROM config WHERE key = $1
`

func (q *Queries) GetConfigValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRow(ctx, getConfigValue, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const setConfigValue = `
INSERT INTO config (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`

type SetConfigValueParams struct {
	Key   string
	Value string
}

func (q *Queries) SetConfigValue(ctx context.Context, arg SetConfigValueParams) error {
	_, err := q.db.Exec(ctx, setConfigValue, arg.Key, arg.Value)
	return err
}
