package db

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"node.town/voxrelay/etc"
	"node.town/voxrelay/turn"
)

// Archive stores finished turns in Postgres.
type Archive struct {
	conn    Beginner
	queries *Queries
	log     *log.Logger
}

func NewArchive(conn Beginner, logger *log.Logger) *Archive {
	if logger == nil {
		logger = log.Default()
	}
	return &Archive{conn: conn, queries: New(conn), log: logger}
}

func (a *Archive) RecordTurn(ctx context.Context, rec turn.Record) error {
	tx, err := a.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := a.queries.WithTx(tx)
	finished := rec.StartedAt.Add(rec.Duration)

	err = q.UpsertConversation(ctx, UpsertConversationParams{
		ID:     rec.SessionID,
		Mode:   rec.Mode.String(),
		TurnAt: finished,
	})
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	for _, t := range []InsertTurnParams{
		{Role: "user", Content: rec.User, CreatedAt: rec.StartedAt},
		{Role: "assistant", Content: rec.Assistant, CreatedAt: finished},
	} {
		t.ID = etc.NewFreshID()
		t.ConversationID = rec.SessionID
		if err := q.InsertTurn(ctx, t); err != nil {
			return fmt.Errorf("failed to save %s turn: %w", t.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	a.log.Debug("archived", "session", rec.SessionID)
	return nil
}

func (a *Archive) ListConversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	return a.queries.ListConversations(ctx, int32(limit))
}

func (a *Archive) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	return a.queries.ListTurns(ctx, conversationID)
}

func (a *Archive) DeleteConversation(ctx context.Context, conversationID string) (bool, error) {
	n, err := a.queries.DeleteConversation(ctx, conversationID)
	return n > 0, err
}
