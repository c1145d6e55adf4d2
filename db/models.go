package db

import "time"

type Conversation struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	LastTurnAt time.Time
}

type ConversationSummary struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	LastTurnAt time.Time
	TurnCount  int64
}

type Turn struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}

type Config struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
