package store

import (
	"context"
	"time"
)

// Record is one persisted diagnostic event.
type Record struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
}

// Store persists the supervisor's diagnostic events so crash history survives
// supervisor restarts.
type Store interface {
	EnsureSchema(ctx context.Context) error
	AppendEvent(ctx context.Context, r Record) error
	RecentEvents(ctx context.Context, limit int) ([]Record, error)
	Close() error
}
