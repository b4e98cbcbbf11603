package store

import (
	"context"
	"time"

	"github.com/loykin/watchcap/internal/eventlog"
)

// Sink adapts a Store to the event log's sink interface, so every diagnostic
// event is also persisted. Append failures surface as the event log's dropped
// counter, never as caller errors.
type Sink struct {
	Store   Store
	Timeout time.Duration
}

func (s Sink) Append(ev eventlog.Event) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Store.AppendEvent(ctx, Record{
		Timestamp: ev.Timestamp,
		Severity:  string(ev.Severity),
		Message:   ev.Message,
	})
}
