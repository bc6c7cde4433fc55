// Package notify carries message events from the persistence boundary to
// connected clients and registered external subscribers. Everything here
// runs after commit and is best effort: a lost notification never fails
// or rolls back the message that triggered it.
package notify

import (
	"context"
	"log"

	"github.com/tigasatu/wa-inbox/internal/core"
)

const (
	EventIncomingMessage = "incoming_message"
	EventOutgoingMessage = "outgoing_message"
	EventReadStateChange = "read_state_change"
)

// Event is the session update pushed to inbox clients.
type Event struct {
	Type               string              `json:"type"`
	Session            core.SessionSummary `json:"session"`
	Message            *core.Message       `json:"message,omitempty"`
	UnreadCount        int                 `json:"unread_count"`
	SessionUnreadCount int                 `json:"session_unread_count"`
	Timestamp          int64               `json:"timestamp"`
}

// Notifier delivers events to connected clients. Publish must not block
// the caller on slow consumers.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Publish(ctx, ev)
	}
}

// LogNotifier is the fallback sink when no push transport is wired.
type LogNotifier struct{}

func (LogNotifier) Publish(_ context.Context, ev Event) {
	log.Printf("notify: %s session=%s unread=%d", ev.Type, ev.Session.ID, ev.UnreadCount)
}
