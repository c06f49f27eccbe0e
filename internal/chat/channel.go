// Package chat connects the bot to chat platforms. Platform sessions (login,
// pairing, delivery) live behind the Channel interface; the rest of the bot
// only sees models.Message values and plain-text replies.
package chat

import (
	"context"

	"github.com/xaenox/tripsync-bot/internal/models"
)

// Handler receives every inbound message. It must not block for long: it runs
// on the channel's receive loop.
type Handler func(ctx context.Context, msg models.Message)

type Channel interface {
	// Name returns the channel identifier ("whatsapp", "telegram").
	Name() string

	// Start connects and begins delivering messages to h. It returns once the
	// receive loop is running; the loop stops when ctx is cancelled.
	Start(ctx context.Context, h Handler) error

	// Send posts text to a chat.
	Send(ctx context.Context, chatID, text string) error

	// Participants lists the members of a chat as known to the platform.
	Participants(ctx context.Context, chatID string) ([]models.Participant, error)

	// SelfID returns the bot's own platform identity, or "" before login.
	SelfID() string

	Close() error
}

// Truncate shortens s to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
