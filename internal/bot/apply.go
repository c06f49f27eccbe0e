package bot

import (
	"context"
	"strings"

	"github.com/xaenox/tripsync-bot/internal/models"
	"github.com/xaenox/tripsync-bot/internal/state"
	"go.uber.org/zap"
)

// skipResponse tells the bot to stay silent for a batch.
const skipResponse = "skip"

// Sender posts a text reply to a chat.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// ResponseApplier carries out an orchestrator answer: it persists the state
// updates and posts the reply. The two effects are independent; a failed send
// never undoes the persisted updates.
type ResponseApplier struct {
	store  *state.Store
	sender Sender
	logger *zap.Logger
}

func NewResponseApplier(store *state.Store, sender Sender, logger *zap.Logger) *ResponseApplier {
	return &ResponseApplier{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// Apply persists env.Updated under groupID and replies to target unless the
// response is empty or the skip sentinel.
func (a *ResponseApplier) Apply(ctx context.Context, target, groupID string, env *models.Envelope) {
	if env == nil {
		return
	}

	if env.Updated != nil {
		a.store.ApplyUpdates(ctx, groupID, *env.Updated)
	}

	text, ok := replyText(env.Response)
	if !ok {
		a.logger.Debug("No reply for batch", zap.String("chat_id", target))
		return
	}

	if err := a.sender.Send(ctx, target, text); err != nil {
		a.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.String("chat_id", target))
	}
}

func replyText(response *string) (string, bool) {
	if response == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(*response)
	if trimmed == "" || strings.EqualFold(trimmed, skipResponse) {
		return "", false
	}
	return *response, true
}
