package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

// Telegram receives messages through long polling.
type Telegram struct {
	api    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegram(token string, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegram(api, logger), nil
}

// NewTelegramWithEndpoint points the client at a custom Bot API server.
func NewTelegramWithEndpoint(token, endpoint string, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newTelegram(api, logger), nil
}

func newTelegram(api *tgbotapi.BotAPI, logger *zap.Logger) *Telegram {
	logger.Info("Authorized on telegram", zap.String("username", api.Self.UserName))
	return &Telegram{api: api, logger: logger}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SelfID() string {
	return strconv.FormatInt(t.api.Self.ID, 10)
}

func (t *Telegram) Start(ctx context.Context, h Handler) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				t.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				if msg, ok := toMessage(update.Message); ok {
					h(ctx, msg)
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Send(_ context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	if _, err := t.api.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// Participants lists the chat administrators; the Bot API does not expose the
// full member list of a group.
func (t *Telegram) Participants(_ context.Context, chatID string) ([]models.Participant, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	admins, err := t.api.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chat administrators: %w", err)
	}

	participants := make([]models.Participant, 0, len(admins))
	for _, m := range admins {
		if m.User == nil || m.User.IsBot {
			continue
		}
		participants = append(participants, models.Participant{
			ID:       strconv.FormatInt(m.User.ID, 10),
			Username: displayName(m.User),
		})
	}
	return participants, nil
}

func (t *Telegram) Close() error {
	t.api.StopReceivingUpdates()
	return nil
}

func toMessage(message *tgbotapi.Message) (models.Message, bool) {
	if message.From == nil || message.Chat == nil {
		return models.Message{}, false
	}

	// Get content from message
	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}

	var name *string
	if n := displayName(message.From); n != "" {
		name = &n
	}

	ts := message.Time()
	if message.Date == 0 {
		ts = time.Now()
	}

	return models.Message{
		SenderID:   strconv.FormatInt(message.From.ID, 10),
		SenderName: name,
		ChatID:     strconv.FormatInt(message.Chat.ID, 10),
		ChatName:   message.Chat.Title,
		Text:       content,
		Timestamp:  ts,
		IsGroup:    message.Chat.IsGroup() || message.Chat.IsSuperGroup(),
	}, true
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
