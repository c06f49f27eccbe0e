// Package bot runs the batch cycle: chat messages are collected per chat in
// fixed windows, each closed window is sent to the orchestrator together with
// the group's stored planning state, and the answer is applied back to storage
// and to the chat.
package bot

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/tripsync-bot/internal/batcher"
	"github.com/xaenox/tripsync-bot/internal/chat"
	"github.com/xaenox/tripsync-bot/internal/models"
	"github.com/xaenox/tripsync-bot/internal/orchestrator"
	"github.com/xaenox/tripsync-bot/internal/payload"
	"github.com/xaenox/tripsync-bot/internal/state"
	"go.uber.org/zap"
)

type Options struct {
	// Window is the batch window; non-positive means batcher.DefaultWindow.
	Window time.Duration
	// IncludeDirect also batches one-to-one chats.
	IncludeDirect bool
	// BatcherOptions are passed to the batch registry.
	BatcherOptions []batcher.Option
}

type Bot struct {
	channel  chat.Channel
	store    *state.Store
	builder  *payload.Builder
	client   orchestrator.Client
	applier  *ResponseApplier
	registry *batcher.Registry
	logger   *zap.Logger
	now      func() time.Time

	includeDirect bool
}

// New wires the cycle. Flushes run with ctx, so cancelling it aborts
// in-flight orchestrator calls.
func New(ctx context.Context, channel chat.Channel, store *state.Store, builder *payload.Builder, client orchestrator.Client, opts Options, logger *zap.Logger) *Bot {
	b := &Bot{
		channel:       channel,
		store:         store,
		builder:       builder,
		client:        client,
		applier:       NewResponseApplier(store, channel, logger),
		logger:        logger,
		now:           time.Now,
		includeDirect: opts.IncludeDirect,
	}
	b.registry = batcher.NewRegistry(ctx, opts.Window, b.processBatch, logger, opts.BatcherOptions...)
	return b
}

// Start begins receiving messages from the channel.
func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("Starting bot", zap.String("channel", b.channel.Name()))
	return b.channel.Start(ctx, b.HandleMessage)
}

// Stop cancels open windows and waits for a running cycle to return.
// Buffered messages are dropped.
func (b *Bot) Stop() {
	b.registry.Stop()
}

// HandleMessage submits a chat message to its chat's batch window.
func (b *Bot) HandleMessage(_ context.Context, msg models.Message) {
	if selfID := b.channel.SelfID(); selfID != "" && msg.SenderID == selfID {
		return
	}
	if !msg.IsGroup && !b.includeDirect {
		b.logger.Debug("Ignoring direct message", zap.String("chat_id", msg.ChatID))
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	if !b.registry.Add(msg) {
		b.logger.Debug("Dropping message after shutdown", zap.String("chat_id", msg.ChatID))
	}
}

// processBatch runs one cycle for a closed window. The chat is both the group
// whose state is loaded and the target of the reply.
func (b *Bot) processBatch(ctx context.Context, chatID string, batch []models.Message) {
	logger := b.logger.With(
		zap.String("cycle_id", uuid.NewString()),
		zap.String("chat_id", chatID))
	logger.Info("Processing batch", zap.Int("messages", len(batch)))

	b.store.SetSelfID(b.channel.SelfID())

	participants := b.participants(ctx, chatID, batch, logger)
	group := b.store.LoadGroup(ctx, chatID)
	members := b.store.LoadMembers(ctx, chatID, participants)

	named := make([]models.Message, len(batch))
	for i, msg := range batch {
		reported := ""
		if msg.SenderName != nil {
			reported = *msg.SenderName
		}
		msg.SenderName = b.store.DisplayName(msg.SenderID, reported)
		named[i] = msg
	}

	p, err := b.builder.Build(named, group, members, payload.Chat{ID: chatID, Name: chatName(batch)}, b.now())
	if err != nil {
		logger.Error("Failed to build payload", zap.Error(err))
		return
	}

	env, err := b.client.Send(ctx, p)
	if err != nil || env == nil {
		logger.Warn("Orchestrator returned no data", zap.Error(err))
		return
	}

	b.applier.Apply(ctx, chatID, chatID, env)
}

// participants asks the platform for the chat's members and appends batch
// senders it did not list, such as someone who joined after the list was
// cached. When the platform call fails the batch senders are used alone.
func (b *Bot) participants(ctx context.Context, chatID string, batch []models.Message, logger *zap.Logger) []models.Participant {
	participants, err := b.channel.Participants(ctx, chatID)
	if err != nil {
		logger.Warn("Failed to list participants, using batch senders", zap.Error(err))
		participants = nil
	}

	seen := make(map[string]struct{}, len(participants)+len(batch))
	for _, p := range participants {
		seen[p.ID] = struct{}{}
	}
	for _, msg := range batch {
		if _, ok := seen[msg.SenderID]; ok {
			continue
		}
		seen[msg.SenderID] = struct{}{}
		p := models.Participant{ID: msg.SenderID}
		if msg.SenderName != nil {
			p.Username = *msg.SenderName
		}
		participants = append(participants, p)
	}
	return participants
}

// chatName returns the most recent chat title seen in the batch.
func chatName(batch []models.Message) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].ChatName != "" {
			return batch[i].ChatName
		}
	}
	return ""
}
