package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

const systemPrompt = `You coordinate trip planning for a group chat.
You receive a JSON object with the latest chat messages, the current group
state, the state of every member and request metadata.

Answer with a single JSON object of this shape:
{
    "response": "message to post in the group, or \"skip\" to stay silent",
    "updated": {
        "group": { ...complete replacement group state, omit if unchanged... },
        "members": [ { "id": "...", ...complete replacement member state... } ]
    }
}

Keep every field of a replaced record, not only the ones that changed.
Reply "skip" when the messages need no answer.`

// OpenAIClient asks an OpenAI chat model to play the orchestrator. The model
// sees the payload as the user turn and must answer with an envelope object.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

// NewOpenAIClient builds a client for apiKey; baseURL overrides the API
// endpoint when non-empty (proxies, compatible servers, tests).
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int, temperature float64, timeout time.Duration, logger *zap.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

func (c *OpenAIClient) Send(ctx context.Context, payload models.Payload) (*models.Envelope, error) {
	content, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: string(content),
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("Model answered",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return DecodeEnvelope([]byte(answer), c.logger)
}
