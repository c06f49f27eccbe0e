package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

// DefaultTimeout bounds one round trip when no timeout is configured.
const DefaultTimeout = 20 * time.Second

const maxResponseBytes = 4 << 20

// WebhookClient POSTs payloads to an HTTP endpoint such as an n8n webhook.
type WebhookClient struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWebhookClient(url string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookClient{
		url:        url,
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (c *WebhookClient) Send(ctx context.Context, payload models.Payload) (*models.Envelope, error) {
	if c.url == "" {
		return nil, fmt.Errorf("orchestrator url is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to orchestrator: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read orchestrator response: %w", err)
	}

	c.logger.Debug("Orchestrator responded",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(respBody)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("orchestrator returned %d: %.200s", resp.StatusCode, respBody)
	}

	return DecodeEnvelope(respBody, c.logger)
}
