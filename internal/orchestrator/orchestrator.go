// Package orchestrator sends batch payloads to the external decision service
// and decodes its answers.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

// Client delivers one payload and returns the decoded answer. Any error means
// the cycle produced no data: the caller must neither reply nor touch state.
// Implementations do not retry.
type Client interface {
	Send(ctx context.Context, payload models.Payload) (*models.Envelope, error)
}

// ErrMalformedResponse is wrapped by every decoding failure.
var ErrMalformedResponse = errors.New("malformed orchestrator response")

// maxUnwrap bounds how many string/array/output layers are peeled off a body.
const maxUnwrap = 5

// DecodeEnvelope parses an orchestrator body. Besides a bare envelope object it
// accepts the envelope nested under "output", JSON-encoded as a string, or as
// the first element of an array, in any combination.
//
// A "response" that is not a string is treated as absent. A group update that
// does not decode, or a member entry that does not decode, is dropped and
// logged; the rest of the envelope still applies.
func DecodeEnvelope(body []byte, logger *zap.Logger) (*models.Envelope, error) {
	for depth := 0; depth < maxUnwrap; depth++ {
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
		}

		switch body[0] {
		case '"':
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			body = []byte(s)
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			if len(items) == 0 {
				return nil, fmt.Errorf("%w: empty array", ErrMalformedResponse)
			}
			body = items[0]
		case '{':
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			if output, ok := fields["output"]; ok {
				if _, direct := fields["response"]; !direct {
					body = output
					continue
				}
			}
			return envelopeFromFields(fields, logger), nil
		default:
			return nil, fmt.Errorf("%w: unexpected body %.40q", ErrMalformedResponse, body)
		}
	}
	return nil, fmt.Errorf("%w: nested too deeply", ErrMalformedResponse)
}

func envelopeFromFields(fields map[string]json.RawMessage, logger *zap.Logger) *models.Envelope {
	env := &models.Envelope{}

	if raw, ok := fields["response"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			env.Response = &s
		} else {
			logger.Debug("Ignoring non-string response field", zap.ByteString("response", raw))
		}
	}

	raw, ok := fields["updated"]
	if !ok || isNull(raw) {
		return env
	}

	var parts struct {
		Group   json.RawMessage   `json:"group"`
		Members []json.RawMessage `json:"members"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		logger.Warn("Ignoring malformed updated field", zap.Error(err))
		return env
	}

	updated := &models.Updated{}
	if len(parts.Group) > 0 && !isNull(parts.Group) {
		if isObject(parts.Group) {
			updated.Group = parts.Group
		} else {
			logger.Warn("Dropping malformed group update", zap.ByteString("group", parts.Group))
		}
	}
	for i, item := range parts.Members {
		if !isObject(item) {
			logger.Warn("Dropping malformed member update", zap.Int("index", i), zap.ByteString("member", item))
			continue
		}
		updated.Members = append(updated.Members, item)
	}

	if updated.Group != nil || len(updated.Members) > 0 {
		env.Updated = updated
	}
	return env
}

func isObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
