// Package payload assembles the request sent to the orchestrator for a batch.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
)

// DateLayout renders the request date as DD-MM-YYYY.
const DateLayout = "02-01-2006"

// Chat identifies the chat a batch belongs to.
type Chat struct {
	ID   string
	Name string
}

type Builder struct {
	includeChatID bool
	location      *time.Location
}

// NewBuilder returns a builder that formats dates in loc (time.Local when nil)
// and emits per-message chat ids only when includeChatID is set.
func NewBuilder(includeChatID bool, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.Local
	}
	return &Builder{includeChatID: includeChatID, location: loc}
}

// Build turns a batch and the current state into a Payload. State is cloned
// through JSON so nothing in the payload aliases the caller's records.
func (b *Builder) Build(batch []models.Message, group models.GroupState, members []models.MemberState, chat Chat, now time.Time) (models.Payload, error) {
	messages := make([]models.PayloadMessage, 0, len(batch))
	for _, m := range batch {
		pm := models.PayloadMessage{
			Message:    m.Text,
			SenderName: cloneString(m.SenderName),
		}
		if b.includeChatID {
			pm.ChatID = m.ChatID
		}
		messages = append(messages, pm)
	}

	var groupCopy models.GroupState
	if err := clone(group, &groupCopy); err != nil {
		return models.Payload{}, fmt.Errorf("clone group state: %w", err)
	}
	membersCopy := make([]models.MemberState, 0, len(members))
	if err := clone(members, &membersCopy); err != nil {
		return models.Payload{}, fmt.Errorf("clone member state: %w", err)
	}
	if membersCopy == nil {
		membersCopy = []models.MemberState{}
	}

	name := chat.Name
	if name == "" {
		name = chat.ID
	}

	return models.Payload{
		Messages: messages,
		Group:    groupCopy,
		Members:  membersCopy,
		Meta: models.PayloadMeta{
			GroupName: name,
			GroupID:   chat.ID,
			Timestamp: now.UnixMilli(),
			DateStr:   now.In(b.location).Format(DateLayout),
		},
	}, nil
}

func clone(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
