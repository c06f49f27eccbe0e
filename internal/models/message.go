package models

import (
	"encoding/json"
	"time"
)

// Message is a single inbound chat event.
type Message struct {
	SenderID   string
	SenderName *string
	ChatID     string
	ChatName   string
	Text       string
	Timestamp  time.Time
	IsGroup    bool
}

// Participant describes a chat member as reported by the platform.
type Participant struct {
	ID       string
	Username string
}

// PayloadMessage is the wire form of a Message inside a Payload.
type PayloadMessage struct {
	Message    string  `json:"message"`
	SenderName *string `json:"senderName"`
	ChatID     string  `json:"chatId,omitempty"`
}

// PayloadMeta carries request metadata for the orchestrator.
type PayloadMeta struct {
	GroupName string `json:"groupName"`
	GroupID   string `json:"groupId"`
	Timestamp int64  `json:"timestamp"`
	DateStr   string `json:"dateStr"`
}

// Payload is the request sent to the orchestrator for one batch.
type Payload struct {
	Messages []PayloadMessage `json:"messages"`
	Group    GroupState       `json:"group"`
	Members  []MemberState    `json:"members"`
	Meta     PayloadMeta      `json:"meta"`
}

// Updated carries replacement records returned by the orchestrator. Each
// record is a JSON object kept byte for byte, so keys the bot does not model
// survive the round trip to storage. A member object without a string "id" is
// carried through and skipped when applied.
type Updated struct {
	Group   json.RawMessage   `json:"group,omitempty"`
	Members []json.RawMessage `json:"members,omitempty"`
}

// Envelope is the orchestrator's answer to a Payload.
// Response is nil when the field was absent or not a string.
type Envelope struct {
	Response *string
	Updated  *Updated
}
