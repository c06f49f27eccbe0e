package payload

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
)

func strPtr(s string) *string { return &s }

func testBatch() []models.Message {
	return []models.Message{
		{SenderID: "a", SenderName: strPtr("Asha"), ChatID: "g1@g.us", Text: "Goa?"},
		{SenderID: "b", ChatID: "g1@g.us", Text: "Yes, in March"},
	}
}

func TestBuildMetaAndMessages(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC) // 01:30 on the 5th in IST
	group := models.NewGroupState("g1@g.us", now)

	p, err := NewBuilder(false, ist).Build(testBatch(), group, nil, Chat{ID: "g1@g.us", Name: "Goa trip"}, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if p.Meta.DateStr != "05-03-2026" {
		t.Errorf("expected dateStr 05-03-2026, got %q", p.Meta.DateStr)
	}
	if p.Meta.Timestamp != now.UnixMilli() {
		t.Errorf("expected timestamp %d, got %d", now.UnixMilli(), p.Meta.Timestamp)
	}
	if p.Meta.GroupName != "Goa trip" || p.Meta.GroupID != "g1@g.us" {
		t.Errorf("unexpected meta %+v", p.Meta)
	}
	if len(p.Messages) != 2 || p.Messages[0].Message != "Goa?" || p.Messages[1].Message != "Yes, in March" {
		t.Fatalf("unexpected messages %+v", p.Messages)
	}
	if p.Messages[1].SenderName != nil {
		t.Errorf("expected nil sender name, got %q", *p.Messages[1].SenderName)
	}
	if p.Members == nil {
		t.Error("members must encode as an array, not null")
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"messages"`, `"group"`, `"members":[]`, `"meta"`, `"dateStr"`, `"senderName":null`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("payload JSON missing %s: %s", key, data)
		}
	}
	if strings.Contains(string(data), `"chatId"`) {
		t.Errorf("chatId must be omitted by default: %s", data)
	}
}

func TestBuildIncludesChatIDWhenEnabled(t *testing.T) {
	now := time.Now()
	p, err := NewBuilder(true, time.UTC).Build(testBatch(), models.NewGroupState("g1@g.us", now), nil, Chat{ID: "g1@g.us"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if p.Messages[0].ChatID != "g1@g.us" {
		t.Fatalf("expected chat id, got %q", p.Messages[0].ChatID)
	}
	if p.Meta.GroupName != "g1@g.us" {
		t.Fatalf("group name falls back to the chat id, got %q", p.Meta.GroupName)
	}
}

func TestBuildDeepCopiesState(t *testing.T) {
	now := time.Now()
	group := models.NewGroupState("g1", now)
	group.Destination.Candidates = []string{"Goa"}
	dest := "Goa"
	group.Destination.Chosen = &dest
	members := []models.MemberState{models.NewMemberState("m1", strPtr("Mira"), now)}
	batch := testBatch()

	p, err := NewBuilder(false, time.UTC).Build(batch, group, members, Chat{ID: "g1"}, now)
	if err != nil {
		t.Fatal(err)
	}

	p.Group.Destination.Candidates[0] = "Manali"
	*p.Group.Destination.Chosen = "Manali"
	*p.Members[0].Name = "Someone"
	*p.Messages[0].SenderName = "Someone"

	if group.Destination.Candidates[0] != "Goa" || *group.Destination.Chosen != "Goa" {
		t.Fatal("payload group aliases stored group state")
	}
	if *members[0].Name != "Mira" {
		t.Fatal("payload members alias stored member state")
	}
	if *batch[0].SenderName != "Asha" {
		t.Fatal("payload messages alias the batch")
	}
}
