package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCommitmentStatusJSON(t *testing.T) {
	tests := []struct {
		status CommitmentStatus
		json   string
	}{
		{CommitmentUnknown, `null`},
		{CommitmentYes, `true`},
		{CommitmentNo, `false`},
		{CommitmentTentative, `"tentative"`},
	}

	for _, tt := range tests {
		t.Run(tt.json, func(t *testing.T) {
			data, err := json.Marshal(tt.status)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.json {
				t.Fatalf("marshal %q = %s, want %s", tt.status, data, tt.json)
			}

			var got CommitmentStatus
			if err := json.Unmarshal([]byte(tt.json), &got); err != nil {
				t.Fatal(err)
			}
			if got != tt.status {
				t.Fatalf("unmarshal %s = %q, want %q", tt.json, got, tt.status)
			}
		})
	}

	var s CommitmentStatus
	if err := json.Unmarshal([]byte(`42`), &s); err == nil {
		t.Fatal("expected error for a number")
	}
}

func TestDefaultsEncodeListsAsArrays(t *testing.T) {
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	group, err := json.Marshal(NewGroupState("trip@g.us", now))
	if err != nil {
		t.Fatal(err)
	}
	member, err := json.Marshal(NewMemberState("a@c.us", nil, now))
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{`"candidates":[]`, `"notes":[]`, `"flexible":true`, `"status":"unknown"`, `"flights":"pending"`, `"lastUpdated":"2026-03-05T04:30:00Z"`} {
		if !strings.Contains(string(group), key) {
			t.Errorf("group defaults missing %s: %s", key, group)
		}
	}
	for _, key := range []string{`"availability":[]`, `"role":"member"`, `"name":null`, `"modes":[]`, `"commitment":{"status":null`} {
		if !strings.Contains(string(member), key) {
			t.Errorf("member defaults missing %s: %s", key, member)
		}
	}
}
