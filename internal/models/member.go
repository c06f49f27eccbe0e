package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemberRole is the part a participant plays in planning.
type MemberRole string

const (
	RoleMember    MemberRole = "member"
	RolePlanner   MemberRole = "planner"
	RoleDecision  MemberRole = "decision"
	RoleFinance   MemberRole = "finance"
	RoleLogistics MemberRole = "logistics"
)

// CommitmentStatus is encoded as JSON true, false or "tentative".
// The zero value means unknown and encodes as null.
type CommitmentStatus string

const (
	CommitmentUnknown   CommitmentStatus = ""
	CommitmentYes       CommitmentStatus = "true"
	CommitmentNo        CommitmentStatus = "false"
	CommitmentTentative CommitmentStatus = "tentative"
)

func (s CommitmentStatus) MarshalJSON() ([]byte, error) {
	switch s {
	case CommitmentYes:
		return []byte("true"), nil
	case CommitmentNo:
		return []byte("false"), nil
	case CommitmentUnknown:
		return []byte("null"), nil
	default:
		return json.Marshal(string(s))
	}
}

func (s *CommitmentStatus) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*s = CommitmentUnknown
	case bool:
		if t {
			*s = CommitmentYes
		} else {
			*s = CommitmentNo
		}
	case string:
		*s = CommitmentStatus(t)
	default:
		return fmt.Errorf("commitment status: unexpected %T", v)
	}
	return nil
}

// MemberState is the durable record of one participant within one group.
type MemberState struct {
	ID                 string              `json:"id"`
	Name               *string             `json:"name"`
	HomeCity           *string             `json:"homeCity"`
	Budget             MemberBudget        `json:"budget"`
	Destinations       DestinationLeanings `json:"destinations"`
	DateFlexibility    *string             `json:"dateFlexibility"`
	Availability       []Availability      `json:"availability"`
	Role               MemberRole          `json:"role"`
	Commitment         Commitment          `json:"commitment"`
	Preferences        MemberPreferences   `json:"preferences"`
	Documents          TravelDocuments     `json:"documents"`
	HealthNotes        *string             `json:"healthNotes"`
	CommunicationStyle *string             `json:"communicationStyle"`
	LastUpdated        string              `json:"lastUpdated"`
}

type MemberBudget struct {
	Amount      *float64 `json:"amount"`
	Currency    *string  `json:"currency"`
	Ceiling     *float64 `json:"ceiling"`
	Flexibility *string  `json:"flexibility"`
}

type DestinationLeanings struct {
	Preferred []string `json:"preferred"`
	Avoid     []string `json:"avoid"`
}

type Availability struct {
	Start *string `json:"start"`
	End   *string `json:"end"`
	Note  *string `json:"note"`
}

type Commitment struct {
	Status CommitmentStatus `json:"status"`
	Reason *string          `json:"reason"`
}

type MemberPreferences struct {
	Food        []string             `json:"food"`
	Dietary     []string             `json:"dietary"`
	Allergies   []string             `json:"allergies"`
	Activities  []string             `json:"activities"`
	StayType    *string              `json:"stayType"`
	Amenities   []string             `json:"amenities"`
	Transport   TransportPreferences `json:"transport"`
	RoomSharing *string              `json:"roomSharing"`
	Pace        *string              `json:"pace"`
}

type TransportPreferences struct {
	Modes          []string `json:"modes"`
	SeatPreference *string  `json:"seatPreference"`
	MaxLayovers    *int     `json:"maxLayovers"`
}

type TravelDocuments struct {
	Passport *string `json:"passport"`
	Visa     *string `json:"visa"`
}

// NewMemberState returns the default record for a newly observed participant.
func NewMemberState(id string, name *string, now time.Time) MemberState {
	return MemberState{
		ID:           id,
		Name:         name,
		Destinations: DestinationLeanings{Preferred: []string{}, Avoid: []string{}},
		Availability: []Availability{},
		Role:         RoleMember,
		Preferences: MemberPreferences{
			Food:       []string{},
			Dietary:    []string{},
			Allergies:  []string{},
			Activities: []string{},
			Amenities:  []string{},
			Transport:  TransportPreferences{Modes: []string{}},
		},
		LastUpdated: Timestamp(now),
	}
}
