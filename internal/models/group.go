package models

import "time"

// ConsensusStatus tracks how far the group is from agreeing on a plan.
type ConsensusStatus string

const (
	ConsensusUnknown         ConsensusStatus = "unknown"
	ConsensusGathering       ConsensusStatus = "gathering"
	ConsensusOptionsProposed ConsensusStatus = "options_proposed"
	ConsensusVoting          ConsensusStatus = "voting"
	ConsensusAgreed          ConsensusStatus = "agreed"
	ConsensusBlocked         ConsensusStatus = "blocked"
)

// BookingStatus is the progress of one booking category.
type BookingStatus string

const (
	BookingPending  BookingStatus = "pending"
	BookingResearch BookingStatus = "research"
	BookingQuoted   BookingStatus = "quoted"
	BookingBooked   BookingStatus = "booked"
)

// GroupState is the durable planning record of one chat group.
type GroupState struct {
	GroupID     string           `json:"groupId"`
	GroupName   *string          `json:"groupName"`
	Topic       *string          `json:"topic"`
	Purpose     *string          `json:"purpose"`
	Destination DestinationState `json:"destination"`
	Dates       DateRange        `json:"dates"`
	Budget      BudgetRange      `json:"budget"`
	Headcount   *int             `json:"headcount"`
	Preferences GroupPreferences `json:"preferences"`
	Consensus   Consensus        `json:"consensus"`
	Timeline    Timeline         `json:"timeline"`
	Bookings    Bookings         `json:"bookings"`
	Notes       []string         `json:"notes"`
	LastUpdated string           `json:"lastUpdated"`
}

type DestinationState struct {
	Candidates []string `json:"candidates"`
	Chosen     *string  `json:"chosen"`
}

type DateRange struct {
	Start    *string `json:"start"`
	End      *string `json:"end"`
	Flexible bool    `json:"flexible"`
}

type BudgetRange struct {
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	Currency  *string  `json:"currency"`
	PerPerson bool     `json:"perPerson"`
}

// GroupPreferences aggregates what the members asked for.
type GroupPreferences struct {
	Accommodation     []string `json:"accommodation"`
	Transport         []string `json:"transport"`
	Pace              *string  `json:"pace"`
	ActivityInterests []string `json:"activityInterests"`
	FoodInterests     []string `json:"foodInterests"`
	Exclusions        []string `json:"exclusions"`
}

type Consensus struct {
	Status              ConsensusStatus `json:"status"`
	Blockers            []string        `json:"blockers"`
	LastProposedOptions []string        `json:"lastProposedOptions"`
	SelectedOption      *string         `json:"selectedOption"`
}

type Timeline struct {
	DecisionDeadline *string  `json:"decisionDeadline"`
	BookingDeadline  *string  `json:"bookingDeadline"`
	Milestones       []string `json:"milestones"`
}

type Bookings struct {
	Flights        BookingStatus `json:"flights"`
	Stay           BookingStatus `json:"stay"`
	Activities     BookingStatus `json:"activities"`
	LocalTransport BookingStatus `json:"localTransport"`
}

// NewGroupState returns the default state for a group seen for the first time.
// List fields are non-nil so they encode as [] rather than null.
func NewGroupState(groupID string, now time.Time) GroupState {
	return GroupState{
		GroupID:     groupID,
		Destination: DestinationState{Candidates: []string{}},
		Dates:       DateRange{Flexible: true},
		Preferences: GroupPreferences{
			Accommodation:     []string{},
			Transport:         []string{},
			ActivityInterests: []string{},
			FoodInterests:     []string{},
			Exclusions:        []string{},
		},
		Consensus: Consensus{
			Status:              ConsensusUnknown,
			Blockers:            []string{},
			LastProposedOptions: []string{},
		},
		Timeline: Timeline{Milestones: []string{}},
		Bookings: Bookings{
			Flights:        BookingPending,
			Stay:           BookingPending,
			Activities:     BookingPending,
			LocalTransport: BookingPending,
		},
		Notes:       []string{},
		LastUpdated: Timestamp(now),
	}
}

// Timestamp formats t the way lastUpdated fields are stored.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
