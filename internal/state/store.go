// Package state keeps the durable per-group and per-member planning records.
//
// Records of one group live in their own storage namespace, named after the
// sanitized group identifier: the group record under "group" and one record
// per member under "members/<sanitized member id>". Read and write failures
// never reach the caller of a Load method; they are logged and the store falls
// back to defaults, so a broken record cannot stall a batch cycle. Defaults are
// persisted only when the record is missing or unparsable; a record that could
// not be read is left as it is.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
	"github.com/xaenox/tripsync-bot/internal/storage"
	"go.uber.org/zap"
)

const groupKey = "group"

type Store struct {
	backend storage.Backend
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	selfID string
	names  map[string]string
}

func NewStore(backend storage.Backend, logger *zap.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		names:   map[string]string{},
	}
}

// SetSelfID sets the bot's own identity, which LoadMembers never creates a
// record for.
func (s *Store) SetSelfID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = id
}

// SetNameOverrides replaces the manual display-name table.
func (s *Store) SetNameOverrides(names map[string]string) {
	table := make(map[string]string, len(names))
	for id, name := range names {
		table[id] = name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = table
}

// DisplayName resolves a participant's name: the override table wins, then the
// platform-reported name, then nil.
func (s *Store) DisplayName(id, reported string) *string {
	s.mu.RLock()
	override, ok := s.names[id]
	s.mu.RUnlock()

	if ok && override != "" {
		return &override
	}
	if reported = strings.TrimSpace(reported); reported != "" {
		return &reported
	}
	return nil
}

// LoadGroup returns the stored state of a group. A missing or unparsable
// record is replaced by the persisted default; when the backend fails to read,
// the default is returned without touching the stored record.
func (s *Store) LoadGroup(ctx context.Context, groupID string) models.GroupState {
	ns := SanitizeKey(groupID)
	group := models.NewGroupState(groupID, s.now())

	data, err := s.backend.Get(ctx, ns, groupKey)
	switch {
	case err == nil:
		var stored models.GroupState
		usable, parseErr := decodeRecord(data, &stored)
		if usable {
			if parseErr != nil {
				s.logger.Warn("Group state has mistyped fields, keeping stored record",
					zap.Error(parseErr),
					zap.String("group_id", groupID))
			}
			return stored
		}
		s.logger.Warn("Failed to parse group state, using defaults",
			zap.Error(parseErr),
			zap.String("group_id", groupID))
	case !errors.Is(err, storage.ErrNotFound):
		s.logger.Warn("Failed to read group state, using defaults",
			zap.Error(err),
			zap.String("group_id", groupID))
		return group
	}

	if err := s.SaveGroup(ctx, groupID, group); err != nil {
		s.logger.Error("Failed to save default group state",
			zap.Error(err),
			zap.String("group_id", groupID))
	}
	return group
}

// LoadMembers returns one record per participant, in input order, creating
// and persisting defaults for participants seen for the first time. The bot's
// own identity and repeated participants are skipped.
func (s *Store) LoadMembers(ctx context.Context, groupID string, participants []models.Participant) []models.MemberState {
	s.mu.RLock()
	selfID := s.selfID
	s.mu.RUnlock()

	ns := SanitizeKey(groupID)
	seen := make(map[string]struct{}, len(participants))
	members := make([]models.MemberState, 0, len(participants))

	for _, p := range participants {
		if p.ID == "" || p.ID == selfID {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}

		member, status := s.readMember(ctx, ns, groupID, p.ID)
		if status == recordFound {
			members = append(members, member)
			continue
		}

		member = models.NewMemberState(p.ID, s.DisplayName(p.ID, p.Username), s.now())
		if status == recordMissing {
			if err := s.SaveMember(ctx, groupID, member); err != nil {
				s.logger.Error("Failed to save default member state",
					zap.Error(err),
					zap.String("group_id", groupID),
					zap.String("member_id", p.ID))
			}
		}
		members = append(members, member)
	}

	return members
}

type recordStatus int

const (
	recordFound recordStatus = iota
	// recordMissing covers absent and unparsable records; both get a default.
	recordMissing
	// recordUnreadable means the backend failed and the record must be kept.
	recordUnreadable
)

func (s *Store) readMember(ctx context.Context, ns, groupID, memberID string) (models.MemberState, recordStatus) {
	data, err := s.backend.Get(ctx, ns, memberKey(memberID))
	if errors.Is(err, storage.ErrNotFound) {
		return models.MemberState{}, recordMissing
	}
	if err != nil {
		s.logger.Warn("Failed to read member state, using defaults",
			zap.Error(err),
			zap.String("group_id", groupID),
			zap.String("member_id", memberID))
		return models.MemberState{}, recordUnreadable
	}

	var member models.MemberState
	usable, err := decodeRecord(data, &member)
	if !usable {
		s.logger.Warn("Failed to parse member state, using defaults",
			zap.Error(err),
			zap.String("group_id", groupID),
			zap.String("member_id", memberID))
		return models.MemberState{}, recordMissing
	}
	if err != nil {
		s.logger.Warn("Member state has mistyped fields, keeping stored record",
			zap.Error(err),
			zap.String("group_id", groupID),
			zap.String("member_id", memberID))
	}
	return member, recordFound
}

// decodeRecord unmarshals a stored JSON object into v. Fields whose type does
// not fit the model are left at their zero value and reported through err
// with usable still true; invalid JSON or a non-object is not usable.
func decodeRecord(data []byte, v any) (usable bool, err error) {
	err = json.Unmarshal(data, v)
	if err == nil {
		return true, nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return true, err
	}
	return false, err
}

// SaveGroup overwrites the group record.
func (s *Store) SaveGroup(ctx context.Context, groupID string, group models.GroupState) error {
	return s.put(ctx, SanitizeKey(groupID), groupKey, group)
}

// SaveMember overwrites the record of member.ID within the group.
func (s *Store) SaveMember(ctx context.Context, groupID string, member models.MemberState) error {
	if strings.TrimSpace(member.ID) == "" {
		return fmt.Errorf("member id is required")
	}
	return s.put(ctx, SanitizeKey(groupID), memberKey(member.ID), member)
}

// ApplyUpdates persists replacement records returned by the orchestrator.
// The group object replaces the stored group wholesale and each member object
// with a string "id" replaces that member's record. Records are stored as
// received, including keys the bot does not model. Members without an id and
// failed writes are logged and skipped; the remaining updates still apply.
func (s *Store) ApplyUpdates(ctx context.Context, groupID string, updated models.Updated) {
	ns := SanitizeKey(groupID)

	if updated.Group != nil {
		if err := s.putRaw(ctx, ns, groupKey, updated.Group); err != nil {
			s.logger.Error("Failed to save updated group state",
				zap.Error(err),
				zap.String("group_id", groupID))
		}
	}

	for i, raw := range updated.Members {
		id := rawMemberID(raw)
		if id == "" {
			s.logger.Warn("Skipping member update without id",
				zap.String("group_id", groupID),
				zap.Int("index", i))
			continue
		}
		if err := s.putRaw(ctx, ns, memberKey(id), raw); err != nil {
			s.logger.Error("Failed to save updated member state",
				zap.Error(err),
				zap.String("group_id", groupID),
				zap.String("member_id", id))
		}
	}
}

// rawMemberID returns the "id" of a member object, or "" when it is missing,
// blank or not a string.
func rawMemberID(raw json.RawMessage) string {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(head.ID, &id); err != nil {
		return ""
	}
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return id
}

func (s *Store) put(ctx context.Context, ns, key string, record any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.write(ctx, ns, key, data)
}

func (s *Store) putRaw(ctx context.Context, ns, key string, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("indent %s: %w", key, err)
	}
	return s.write(ctx, ns, key, buf.Bytes())
}

func (s *Store) write(ctx context.Context, ns, key string, data []byte) error {
	if err := s.backend.Put(ctx, ns, key, data); err != nil {
		return fmt.Errorf("write %s/%s: %w", ns, key, err)
	}
	return nil
}

func memberKey(memberID string) string {
	return "members/" + SanitizeKey(memberID)
}
