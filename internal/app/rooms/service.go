// Package rooms owns the room list and the participant-to-room assignment
// of each conference. Every participant has exactly one assignment at all
// times; the default room always exists and cannot be removed.
package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/core"
)

const (
	// CategoryRooms is the synchronized-object category of the room list.
	CategoryRooms = "rooms"

	// DefaultRoomID is the room every participant starts in.
	DefaultRoomID = "default"

	defaultRoomName = "Main"
)

// SyncObjID is the conference-wide rooms object id.
var SyncObjID = core.SyncObjIDFor(CategoryRooms, "")

var (
	ErrRoomNotFound        = errors.New("rooms: room not found")
	ErrCannotRemoveDefault = errors.New("rooms: default room cannot be removed")
	ErrNotJoined           = errors.New("rooms: participant not joined")
)

// Room is one sub-room of a conference.
type Room struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

// RoomCreationInfo is the caller-supplied part of a new room.
type RoomCreationInfo struct {
	DisplayName string `json:"displayName" validate:"required,max=64"`
	// Permissions are optional room-scoped permission overrides.
	Permissions map[string]any `json:"permissions,omitempty"`
}

// SynchronizedRooms is the value pushed to every subscriber.
type SynchronizedRooms struct {
	Rooms         []Room            `json:"rooms"`
	DefaultRoomID string            `json:"defaultRoomId"`
	Participants  map[string]string `json:"participants"`
}

type conferenceRooms struct {
	rooms        []Room
	participants map[string]string // participantID -> roomID
	overrides    map[string]map[string]any
}

// Notifier is the slice of the sync registry the service needs.
type Notifier interface {
	NotifyChanged(ctx context.Context, conferenceID string, id core.SyncObjID)
}

// Service holds in-memory room state per conference. Cross-instance
// serialization of mutations happens through the per-conference lock; the
// internal mutex only protects map integrity for lock-free readers.
type Service struct {
	sync        Notifier
	locks       keyvalue.Store
	lockTimeout time.Duration

	mu    sync.RWMutex
	confs map[string]*conferenceRooms
}

func NewService(notifier Notifier, locks keyvalue.Store, lockTimeout time.Duration) *Service {
	return &Service{
		sync:        notifier,
		locks:       locks,
		lockTimeout: lockTimeout,
		confs:       make(map[string]*conferenceRooms),
	}
}

func (s *Service) conf(conferenceID string) *conferenceRooms {
	if c, ok := s.confs[conferenceID]; ok {
		return c
	}
	c := &conferenceRooms{
		rooms:        []Room{{RoomID: DefaultRoomID, DisplayName: defaultRoomName}},
		participants: make(map[string]string),
		overrides:    make(map[string]map[string]any),
	}
	s.confs[conferenceID] = c
	return c
}

func newRoomID() string {
	return ulid.Make().String()
}

// --- collaboration API; the caller must hold the conference lock ---

// AddParticipant assigns a joining participant to the default room.
func (s *Service) AddParticipant(participant core.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conf(participant.ConferenceID)
	if _, ok := c.participants[participant.ID]; !ok {
		c.participants[participant.ID] = DefaultRoomID
	}
}

// RemoveParticipant drops a leaving participant's assignment.
func (s *Service) RemoveParticipant(participant core.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conf(participant.ConferenceID)
	delete(c.participants, participant.ID)
}

// AddRooms appends new rooms to the conference and returns them.
func (s *Service) AddRooms(conferenceID string, infos []RoomCreationInfo) []Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conf(conferenceID)
	created := make([]Room, 0, len(infos))
	for _, info := range infos {
		room := Room{RoomID: newRoomID(), DisplayName: info.DisplayName}
		c.rooms = append(c.rooms, room)
		if len(info.Permissions) > 0 {
			c.overrides[room.RoomID] = info.Permissions
		}
		created = append(created, room)
	}
	return created
}

// DropRooms removes the named rooms and reassigns their occupants to
// fallbackRoomID. The default room is never removable.
func (s *Service) DropRooms(conferenceID string, roomIDs []string, fallbackRoomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conf(conferenceID)

	drop := make(map[string]struct{}, len(roomIDs))
	for _, id := range roomIDs {
		if id == DefaultRoomID {
			return ErrCannotRemoveDefault
		}
		drop[id] = struct{}{}
	}

	kept := c.rooms[:0]
	for _, room := range c.rooms {
		if _, gone := drop[room.RoomID]; gone {
			delete(c.overrides, room.RoomID)
			continue
		}
		kept = append(kept, room)
	}
	c.rooms = kept

	for pid, roomID := range c.participants {
		if _, gone := drop[roomID]; gone {
			c.participants[pid] = fallbackRoomID
		}
	}
	return nil
}

// Assign moves a participant into an existing room.
func (s *Service) Assign(participant core.Participant, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conf(participant.ConferenceID)
	if !c.hasRoom(roomID) {
		return ErrRoomNotFound
	}
	if _, joined := c.participants[participant.ID]; !joined {
		return ErrNotJoined
	}
	c.participants[participant.ID] = roomID
	return nil
}

func (c *conferenceRooms) hasRoom(roomID string) bool {
	for _, room := range c.rooms {
		if room.RoomID == roomID {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the current rooms state.
func (s *Service) Snapshot(conferenceID string) SynchronizedRooms {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.confs[conferenceID]
	if !ok {
		return SynchronizedRooms{
			Rooms:         []Room{{RoomID: DefaultRoomID, DisplayName: defaultRoomName}},
			DefaultRoomID: DefaultRoomID,
			Participants:  map[string]string{},
		}
	}
	rooms := make([]Room, len(c.rooms))
	copy(rooms, c.rooms)
	participants := make(map[string]string, len(c.participants))
	for k, v := range c.participants {
		participants[k] = v
	}
	return SynchronizedRooms{Rooms: rooms, DefaultRoomID: DefaultRoomID, Participants: participants}
}

// HasParticipant reports whether the participant currently has a room
// assignment, i.e. has joined the conference and not yet left.
func (s *Service) HasParticipant(participant core.Participant) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.confs[participant.ConferenceID]
	if !ok {
		return false
	}
	_, ok = c.participants[participant.ID]
	return ok
}

// RoomPermissions returns the overrides of the participant's current room.
// Implements the permission stack's room layer source.
func (s *Service) RoomPermissions(_ context.Context, participant core.Participant) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.confs[participant.ConferenceID]
	if !ok {
		return nil, nil
	}
	roomID, joined := c.participants[participant.ID]
	if !joined {
		return nil, nil
	}
	values, ok := c.overrides[roomID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// --- command API; acquires the conference lock itself ---

// CreateRooms handles the CreateRooms command.
func (s *Service) CreateRooms(ctx context.Context, conferenceID string, infos []RoomCreationInfo) ([]Room, *core.DomainError) {
	var created []Room
	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		created = s.AddRooms(conferenceID, infos)
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.rooms").Str("conference", conferenceID).Err(err).Msg("create rooms")
		return nil, core.InternalError()
	}

	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	log.Info().Str("module", "app.rooms").Str("conference", conferenceID).Int("count", len(created)).Msg("rooms created")
	return created, nil
}

// RemoveRooms handles the RemoveRooms command; occupants move back to the
// default room.
func (s *Service) RemoveRooms(ctx context.Context, conferenceID string, roomIDs []string) *core.DomainError {
	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		return s.DropRooms(conferenceID, roomIDs, DefaultRoomID)
	})
	if err != nil {
		if errors.Is(err, ErrCannotRemoveDefault) {
			return core.RequestError(core.CodeRoomNotFound, "the default room cannot be removed")
		}
		log.Error().Str("module", "app.rooms").Str("conference", conferenceID).Err(err).Msg("remove rooms")
		return core.InternalError()
	}

	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	return nil
}

// SwitchRoom handles the SwitchRoom command.
func (s *Service) SwitchRoom(ctx context.Context, participant core.Participant, roomID string) *core.DomainError {
	lockKey := keyvalue.ConferenceLockKey(participant.ConferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		return s.Assign(participant, roomID)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoomNotFound):
			return core.RequestError(core.CodeRoomNotFound, "room does not exist: "+roomID)
		case errors.Is(err, ErrNotJoined):
			return core.RequestError(core.CodeParticipantNotFound, "participant has not joined the conference")
		}
		log.Error().Str("module", "app.rooms").Str("participant", participant.ID).Err(err).Msg("switch room")
		return core.InternalError()
	}

	s.sync.NotifyChanged(ctx, participant.ConferenceID, SyncObjID)
	// Room-scoped permission overrides may differ in the new room.
	s.sync.NotifyChanged(ctx, participant.ConferenceID, permissions.SyncObjIDFor(participant.ID))
	return nil
}
