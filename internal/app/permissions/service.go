package permissions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/core"
)

// CategoryPermissions is the synchronized-object category carrying a
// participant's flattened effective permission set.
const CategoryPermissions = "permissions"

// SyncObjIDFor names the per-participant permission object.
func SyncObjIDFor(participantID string) core.SyncObjID {
	return core.SyncObjIDFor(CategoryPermissions, participantID)
}

// RoomPermissionSource supplies room-scoped permission overrides for a
// participant's current room (nil when the room carries none) and reports
// whether a participant is currently in the conference at all.
type RoomPermissionSource interface {
	RoomPermissions(ctx context.Context, participant core.Participant) (map[string]any, error)
	HasParticipant(participant core.Participant) bool
}

// Notifier is the slice of the sync registry the service needs.
type Notifier interface {
	NotifyChanged(ctx context.Context, conferenceID string, id core.SyncObjID)
}

// Service builds permission stacks and manages temporary grants.
type Service struct {
	repo        db.ConferenceRepository
	rooms       RoomPermissionSource
	sync        Notifier
	locks       keyvalue.Store
	lockTimeout time.Duration

	mu        sync.RWMutex
	temporary map[core.Participant]map[string]any
}

func NewService(repo db.ConferenceRepository, rooms RoomPermissionSource, notifier Notifier, locks keyvalue.Store, lockTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		rooms:       rooms,
		sync:        notifier,
		locks:       locks,
		lockTimeout: lockTimeout,
		temporary:   make(map[core.Participant]map[string]any),
	}
}

// Resolve builds the ordered layer list for the participant at call time.
// Never cached: a stack must reflect the permission state at the moment an
// authorization decision is made.
func (s *Service) Resolve(ctx context.Context, participant core.Participant) (Stack, error) {
	conf, err := s.repo.FindConferenceByID(ctx, participant.ConferenceID)
	if err != nil {
		return Stack{}, err
	}

	layers := []Layer{SystemDefaultLayer()}

	if len(conf.Permissions) > 0 {
		layers = append(layers, Layer{Name: "conference", Order: OrderConference, Values: conf.Permissions})
	}
	if conf.IsModerator(participant.ID) && len(conf.ModeratorPermissions) > 0 {
		layers = append(layers, Layer{Name: "moderator", Order: OrderModerator, Values: conf.ModeratorPermissions})
	}

	if s.rooms != nil {
		roomValues, err := s.rooms.RoomPermissions(ctx, participant)
		if err != nil {
			return Stack{}, err
		}
		if len(roomValues) > 0 {
			layers = append(layers, Layer{Name: "room", Order: OrderRoom, Values: roomValues})
		}
	}

	if grants := s.temporaryGrants(participant); len(grants) > 0 {
		layers = append(layers, Layer{Name: "temporary", Order: OrderTemporary, Values: grants})
	}

	return NewStack(layers), nil
}

func (s *Service) temporaryGrants(participant core.Participant) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grants, ok := s.temporary[participant]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(grants))
	for k, v := range grants {
		out[k] = v
	}
	return out
}

// SetTemporaryPermission upserts (or removes, when value is nil) a
// temporary grant for the target participant and pushes the updated
// permission object.
func (s *Service) SetTemporaryPermission(ctx context.Context, target core.Participant, key string, value any) *core.DomainError {
	desc, known := DescriptorFor(key)
	if !known {
		return core.RequestError(core.CodeInvalidPermission, "unknown permission key: "+key)
	}
	if value != nil {
		if err := desc.ValidateValue(value); err != nil {
			return core.RequestError(core.CodeInvalidPermission, err.Error())
		}
	}
	// Grants for participants who are not in the conference would linger
	// forever; the leave cleanup only fires for joined participants.
	if s.rooms != nil && !s.rooms.HasParticipant(target) {
		return core.RequestError(core.CodeParticipantNotFound, "participant is not in the conference")
	}

	lockKey := keyvalue.ConferenceLockKey(target.ConferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		grants, ok := s.temporary[target]
		if !ok {
			if value == nil {
				return nil
			}
			grants = make(map[string]any)
			s.temporary[target] = grants
		}
		if value == nil {
			delete(grants, key)
			if len(grants) == 0 {
				delete(s.temporary, target)
			}
			return nil
		}
		grants[key] = value
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.permissions").Str("participant", target.ID).Err(err).Msg("set temporary permission")
		return core.InternalError()
	}

	s.sync.NotifyChanged(ctx, target.ConferenceID, SyncObjIDFor(target.ID))
	return nil
}

// RemoveAllTemporaryPermissions drops every grant of a participant, used
// when the participant leaves the conference.
func (s *Service) RemoveAllTemporaryPermissions(participant core.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.temporary, participant)
}

// ParticipantPermissionInfo is the FetchPermissions response: the full
// layer breakdown for inspection in moderator tooling.
type ParticipantPermissionInfo struct {
	ParticipantID string  `json:"participantId"`
	Layers        []Layer `json:"layers"`
}

// FetchPermissions returns all layers that currently apply to target.
func (s *Service) FetchPermissions(ctx context.Context, target core.Participant) (*ParticipantPermissionInfo, error) {
	stack, err := s.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	return &ParticipantPermissionInfo{ParticipantID: target.ID, Layers: stack.Layers()}, nil
}
