// Package confctl controls conference lifecycle and participant presence:
// the open/closed flag, the join handshake with its default subscriptions,
// disconnect cleanup and kicks.
package confctl

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/app/breakout"
	"github.com/dkeye/Concord/internal/app/chat"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/app/syncobj"
	"github.com/dkeye/Concord/internal/core"
	"github.com/dkeye/Concord/internal/metrics"
)

// CategoryConferenceInfo is the synchronized-object category of the
// conference flags.
const CategoryConferenceInfo = "conferenceInfo"

// SyncObjID is the conference-wide info object id.
var SyncObjID = core.SyncObjIDFor(CategoryConferenceInfo, "")

// SynchronizedConferenceInfo is the shared conference flags object.
type SynchronizedConferenceInfo struct {
	Open       bool     `json:"open"`
	Moderators []string `json:"moderators"`
}

// Service wires the conference lifecycle.
type Service struct {
	repo        db.ConferenceRepository
	rooms       *rooms.Service
	perms       *permissions.Service
	breakout    *breakout.Service
	chat        *chat.Service
	sync        *syncobj.Registry
	conns       *Connections
	locks       keyvalue.Store
	lockTimeout time.Duration
}

func NewService(repo db.ConferenceRepository, roomsSvc *rooms.Service, perms *permissions.Service,
	breakoutSvc *breakout.Service, chatSvc *chat.Service, sync *syncobj.Registry, conns *Connections,
	locks keyvalue.Store, lockTimeout time.Duration) *Service {
	return &Service{
		repo:        repo,
		rooms:       roomsSvc,
		perms:       perms,
		breakout:    breakoutSvc,
		chat:        chatSvc,
		sync:        sync,
		conns:       conns,
		locks:       locks,
		lockTimeout: lockTimeout,
	}
}

// Connections exposes the registry for the transport adapter.
func (s *Service) Connections() *Connections { return s.conns }

// IsConferenceOpen implements the pipeline's open-state check.
func (s *Service) IsConferenceOpen(ctx context.Context, conferenceID string) (bool, error) {
	return s.repo.IsConferenceOpen(ctx, conferenceID)
}

// defaultSubscriptions every participant gets on join.
func defaultSubscriptions(p core.Participant) []core.SyncObjID {
	return []core.SyncObjID{
		SyncObjID,
		rooms.SyncObjID,
		breakout.SyncObjID,
		chat.SyncObjID,
		permissions.SyncObjIDFor(p.ID),
	}
}

// Join runs the join handshake: verifies the conference, registers the
// participant and its room assignment, binds the connection and
// establishes the default subscriptions. A returned error means the
// connection must be rejected.
func (s *Service) Join(ctx context.Context, participant core.Participant, meta core.ParticipantMetadata,
	connectionID string, conn ClientConnection) *core.DomainError {
	if _, err := s.repo.FindConferenceByID(ctx, participant.ConferenceID); err != nil {
		if errors.Is(err, db.ErrConferenceNotFound) {
			return core.ConferenceNotFound(participant.ConferenceID)
		}
		log.Error().Str("module", "app.confctl").Str("conference", participant.ConferenceID).Err(err).Msg("join lookup")
		return core.InternalError()
	}

	lockKey := keyvalue.ConferenceLockKey(participant.ConferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.rooms.AddParticipant(participant)
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.confctl").Str("participant", participant.ID).Err(err).Msg("join register")
		return core.InternalError()
	}

	if previous := s.conns.SetParticipant(participant, &ParticipantConnection{ConnectionID: connectionID, Conn: conn}); previous != nil {
		// The participant reconnected; push the old connection out.
		_ = previous.Conn.Send(core.EventRequestDisconnect, nil)
		previous.Conn.Close()
	}
	metrics.ConnectedParticipants.Inc()

	for _, id := range defaultSubscriptions(participant) {
		if err := s.sync.Subscribe(ctx, participant, conn, id); err != nil {
			log.Error().Str("module", "app.confctl").Str("participant", participant.ID).
				Str("obj", id.String()).Err(err).Msg("default subscription failed")
			// A rejected join must leave no trace: unwind the room
			// assignment, connection binding and partial subscriptions.
			s.OnDisconnected(ctx, participant, connectionID)
			return core.InternalError()
		}
	}
	log.Info().Str("module", "app.confctl").Str("conference", participant.ConferenceID).
		Str("participant", participant.ID).Str("name", meta.DisplayName).Msg("participant joined")

	s.sync.NotifyChanged(ctx, participant.ConferenceID, rooms.SyncObjID)
	return nil
}

// OnDisconnected cleans up after a connection ends: subscriptions, room
// assignment and temporary grants.
func (s *Service) OnDisconnected(ctx context.Context, participant core.Participant, connectionID string) {
	if !s.conns.Remove(participant, connectionID) {
		// A newer connection took over; nothing to clean up.
		return
	}

	s.sync.UnsubscribeAll(participant)

	lockKey := keyvalue.ConferenceLockKey(participant.ConferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.rooms.RemoveParticipant(participant)
		s.perms.RemoveAllTemporaryPermissions(participant)
		s.chat.RemoveParticipant(participant)
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.confctl").Str("participant", participant.ID).Err(err).Msg("disconnect cleanup")
	}

	metrics.ConnectedParticipants.Dec()
	s.sync.NotifyChanged(ctx, participant.ConferenceID, rooms.SyncObjID)
	s.sync.NotifyChanged(ctx, participant.ConferenceID, chat.SyncObjID)
	log.Info().Str("module", "app.confctl").Str("participant", participant.ID).Msg("participant left")
}

// OpenConference handles the OpenConference command.
func (s *Service) OpenConference(ctx context.Context, conferenceID string) *core.DomainError {
	return s.setOpen(ctx, conferenceID, true)
}

// CloseConference handles the CloseConference command. The breakout
// session, if any, ends with the conference.
func (s *Service) CloseConference(ctx context.Context, conferenceID string) *core.DomainError {
	if err := s.breakout.Close(ctx, conferenceID); err != nil {
		return err
	}
	return s.setOpen(ctx, conferenceID, false)
}

func (s *Service) setOpen(ctx context.Context, conferenceID string, open bool) *core.DomainError {
	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		return s.repo.SetConferenceOpen(ctx, conferenceID, open)
	})
	if err != nil {
		if errors.Is(err, db.ErrConferenceNotFound) {
			return core.ConferenceNotFound(conferenceID)
		}
		log.Error().Str("module", "app.confctl").Str("conference", conferenceID).Err(err).Msg("set open flag")
		return core.InternalError()
	}

	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	log.Info().Str("module", "app.confctl").Str("conference", conferenceID).Bool("open", open).Msg("conference open flag changed")
	return nil
}

// KickParticipant forces a participant off the conference.
func (s *Service) KickParticipant(ctx context.Context, target core.Participant) *core.DomainError {
	pc, ok := s.conns.Get(target)
	if !ok {
		return core.RequestError(core.CodeParticipantNotFound, "participant is not connected")
	}

	_ = pc.Conn.Send(core.EventRequestDisconnect, nil)
	pc.Conn.Close()
	s.OnDisconnected(ctx, target, pc.ConnectionID)
	return nil
}
