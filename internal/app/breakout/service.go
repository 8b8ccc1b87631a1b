// Package breakout implements the breakout-room state machine: a
// conference is either Inactive or runs one Active session owning a set of
// generated rooms, optionally closed automatically at a deadline.
package breakout

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/core"
	"github.com/dkeye/Concord/internal/scheduler"
)

// CategoryBreakoutRooms is the synchronized-object category.
const CategoryBreakoutRooms = "breakoutRooms"

// SyncObjID is the conference-wide breakout object id.
var SyncObjID = core.SyncObjIDFor(CategoryBreakoutRooms, "")

// Notifier is the slice of the sync registry the service needs.
type Notifier interface {
	NotifyChanged(ctx context.Context, conferenceID string, id core.SyncObjID)
}

type session struct {
	config  Config
	roomIDs []string
	timer   scheduler.Handle
}

// Service is the breakout-room state machine for all conferences served by
// this process.
type Service struct {
	rooms       *rooms.Service
	sync        Notifier
	locks       keyvalue.Store
	lockTimeout time.Duration
	sched       scheduler.Scheduler

	mu       sync.Mutex
	sessions map[string]*session
}

func NewService(roomsSvc *rooms.Service, notifier Notifier, locks keyvalue.Store, lockTimeout time.Duration, sched scheduler.Scheduler) *Service {
	return &Service{
		rooms:       roomsSvc,
		sync:        notifier,
		locks:       locks,
		lockTimeout: lockTimeout,
		sched:       sched,
		sessions:    make(map[string]*session),
	}
}

// Snapshot returns the synchronized breakout value.
func (s *Service) Snapshot(conferenceID string) SynchronizedBreakoutRooms {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conferenceID]
	if !ok {
		return SynchronizedBreakoutRooms{Active: nil}
	}
	cfg := sess.config
	return SynchronizedBreakoutRooms{Active: &cfg}
}

// Open transitions Inactive -> Active: creates the rooms, applies the
// optional assignments and schedules the deadline timer. Validation errors
// never partially apply.
func (s *Service) Open(ctx context.Context, conferenceID string, req OpenRequest) *core.DomainError {
	if req.Amount < 0 {
		return core.FieldValidationError(map[string]string{"amount": "must not be negative"})
	}
	if len(req.Assignments) > req.Amount {
		return core.FieldValidationError(map[string]string{
			"assignedRooms": fmt.Sprintf("%d groups exceed the room amount %d", len(req.Assignments), req.Amount),
		})
	}

	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	var domainErr *core.DomainError
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, active := s.sessions[conferenceID]; active {
			domainErr = core.RequestError(core.CodeBreakoutAlreadyOpen, "breakout rooms are already open")
			return nil
		}

		// Assignments must reference joined participants before anything
		// is mutated.
		assigned := s.rooms.Snapshot(conferenceID).Participants
		for groupIdx, group := range req.Assignments {
			for _, participantID := range group {
				if _, joined := assigned[participantID]; !joined {
					domainErr = core.FieldValidationError(map[string]string{
						"assignedRooms[" + strconv.Itoa(groupIdx) + "]": "unknown participant: " + participantID,
					})
					return nil
				}
			}
		}

		infos := make([]rooms.RoomCreationInfo, req.Amount)
		for i := range infos {
			infos[i] = rooms.RoomCreationInfo{DisplayName: roomName(i)}
		}
		created := s.rooms.AddRooms(conferenceID, infos)

		roomIDs := make([]string, len(created))
		for i, room := range created {
			roomIDs[i] = room.RoomID
		}

		for groupIdx, group := range req.Assignments {
			for _, participantID := range group {
				participant := core.NewParticipant(conferenceID, participantID)
				if err := s.rooms.Assign(participant, roomIDs[groupIdx]); err != nil {
					// Participants were validated above; a failure here is
					// a programming error, not caller input.
					log.Error().Str("module", "app.breakout").Str("participant", participantID).Err(err).Msg("assign on open")
				}
			}
		}

		sess := &session{config: req.Config, roomIDs: roomIDs}
		s.sessions[conferenceID] = sess
		s.scheduleClose(conferenceID, sess)

		log.Info().Str("module", "app.breakout").Str("conference", conferenceID).
			Int("amount", req.Amount).Msg("breakout rooms opened")
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.breakout").Str("conference", conferenceID).Err(err).Msg("open breakout rooms")
		return core.InternalError()
	}
	if domainErr != nil {
		return domainErr
	}

	s.sync.NotifyChanged(ctx, conferenceID, rooms.SyncObjID)
	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	return nil
}

// scheduleClose arms the deadline timer. Caller holds s.mu and the
// conference lock.
func (s *Service) scheduleClose(conferenceID string, sess *session) {
	if sess.timer != nil {
		sess.timer.Cancel()
		sess.timer = nil
	}
	if sess.config.Deadline == nil {
		return
	}

	// The callback identifies its timer by the ref pointer, which is fully
	// formed before scheduling. The inner handle is only touched under
	// s.mu, so a timer firing before ScheduleAt returns cannot observe a
	// half-built handle.
	ref := &timerRef{}
	sess.timer = ref
	ref.handle = s.sched.ScheduleAt(*sess.config.Deadline, func() {
		s.closeByTimer(conferenceID, ref)
	})
}

// timerRef wraps a scheduled handle so it can be identified and cancelled
// independently of when ScheduleAt returns. The inner handle is read and
// written only under Service.mu.
type timerRef struct {
	handle scheduler.Handle
}

func (r *timerRef) Cancel() {
	if r.handle != nil {
		r.handle.Cancel()
	}
}

// closeByTimer is the deadline path. It runs the same close logic as the
// explicit command; a timer that was superseded by a reschedule or an
// explicit close is a no-op, decided under the conference lock.
func (s *Service) closeByTimer(conferenceID string, handle scheduler.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	log.Info().Str("module", "app.breakout").Str("conference", conferenceID).Msg("deadline reached, closing breakout rooms")
	if err := s.doClose(ctx, conferenceID, handle); err != nil {
		log.Error().Str("module", "app.breakout").Str("conference", conferenceID).
			Int("code", err.Code).Msg("automatic close failed")
	}
}

// Change applies a partial patch to the active session's config, with the
// structural side effects per changed field.
func (s *Service) Change(ctx context.Context, conferenceID string, patch ConfigPatch) *core.DomainError {
	if patch.Amount != nil && *patch.Amount < 0 {
		return core.FieldValidationError(map[string]string{"amount": "must not be negative"})
	}

	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	var domainErr *core.DomainError
	roomsChanged := false
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		sess, active := s.sessions[conferenceID]
		if !active {
			domainErr = core.RequestError(core.CodeBreakoutNotOpen, "breakout rooms are not open")
			return nil
		}

		if patch.Amount != nil && *patch.Amount != sess.config.Amount {
			newAmount := *patch.Amount
			if newAmount > sess.config.Amount {
				infos := make([]rooms.RoomCreationInfo, 0, newAmount-sess.config.Amount)
				for i := sess.config.Amount; i < newAmount; i++ {
					infos = append(infos, rooms.RoomCreationInfo{DisplayName: roomName(i)})
				}
				for _, room := range s.rooms.AddRooms(conferenceID, infos) {
					sess.roomIDs = append(sess.roomIDs, room.RoomID)
				}
			} else {
				removed := sess.roomIDs[newAmount:]
				sess.roomIDs = sess.roomIDs[:newAmount]
				// Occupants fall back to the first remaining breakout room,
				// or the main room when none remain.
				fallback := rooms.DefaultRoomID
				if newAmount > 0 {
					fallback = sess.roomIDs[0]
				}
				if err := s.rooms.DropRooms(conferenceID, removed, fallback); err != nil {
					return err
				}
			}
			sess.config.Amount = newAmount
			roomsChanged = true
		}

		if patch.Description != nil {
			sess.config.Description = *patch.Description
		}

		if patch.DeadlineSet {
			sess.config.Deadline = patch.Deadline
			s.scheduleClose(conferenceID, sess)
		}
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.breakout").Str("conference", conferenceID).Err(err).Msg("change breakout rooms")
		return core.InternalError()
	}
	if domainErr != nil {
		return domainErr
	}

	if roomsChanged {
		s.sync.NotifyChanged(ctx, conferenceID, rooms.SyncObjID)
	}
	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	return nil
}

// Close transitions to Inactive: cancels the timer, removes all session
// rooms and reassigns their occupants to the main room. Closing while
// already Inactive succeeds with no effect.
func (s *Service) Close(ctx context.Context, conferenceID string) *core.DomainError {
	return s.doClose(ctx, conferenceID, nil)
}

// doClose performs the close. A non-nil expectedTimer restricts the close
// to the session that scheduled that exact timer.
func (s *Service) doClose(ctx context.Context, conferenceID string, expectedTimer scheduler.Handle) *core.DomainError {
	lockKey := keyvalue.ConferenceLockKey(conferenceID)
	closed := false
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		sess, active := s.sessions[conferenceID]
		if !active {
			return nil
		}
		if expectedTimer != nil && sess.timer != expectedTimer {
			// Stale timer: the session was reconfigured after scheduling.
			return nil
		}

		if sess.timer != nil {
			sess.timer.Cancel()
			sess.timer = nil
		}
		if err := s.rooms.DropRooms(conferenceID, sess.roomIDs, rooms.DefaultRoomID); err != nil {
			return err
		}
		delete(s.sessions, conferenceID)
		closed = true
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.breakout").Str("conference", conferenceID).Err(err).Msg("close breakout rooms")
		return core.InternalError()
	}
	if !closed {
		return nil
	}

	s.sync.NotifyChanged(ctx, conferenceID, rooms.SyncObjID)
	s.sync.NotifyChanged(ctx, conferenceID, SyncObjID)
	log.Info().Str("module", "app.breakout").Str("conference", conferenceID).Msg("breakout rooms closed")
	return nil
}
