// Package chat is a consumer of the command pipeline: per-conference
// message log, typing indicator and rate limiting. Deliberately shallow;
// it exists to exercise the permission and synchronization machinery the
// same way richer features would.
package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/core"
)

// CategoryChat is the synchronized-object category of the typing state.
const CategoryChat = "chat"

// SyncObjID is the conference-wide chat object id.
var SyncObjID = core.SyncObjIDFor(CategoryChat, "")

// EventChatMessage is pushed to every connection of a conference when a
// message arrives.
const EventChatMessage = "ChatMessage"

// maxLogSize bounds the in-memory message log per conference.
const maxLogSize = 500

// Message is one chat message.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SynchronizedChat is the shared typing-indicator object.
type SynchronizedChat struct {
	ParticipantsTyping []string `json:"participantsTyping"`
}

// Notifier is the slice of the sync registry the service needs.
type Notifier interface {
	NotifyChanged(ctx context.Context, conferenceID string, id core.SyncObjID)
}

// Broadcaster pushes an event to every connection of a conference.
type Broadcaster interface {
	Broadcast(conferenceID string, event string, payload any)
}

// Service holds chat state for all conferences served by this process.
type Service struct {
	sync        Notifier
	broadcast   Broadcaster
	locks       keyvalue.Store
	lockTimeout time.Duration

	mu       sync.Mutex
	logs     map[string][]Message
	typing   map[string]map[string]bool
	limiters map[core.Participant]*rate.Limiter
}

func NewService(notifier Notifier, broadcast Broadcaster, locks keyvalue.Store, lockTimeout time.Duration) *Service {
	return &Service{
		sync:        notifier,
		broadcast:   broadcast,
		locks:       locks,
		lockTimeout: lockTimeout,
		logs:        make(map[string][]Message),
		typing:      make(map[string]map[string]bool),
		limiters:    make(map[core.Participant]*rate.Limiter),
	}
}

func (s *Service) limiter(p core.Participant) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[p]
	if !ok {
		// Five messages per second with a small burst.
		lim = rate.NewLimiter(rate.Every(200*time.Millisecond), 5)
		s.limiters[p] = lim
	}
	return lim
}

// Send appends a message and broadcasts it to the conference.
func (s *Service) Send(ctx context.Context, sender core.Participant, text string) (*Message, *core.DomainError) {
	if !s.limiter(sender).Allow() {
		return nil, core.RequestError(core.CodeChatRateLimited, "too many chat messages, slow down")
	}

	msg := Message{
		ID:        ulid.Make().String(),
		Sender:    sender.ID,
		Message:   text,
		Timestamp: time.Now().UTC(),
	}

	lockKey := keyvalue.ConferenceLockKey(sender.ConferenceID)
	err := keyvalue.WithLock(ctx, s.locks, lockKey, s.lockTimeout, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		msgs := append(s.logs[sender.ConferenceID], msg)
		if len(msgs) > maxLogSize {
			msgs = msgs[len(msgs)-maxLogSize:]
		}
		s.logs[sender.ConferenceID] = msgs
		// Sending implies no longer typing.
		if t, ok := s.typing[sender.ConferenceID]; ok {
			delete(t, sender.ID)
		}
		return nil
	})
	if err != nil {
		log.Error().Str("module", "app.chat").Str("participant", sender.ID).Err(err).Msg("send message")
		return nil, core.InternalError()
	}

	s.broadcast.Broadcast(sender.ConferenceID, EventChatMessage, msg)
	s.sync.NotifyChanged(ctx, sender.ConferenceID, SyncObjID)
	return &msg, nil
}

// FetchMessages returns the retained log, oldest first.
func (s *Service) FetchMessages(conferenceID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.logs[conferenceID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// SetTyping flips the typing indicator of one participant.
func (s *Service) SetTyping(ctx context.Context, p core.Participant, isTyping bool) *core.DomainError {
	s.mu.Lock()
	t, ok := s.typing[p.ConferenceID]
	if !ok {
		t = make(map[string]bool)
		s.typing[p.ConferenceID] = t
	}
	if isTyping {
		t[p.ID] = true
	} else {
		delete(t, p.ID)
	}
	s.mu.Unlock()

	s.sync.NotifyChanged(ctx, p.ConferenceID, SyncObjID)
	return nil
}

// RemoveParticipant clears chat state of a leaving participant.
func (s *Service) RemoveParticipant(p core.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.typing[p.ConferenceID]; ok {
		delete(t, p.ID)
	}
	delete(s.limiters, p)
}

// Snapshot returns the synchronized chat value.
func (s *Service) Snapshot(conferenceID string) SynchronizedChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.typing[conferenceID]
	names := make([]string, 0, len(t))
	for id := range t {
		names = append(names, id)
	}
	sort.Strings(names)
	return SynchronizedChat{ParticipantsTyping: names}
}
