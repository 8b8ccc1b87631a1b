// Package syncobj distributes server-computed object snapshots to
// subscribed client connections, pushing full state on subscribe and
// structural patches on every change.
package syncobj

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/core"
	"github.com/dkeye/Concord/internal/metrics"
)

var (
	ErrUnknownCategory = errors.New("syncobj: no provider registered for category")
)

// Provider computes the current value of one synchronized-object category.
// Values are always derived from authoritative domain state at fetch time;
// the registry never accepts pushed values.
type Provider interface {
	// FetchValue returns the current snapshot. For per-participant
	// providers the value may differ per participant.
	FetchValue(ctx context.Context, participant core.Participant) (any, error)
	// PerParticipant reports whether values are computed per subscriber.
	PerParticipant() bool
}

// StatePayload is the full-state push sent on subscribe.
type StatePayload struct {
	ID    core.SyncObjID `json:"id"`
	Value any            `json:"value"`
}

// UpdatePayload is the incremental push sent on changes.
type UpdatePayload struct {
	ID         core.SyncObjID `json:"id"`
	Operations []Operation    `json:"operations"`
}

type objKey struct {
	conferenceID string
	id           core.SyncObjID
}

type subscriber struct {
	participant core.Participant
	conn        core.Messenger
	// last is the normalized snapshot this subscriber saw most recently.
	last any
}

type object struct {
	// mu serializes notifications per object so patches reach each
	// connection in mutation order.
	mu          sync.Mutex
	subscribers map[string]*subscriber
}

// Registry tracks providers and subscriptions for all conferences served
// by this process.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	objects   map[objKey]*object
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		objects:   make(map[objKey]*object),
	}
}

// Register binds a provider to a category. Call during wiring, before any
// subscription traffic.
func (r *Registry) Register(category string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[category] = p
}

func (r *Registry) provider(category string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[category]
	return p, ok
}

func (r *Registry) object(key objKey, create bool) (*object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.objects[key]
	if !ok && create {
		obj = &object{subscribers: make(map[string]*subscriber)}
		r.objects[key] = obj
		ok = true
	}
	return obj, ok
}

// Subscribe registers interest and synchronously pushes the current full
// snapshot to the connection. Re-subscribing resets the diff baseline, so
// the caller always receives fresh full state.
func (r *Registry) Subscribe(ctx context.Context, participant core.Participant, conn core.Messenger, id core.SyncObjID) error {
	provider, ok := r.provider(id.Category)
	if !ok {
		return ErrUnknownCategory
	}

	value, err := provider.FetchValue(ctx, participant)
	if err != nil {
		return err
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}

	key := objKey{conferenceID: participant.ConferenceID, id: id}
	obj, _ := r.object(key, true)

	// The full-state push happens under the object lock, so a concurrent
	// notification cannot slip a patch ahead of the baseline state.
	obj.mu.Lock()
	obj.subscribers[participant.ID] = &subscriber{
		participant: participant,
		conn:        conn,
		last:        normalized,
	}
	if err := conn.Send(core.EventSyncObjState, StatePayload{ID: id, Value: normalized}); err != nil {
		log.Warn().Str("module", "app.syncobj").Str("obj", id.String()).
			Str("participant", participant.ID).Err(err).Msg("initial state push dropped")
	}
	obj.mu.Unlock()
	return nil
}

// Unsubscribe removes one subscription. Removing a subscription that does
// not exist is a no-op.
func (r *Registry) Unsubscribe(participant core.Participant, id core.SyncObjID) {
	key := objKey{conferenceID: participant.ConferenceID, id: id}
	obj, ok := r.object(key, false)
	if !ok {
		return
	}

	obj.mu.Lock()
	delete(obj.subscribers, participant.ID)
	empty := len(obj.subscribers) == 0
	obj.mu.Unlock()

	if empty {
		// Last subscriber gone: drop the object so its snapshot cache dies
		// with it.
		r.mu.Lock()
		if o, still := r.objects[key]; still && o == obj {
			o.mu.Lock()
			if len(o.subscribers) == 0 {
				delete(r.objects, key)
			}
			o.mu.Unlock()
		}
		r.mu.Unlock()
	}
}

// UnsubscribeAll removes every subscription of one participant. Called on
// disconnect so broadcast targets never leak.
func (r *Registry) UnsubscribeAll(participant core.Participant) {
	r.mu.RLock()
	keys := make([]objKey, 0)
	for key, obj := range r.objects {
		if key.conferenceID != participant.ConferenceID {
			continue
		}
		obj.mu.Lock()
		if _, ok := obj.subscribers[participant.ID]; ok {
			keys = append(keys, key)
		}
		obj.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, key := range keys {
		r.Unsubscribe(participant, key.id)
	}
}

// NotifyChanged recomputes the object via its provider, diffs against each
// subscriber's last snapshot and pushes the patch. A structurally identical
// recomputation sends nothing.
func (r *Registry) NotifyChanged(ctx context.Context, conferenceID string, id core.SyncObjID) {
	provider, ok := r.provider(id.Category)
	if !ok {
		log.Error().Str("module", "app.syncobj").Str("obj", id.String()).Msg("notify for unknown category")
		return
	}

	key := objKey{conferenceID: conferenceID, id: id}
	obj, ok := r.object(key, false)
	if !ok {
		return
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	var shared any
	var sharedReady bool

	for _, sub := range obj.subscribers {
		var normalized any
		if provider.PerParticipant() {
			value, err := provider.FetchValue(ctx, sub.participant)
			if err != nil {
				log.Error().Str("module", "app.syncobj").Str("obj", id.String()).
					Str("participant", sub.participant.ID).Err(err).Msg("provider fetch failed")
				continue
			}
			normalized, err = Normalize(value)
			if err != nil {
				log.Error().Str("module", "app.syncobj").Str("obj", id.String()).Err(err).Msg("normalize failed")
				continue
			}
		} else {
			if !sharedReady {
				value, err := provider.FetchValue(ctx, core.Participant{ConferenceID: conferenceID})
				if err != nil {
					log.Error().Str("module", "app.syncobj").Str("obj", id.String()).Err(err).Msg("provider fetch failed")
					return
				}
				shared, err = Normalize(value)
				if err != nil {
					log.Error().Str("module", "app.syncobj").Str("obj", id.String()).Err(err).Msg("normalize failed")
					return
				}
				sharedReady = true
			}
			normalized = shared
		}

		ops := Diff(sub.last, normalized)
		if len(ops) == 0 {
			continue
		}
		sub.last = normalized

		if err := sub.conn.Send(core.EventSyncObjUpdated, UpdatePayload{ID: id, Operations: ops}); err != nil {
			// Slow or gone subscriber: drop this update, disconnect
			// cleanup removes the subscription.
			log.Warn().Str("module", "app.syncobj").Str("obj", id.String()).
				Str("participant", sub.participant.ID).Err(err).Msg("patch push dropped")
			continue
		}
		metrics.SyncNotifications.Inc()
	}
}
