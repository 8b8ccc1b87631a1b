package confctl

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/core"
)

// ClientConnection is what the conference layer knows about one client:
// typed event pushes plus forced close.
type ClientConnection interface {
	core.Messenger
	Close()
}

// ParticipantConnection binds a participant to its live connection.
type ParticipantConnection struct {
	ConnectionID string
	Conn         ClientConnection
}

// Connections is the process-wide registry of live participant
// connections. Entries are created on join success and removed on the
// disconnect notification; multiple connection goroutines mutate it
// concurrently.
type Connections struct {
	mu            sync.RWMutex
	byParticipant map[core.Participant]*ParticipantConnection
}

func NewConnections() *Connections {
	return &Connections{byParticipant: make(map[core.Participant]*ParticipantConnection)}
}

// SetParticipant binds the connection, returning the replaced one when the
// participant was already connected elsewhere.
func (c *Connections) SetParticipant(p core.Participant, pc *ParticipantConnection) *ParticipantConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.byParticipant[p]
	c.byParticipant[p] = pc
	log.Info().Str("module", "app.confctl").Str("participant", p.ID).
		Str("connection", pc.ConnectionID).Msg("bound connection")
	return previous
}

func (c *Connections) Get(p core.Participant) (*ParticipantConnection, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pc, ok := c.byParticipant[p]
	return pc, ok
}

// Broadcast pushes an event to every connection of one conference.
// Failed sends drop silently; disconnect cleanup removes dead entries.
func (c *Connections) Broadcast(conferenceID string, event string, payload any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for p, pc := range c.byParticipant {
		if p.ConferenceID != conferenceID {
			continue
		}
		_ = pc.Conn.Send(event, payload)
	}
}

// Remove unbinds the participant, but only when the stored connection id
// matches: a late disconnect of an old connection must not evict a newer
// one.
func (c *Connections) Remove(p core.Participant, connectionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.byParticipant[p]
	if !ok || pc.ConnectionID != connectionID {
		return false
	}
	delete(c.byParticipant, p)
	log.Info().Str("module", "app.confctl").Str("participant", p.ID).
		Str("connection", connectionID).Msg("unbound connection")
	return true
}
