// Package signal is the websocket transport adapter: it runs the join
// handshake on connect, dispatches inbound command messages through the
// service invoker and pushes server events back over the same connection.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/app/breakout"
	"github.com/dkeye/Concord/internal/app/chat"
	"github.com/dkeye/Concord/internal/app/confctl"
	"github.com/dkeye/Concord/internal/app/equipment"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Controller handles websocket signal connections.
type Controller struct {
	Conf      *confctl.Service
	Rooms     *rooms.Service
	Breakout  *breakout.Service
	Chat      *chat.Service
	Perms     *permissions.Service
	Equipment *equipment.TokenIssuer
	Validate  *validator.Validate
}

func NewController(conf *confctl.Service, roomsSvc *rooms.Service, breakoutSvc *breakout.Service,
	chatSvc *chat.Service, perms *permissions.Service, eq *equipment.TokenIssuer) *Controller {
	return &Controller{
		Conf:      conf,
		Rooms:     roomsSvc,
		Breakout:  breakoutSvc,
		Chat:      chatSvc,
		Perms:     perms,
		Equipment: eq,
		Validate:  validator.New(),
	}
}

// WsSignalConn is one websocket client connection with a buffered,
// non-blocking send path.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Send marshals a typed server event and queues it for delivery.
func (c *WsSignalConn) Send(event string, payload any) error {
	b, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: event, Payload: payload})
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// resolveIdentity derives the joining participant from the request. An
// equipment token carries the identity itself; plain clients name it in
// query parameters, falling back to the client-token cookie.
func (ctl *Controller) resolveIdentity(c *gin.Context) (core.Participant, error) {
	if token := c.Query("equipmentToken"); token != "" {
		participant, err := ctl.Equipment.Verify(token)
		if err != nil {
			return core.Participant{}, err
		}
		return participant, nil
	}

	conferenceID := c.Query("conferenceId")
	participantID := c.Query("participantId")
	if participantID == "" {
		participantID = c.GetString("client_token")
	}
	return core.NewParticipant(conferenceID, participantID), nil
}

// HandleSignal upgrades the request and runs the join handshake. The
// connection is rejected with OnConnectionError when the handshake fails;
// an invalid equipment token never reaches the websocket upgrade.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	participant, err := ctl.resolveIdentity(c)
	if err != nil {
		log.Warn().Str("module", "adapters.signal").Err(err).Msg("equipment token rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid equipment token"})
		return
	}
	displayName := c.Query("displayName")

	log.Info().Str("module", "adapters.signal").Str("conference", participant.ConferenceID).
		Str("participant", participant.ID).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	connectionID := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	meta := core.ParticipantMetadata{DisplayName: displayName}
	if joinErr := ctl.Conf.Join(ctx, participant, meta, connectionID, conn); joinErr != nil {
		log.Warn().Str("module", "adapters.signal").Str("participant", participant.ID).
			Int("code", joinErr.Code).Msg("join rejected")
		_ = conn.Send(core.EventConnectionError, joinErr)
		conn.Close()
		cancel()
		return
	}

	go ctl.readPump(ctx, cancel, participant, connectionID, conn)
}
