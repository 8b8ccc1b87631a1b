package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// writePump drains the send channel onto the wire and keeps the
// connection alive with periodic pings. One writer per connection.
func (ctl *Controller) writePump(ctx context.Context, conn *WsSignalConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.send:
			_ = conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Str("module", "adapters.signal").Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = conn.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client messages until the connection drops, then runs
// the disconnect cleanup exactly once.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc,
	participant core.Participant, connectionID string, conn *WsSignalConn) {
	defer func() {
		cancel()
		conn.Close()
		ctl.Conf.OnDisconnected(context.Background(), participant, connectionID)
	}()

	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("module", "adapters.signal").Str("participant", participant.ID).
					Err(err).Msg("unexpected close")
			}
			return
		}
		ctl.handleMessage(ctx, participant, conn, raw)
	}
}
