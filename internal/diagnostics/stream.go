package diagnostics

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// keepAliveInterval bounds how long a streaming client waits between
// records before receiving a keep-alive ping.
const keepAliveInterval = 20 * time.Second

// handleLogStream serves GET /api/logs/stream: a server-push stream of new
// log records over a websocket connection, one JSON message per record. A
// slow client is dropped rather than allowed to block the logger —
// logging.Ring.Subscribe already enforces that by dropping into a full
// per-subscriber channel instead of blocking append.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("log stream: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	records, cancel := s.cfg.Ring.Subscribe(64)
	defer cancel()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case rec, ok := <-records:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, rec)
			writeCancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("log stream: write failed, dropping client")
				return
			}
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("log stream: keep-alive ping failed, dropping client")
				return
			}
		}
	}
}
