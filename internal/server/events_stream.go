package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/fairvalue/internal/events"
)

// streamBuffer is the per-client event backlog; slow clients beyond it are
// disconnected rather than blocking publishers.
const streamBuffer = 64

// handleEventStream upgrades to a websocket and relays run lifecycle
// events until the client goes away.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.deps.Config.DevMode,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	queue := make(chan events.Event, streamBuffer)
	unsubscribe := s.deps.Bus.Subscribe(func(e events.Event) {
		select {
		case queue <- e:
		default:
			// Client is stalled; drop rather than block the run
		}
	})
	defer unsubscribe()

	// Heartbeats keep intermediaries from dropping idle connections
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case event := <-queue:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
