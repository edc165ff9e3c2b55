package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	// eventBuffer is the per-subscriber channel depth; a client that
	// falls further behind misses entries rather than stalling appends.
	eventBuffer = 64

	eventWriteTimeout = 5 * time.Second
)

// handleEvents upgrades the connection to a WebSocket and pushes every
// audit entry appended from this point on as one JSON text message. The
// connection stays open until the client goes away or the server stops.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, correlationID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written its own failure response.
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream aborted")

	entries, cancel := s.audit.Subscribe(eventBuffer)
	defer cancel()

	// The feed is write-only; CloseRead keeps control frames flowing and
	// cancels the context when the peer closes or errors.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case entry, ok := <-entries:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if err := writeEvent(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
