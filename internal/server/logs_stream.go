package server

import (
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
)

// handleLogStream feeds operation log entries to a WebSocket client: the
// buffered backlog first, then live entries as operations append them.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOriginPatterns(r),
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()

	entries, cancel := s.engine.Log().Subscribe()
	defer cancel()

	write := func(v interface{}) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return false
		}
		return conn.Write(ctx, websocket.MessageText, data) == nil
	}

	// Backlog may overlap the first live entries; clients dedupe on seq.
	for _, e := range s.engine.Log().Snapshot() {
		if !write(e) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if !write(e) {
				return
			}
		}
	}
}
