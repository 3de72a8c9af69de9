package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type string          `json:"type"`
	Code json.RawMessage `json:"code"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.Server.MaxBodyBytes)

	s.metrics.wsOpened()
	defer s.metrics.wsClosed()

	var mu sync.Mutex
	send := func(msg wsOutgoing) {
		mu.Lock()
		defer mu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			s.log.Debug("websocket write failed", zap.Error(err))
		}
	}

	// The server does not cancel r.Context() when a hijacked connection
	// drops, so the reader cancels ctx itself once the read side fails.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan []byte)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
			select {
			case frames <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	for data := range frames {
		code, ok := parseFrame(data)
		if !ok {
			send(wsOutgoing{Type: "error", Content: errCodeRequired})
			continue
		}

		s.runStreaming(ctx, code, send)
	}
}

func parseFrame(data []byte) (string, bool) {
	var msg wsIncoming
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "run" {
		return "", false
	}
	return stringField(msg.Code)
}

// runStreaming sends each console entry as it is captured, then the result
// or error.
func (s *Server) runStreaming(ctx context.Context, code string, send func(wsOutgoing)) {
	out, id := s.execute(ctx, code, func(entry string) {
		send(wsOutgoing{Type: "log", Content: entry})
	})
	if out.Failed {
		send(wsOutgoing{Type: "error", Content: out.Error, ID: id})
		return
	}
	send(wsOutgoing{Type: "result", Content: out.Result, ID: id})
}
