package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// wsFrame is the JSON text frame sent to websocket clients.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsStream adapts a websocket connection to Stream. gorilla allows one concurrent writer.
type wsStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsStream) Send(event string, data []byte) error {
	raw := json.RawMessage(data)
	if !json.Valid(data) {
		quoted, err := json.Marshal(string(data))
		if err != nil {
			return err
		}
		raw = quoted
	}
	frame, err := json.Marshal(wsFrame{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal websocket frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// WebSocketServer upgrades HTTP requests into live notification sockets.
type WebSocketServer struct {
	registry *Registry
	upgrader websocket.Upgrader
}

// NewWebSocketServer builds the upgrader. An empty allowedOrigins or a "*" entry accepts any origin.
// Requests without an Origin header come from non-browser clients and are always accepted.
func NewWebSocketServer(registry *Registry, allowedOrigins []string) *WebSocketServer {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	anyOrigin := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = struct{}{}
	}
	return &WebSocketServer{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if anyOrigin || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Serve upgrades the request and keeps the socket registered for userID until the client closes it,
// the optional timeout fires, or a send fails.
func (s *WebSocketServer) Serve(w http.ResponseWriter, r *http.Request, userID uint, timeout time.Duration) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}

	conn := s.registry.Subscribe(userID, &wsStream{conn: ws})

	// Read only to notice the client going away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	waitForEnd(ctx, conn, timeout)
	return nil
}
