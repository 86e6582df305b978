package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orasdigital/citymap/internal/dispatcher"
	"github.com/orasdigital/citymap/internal/logging"
	"github.com/orasdigital/citymap/pkg/streaming"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}

	clientID := fmt.Sprintf("client-%d", s.nextID.Add(1))
	ctx, cancel := context.WithCancel(r.Context())
	ctx = logging.WithAttrs(ctx, slog.String("client", clientID))
	defer cancel()

	s.clients.Add(1)
	defer s.clients.Add(-1)
	s.log.InfoContext(ctx, "Client connected", "remote", r.RemoteAddr)

	// subscribe before the snapshot so no mutation falls in between
	events := s.deps.Bus.Subscribe(ctx, s.deps.Config.ClientBuffer)
	sync, err := streaming.NewEnvelope(streaming.TypeSync, s.deps.Canvas.Snapshot())
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to build sync envelope", "error", err)
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeLoop(ctx, conn, sync, events)
	}()

	s.readLoop(ctx, conn, clientID)
	cancel()
	<-done
	s.log.InfoContext(ctx, "Client disconnected")
}

// readLoop turns inbound envelopes into dispatcher events until the
// connection fails.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env streaming.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.DebugContext(ctx, "Websocket read failed", "error", err)
			}
			return
		}
		_, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{
			Command:   env.Type,
			Payload:   env.Payload,
			Client:    clientID,
			Timestamp: time.Now(),
		})
		if err != nil {
			s.log.WarnContext(ctx, "Command failed", "command", env.Type, "error", err)
		}
	}
}

// writeLoop is the only writer of conn. It sends the sync envelope first,
// then every bus envelope, and closes conn when it returns.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sync streaming.Envelope, events <-chan streaming.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	write := func(env streaming.Envelope) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(env); err != nil {
			s.log.DebugContext(ctx, "Websocket write failed", "type", env.Type, "error", err)
			return false
		}
		return true
	}

	if !write(sync) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if !write(env) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
