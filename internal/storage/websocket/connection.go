package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/orasdigital/citymap/pkg/streaming"
)

const (
	sendBuffer   = 4096
	ackBuffer    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// link is a collector connection with a single write goroutine.
type link struct {
	mu     sync.Mutex
	conn   *ws.Conn
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	target  string
	secret  string
	backoff time.Duration

	// hello is replayed after a reconnect so the collector can resume
	// the session.
	hello []byte

	dropped atomic.Uint64
	log     *slog.Logger
}

func newLink(log *slog.Logger) *link {
	return &link{
		sendCh:  make(chan []byte, sendBuffer),
		ackCh:   make(chan streaming.AckMessage, ackBuffer),
		done:    make(chan struct{}),
		backoff: time.Second,
		log:     log,
	}
}

// dial connects to the collector and starts the read and write loops.
func (l *link) dial(rawURL, secret string) error {
	l.target = rawURL
	l.secret = secret

	conn, err := l.dialOnce()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	go l.writeLoop()
	go l.readLoop()
	return nil
}

// dialOnce performs a single dial with the secret query parameter.
func (l *link) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(l.target)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if l.secret != "" {
		q := u.Query()
		q.Set("secret", l.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (l *link) current() *ws.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn
}

// writeLoop drains sendCh. Only one runs at a time; it returns on error
// or shutdown.
func (l *link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.sendCh:
			conn := l.current()
			if conn == nil {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				l.log.Warn("WebSocket SetWriteDeadline error", "error", err)
				go l.reconnect()
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				l.log.Warn("WebSocket write error", "error", err)
				go l.reconnect()
				return
			}
		}
	}
}

// readLoop routes collector acks to ackCh.
func (l *link) readLoop() {
	for {
		conn := l.current()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			l.log.Warn("WebSocket read error", "error", err)
			go l.reconnect()
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			l.log.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		select {
		case l.ackCh <- ack:
		default:
			l.log.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff,
// replays the hello message and restarts the loops.
func (l *link) reconnect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
	backoff := l.backoff
	l.mu.Unlock()

	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-l.done:
			return
		case <-time.After(backoff):
		}

		l.log.Info("Reconnecting to collector", "attempt", attempt, "backoff", backoff)
		conn, err := l.dialOnce()
		if err != nil {
			l.log.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			_ = conn.Close()
			return
		}
		l.conn = conn
		hello := l.hello
		l.mu.Unlock()

		if hello != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				err = conn.WriteMessage(ws.TextMessage, hello)
			}
			if err != nil {
				l.log.Warn("Failed to replay hello after reconnect", "error", err)
				continue
			}
		}

		l.log.Info("Collector reconnected", "attempt", attempt)
		go l.writeLoop()
		go l.readLoop()
		return
	}

	l.log.Error("Collector reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if full.
func (l *link) send(data []byte) {
	select {
	case l.sendCh <- data:
	default:
		l.dropped.Add(1)
		l.log.Warn("WebSocket send channel full, dropping message")
	}
}

// sendAndWait sends data and blocks until the collector acks it or the
// timeout expires.
func (l *link) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	l.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-l.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-l.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and shuts down all goroutines.
func (l *link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		// writeLoop may still be writing; control frames are safe alongside it
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
