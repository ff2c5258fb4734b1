package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/synthcap/scenecap/pkg/streaming"
)

const (
	sendChSize    = 1_000
	controlChSize = 8
	ackChSize     = 16
	maxReconnect  = 10
	maxBackoff    = 30 * time.Second
	writeWait     = 10 * time.Second
	ackTimeout    = 10 * time.Second
	pingPeriod    = 20 * time.Second
)

// connection owns one viewer WebSocket. Frames and annotations go through
// sendCh and are dropped when it is full; session boundaries go through
// controlCh, which the writer always drains first.
type connection struct {
	mu     sync.Mutex
	conn   *ws.Conn
	closed bool

	sendCh    chan []byte
	controlCh chan []byte
	ackCh     chan streaming.AckMessage
	done      chan struct{}
	dropped   atomic.Int64

	wsURL  string
	secret string

	// session_start of the running session, replayed after a reconnect.
	sessionStart []byte

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:    make(chan []byte, sendChSize),
		controlCh: make(chan []byte, controlChSize),
		ackCh:     make(chan streaming.AckMessage, ackChSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	c.start(conn)
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) start(conn *ws.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)
}

// setSessionStart stores the message replayed after a reconnect. nil
// clears it once the session has ended.
func (c *connection) setSessionStart(data []byte) {
	c.mu.Lock()
	c.sessionStart = data
	c.mu.Unlock()
}

func write(conn *ws.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

// writeLoop is the only writer of conn. It exits on shutdown or on the
// first write error, which hands over to reconnect.
func (c *connection) writeLoop(conn *ws.Conn) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var (
			kind = ws.TextMessage
			data []byte
		)
		select {
		case <-c.done:
			return
		case data = <-c.controlCh:
		default:
			select {
			case <-c.done:
				return
			case data = <-c.controlCh:
			case data = <-c.sendCh:
			case <-ping.C:
				kind = ws.PingMessage
			}
		}

		if err := write(conn, kind, data); err != nil {
			c.logger.Warn("WebSocket write error", "error", err)
			go c.reconnect(conn)
			return
		}
	}
}

// readLoop routes server acks to ackCh.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect replaces failed with a new connection, retrying with
// exponential backoff. Only the first caller for a given failed connection
// proceeds; the read and write loops both report the same failure.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = failed.Close()

	backoff := time.Second
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		replay := c.sessionStart
		c.mu.Unlock()
		if replay != nil {
			if err := write(conn, ws.TextMessage, replay); err != nil {
				c.logger.Warn("Failed to replay session_start after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt, "replayedSession", replay != nil)
		c.start(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send queues a frame or annotation without blocking. It reports false and
// counts a drop when the buffer is full.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.logger.Warn("WebSocket send buffer full, dropping messages", "dropped", n)
		}
		return false
	}
}

// sendControl queues a session boundary. It waits for room rather than
// dropping, up to writeWait.
func (c *connection) sendControl(data []byte) error {
	timer := time.NewTimer(writeWait)
	defer timer.Stop()
	select {
	case c.controlCh <- data:
		return nil
	case <-timer.C:
		return fmt.Errorf("control message not queued within %s", writeWait)
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// sendAndWait queues a session boundary and blocks until the matching ack
// or timeout.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	if err := c.sendControl(data); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

func (c *connection) pending() int {
	return len(c.sendCh) + len(c.controlCh)
}

// close sends a close frame and stops both loops.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = write(conn, ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}
