package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeCodeAuthFailed is the policy close code sent after a failed
// handshake.
const closeCodeAuthFailed = 4401

const (
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
)

type authFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type authReply struct {
	Type  string `json:"type"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// conn is one WebSocket client. All writes funnel through the send channel
// into a single writer goroutine; readers never write to the socket
// directly.
type conn struct {
	ws         *websocket.Conn
	dispatcher *Dispatcher
	send       chan []byte
	closeOnce  sync.Once
	done       chan struct{}
	logger     *slog.Logger
}

func newConn(ws *websocket.Conn, dispatcher *Dispatcher) *conn {
	return &conn{
		ws:         ws,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendQueueSize),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "gateway.conn", "remote", ws.RemoteAddr().String()),
	}
}

func (c *conn) run() {
	go c.writeLoop()
	defer c.close()

	if !c.authenticate() {
		return
	}
	c.dispatcher.addConn(c)
	defer c.dispatcher.removeConn(c)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("connection closed", "error", err)
			return
		}
		c.dispatcher.dispatch(c, raw)
	}
}

// authenticate enforces the first-frame token handshake. Nothing from an
// unauthenticated peer ever reaches the dispatcher.
func (c *conn) authenticate() bool {
	c.ws.SetReadDeadline(time.Now().Add(30 * time.Second))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return false
	}
	c.ws.SetReadDeadline(time.Time{})

	// The writer goroutine has nothing queued yet, so the handshake frames
	// are written directly.
	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "auth" || !tokenMatches(frame.Token, c.dispatcher.token) {
		c.writeDirect(mustMarshal(authReply{Type: "auth", OK: false, Error: "invalid token"}))
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCodeAuthFailed, "auth failed"))
		return false
	}
	c.writeDirect(mustMarshal(authReply{Type: "auth", OK: true}))
	return true
}

func (c *conn) writeDirect(frame []byte) {
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.ws.WriteMessage(websocket.TextMessage, frame)
}

// tokenMatches compares in constant time; a length mismatch still burns a
// compare before failing.
func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	if len(got) != len(want) {
		subtle.ConstantTimeCompare([]byte(want), []byte(want))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// enqueue hands a frame to the writer. Frames to a stalled or closed
// connection are dropped; push events are best-effort by contract.
func (c *conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		c.logger.Warn("send queue full, dropping frame")
	}
}

// sendEvent pushes an {event,data} frame.
func (c *conn) sendEvent(event string, data any) {
	frame, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		c.logger.Error("marshal push event", "event", event, "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *conn) writeLoop() {
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
