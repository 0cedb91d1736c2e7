package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/testdeck/pkg/application"
	"github.com/felixgeelhaar/testdeck/pkg/domain"
)

// outboundBuffer bounds the per-connection send queue. A full queue means a
// slow or dead client; messages are dropped rather than blocking the
// coordinator, and the liveness sweep reaps the connection.
const outboundBuffer = 64

const writeDeadline = 10 * time.Second

// conn adapts one WebSocket connection to the coordinator's Conn contract.
// All writes go through the write pump; Send never blocks.
type conn struct {
	identity domain.TesterID
	ws       *websocket.Conn
	logger   *slog.Logger

	out  chan application.Message
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, identity domain.TesterID, logger *slog.Logger) *conn {
	return &conn{
		identity: identity,
		ws:       ws,
		logger:   logger,
		out:      make(chan application.Message, outboundBuffer),
		done:     make(chan struct{}),
	}
}

func (c *conn) Identity() domain.TesterID { return c.identity }

// Send queues a message for delivery. If the client cannot keep up the
// message is dropped.
func (c *conn) Send(msg application.Message) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		c.logger.Debug("dropping message for slow client", "tester", c.identity, "type", msg.Type)
	}
}

// Close shuts the connection down with a close frame carrying the reason.
// Safe to call more than once.
func (c *conn) Close(reason string) {
	c.once.Do(func() {
		deadline := time.Now().Add(writeDeadline)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump serializes all data writes onto the socket. It exits when the
// connection is closed.
func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Debug("write failed", "tester", c.identity, "error", err)
				return
			}
		}
	}
}
