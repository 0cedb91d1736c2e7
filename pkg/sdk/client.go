package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/gorilla/websocket"
)

// Client is a typed client for the coordinator's WebSocket protocol. One
// synchronous call may be in flight at a time; frames that are not the
// reply to the current call are delivered on Events.
type Client struct {
	ws   *websocket.Conn
	opts options

	callMu  sync.Mutex // one synchronous call at a time
	writeMu sync.Mutex

	waiterMu sync.Mutex
	waiter   *waiter

	events    chan Message
	done      chan struct{}
	closeOnce sync.Once
}

type waiter struct {
	match func(Message) bool
	ch    chan Message
}

// Dial connects to the coordinator as the given tester identity. The
// connection attempt is retried with exponential backoff.
func Dial(ctx context.Context, url, identity string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}

	header := http.Header{}
	header.Set(o.identityHeader, identity)

	r := retry.New[*websocket.Conn](retry.Config{
		MaxAttempts:   o.maxDialAttempts,
		InitialDelay:  o.initialDialDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	ws, err := r.Do(ctx, func(ctx context.Context) (*websocket.Conn, error) {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
			}
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		ws:     ws,
		opts:   o,
		events: make(chan Message, o.eventBuffer),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// Events delivers frames that arrive outside a synchronous call: dashboard
// updates, presence changes and other testers' progress. Slow consumers
// lose frames rather than blocking the connection.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Close tears the connection down. The coordinator abandons any open
// attempt when the connection drops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
	return nil
}

// Join enters a release session. The coordinator replies with the current
// dashboard snapshot.
func (c *Client) Join(ctx context.Context, releaseID string) error {
	_, err := c.call(ctx, envelope{Type: "join-session", ReleaseID: releaseID}, func(m Message) bool {
		return m.Type == MsgDashboardUpdate
	})
	return err
}

// Leave exits the current session. Any open attempt is abandoned.
func (c *Client) Leave(ctx context.Context) error {
	return c.write(envelope{Type: "leave-session"})
}

// RequestWork asks for the next eligible work item. A nil Assignment with a
// nil error means the pool is empty.
func (c *Client) RequestWork(ctx context.Context, releaseID string) (*Assignment, error) {
	msg, err := c.call(ctx, envelope{Type: "request-work", ReleaseID: releaseID}, func(m Message) bool {
		return m.Type == MsgStoryAssigned || m.Type == MsgPoolEmpty
	})
	if err != nil {
		return nil, err
	}
	if msg.Type == MsgPoolEmpty {
		return nil, nil
	}
	var assignment Assignment
	if err := json.Unmarshal(msg.Payload, &assignment); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &assignment, nil
}

// UpdateStep records a step outcome in the open attempt. The coordinator
// echoes the change back as the confirmation.
func (c *Client) UpdateStep(ctx context.Context, attemptID, stepID, status, comment string) error {
	_, err := c.call(ctx, envelope{
		Type:      "update-step",
		AttemptID: attemptID,
		StepID:    stepID,
		Status:    status,
		Comment:   comment,
	}, func(m Message) bool {
		if m.Type != MsgStatusChanged {
			return false
		}
		var change StatusChange
		if err := json.Unmarshal(m.Payload, &change); err != nil {
			return false
		}
		return change.StepID == stepID
	})
	return err
}

// SubmitResult finalizes the open attempt. defect may be nil; it is only
// honored on failing outcomes.
func (c *Client) SubmitResult(ctx context.Context, attemptID, status, comment string, defect *DefectReport) (*ResultSubmitted, error) {
	msg, err := c.call(ctx, envelope{
		Type:      "submit-result",
		AttemptID: attemptID,
		Status:    status,
		Comment:   comment,
		Defect:    defect,
	}, func(m Message) bool {
		if m.Type != MsgResultSubmitted {
			return false
		}
		var result ResultSubmitted
		if err := json.Unmarshal(m.Payload, &result); err != nil {
			return false
		}
		return result.AttemptID == attemptID
	})
	if err != nil {
		return nil, err
	}
	var result ResultSubmitted
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// call sends a command and waits for its reply. Error frames arriving while
// the call is outstanding resolve it as the coordinator's refusal.
func (c *Client) call(ctx context.Context, cmd envelope, match func(Message) bool) (Message, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	w := &waiter{match: match, ch: make(chan Message, 1)}
	c.waiterMu.Lock()
	c.waiter = w
	c.waiterMu.Unlock()
	defer func() {
		c.waiterMu.Lock()
		c.waiter = nil
		c.waiterMu.Unlock()
	}()

	if err := c.write(cmd); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(c.opts.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	case <-timer.C:
		return Message{}, fmt.Errorf("testdeck: %s: reply timeout", cmd.Type)
	case msg := <-w.ch:
		if msg.Type == MsgError {
			var payload struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &payload)
			return Message{}, &ServerError{Message: payload.Message}
		}
		return msg, nil
	}
}

func (c *Client) write(cmd envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(cmd)
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}

		c.waiterMu.Lock()
		w := c.waiter
		if w != nil && (msg.Type == MsgError || w.match(msg)) {
			c.waiter = nil
			c.waiterMu.Unlock()
			w.ch <- msg
			continue
		}
		c.waiterMu.Unlock()

		select {
		case c.events <- msg:
		default:
			// Slow consumer loses broadcast frames.
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			_ = c.write(envelope{Type: "heartbeat"})
		}
	}
}
