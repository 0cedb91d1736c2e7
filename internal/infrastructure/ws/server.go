package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/testdeck/pkg/application"
	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// DefaultIdentityHeader carries the authenticated tester identity, set by the
// platform's auth proxy in front of this service.
const DefaultIdentityHeader = "X-Tester-Identity"

// Server upgrades tester connections and translates the wire protocol into
// coordinator calls.
type Server struct {
	coordinator    *application.Coordinator
	identityHeader string
	logger         *slog.Logger
	upgrader       websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithIdentityHeader overrides the header the identity is read from.
func WithIdentityHeader(name string) Option {
	return func(s *Server) { s.identityHeader = name }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates the WebSocket endpoint over a coordinator.
func NewServer(coordinator *application.Coordinator, opts ...Option) *Server {
	s := &Server{
		coordinator:    coordinator,
		identityHeader: DefaultIdentityHeader,
		logger:         slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP handles one tester connection for its whole lifetime. A request
// without a resolvable identity is refused before the upgrade.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := domain.NewTesterID(r.Header.Get(s.identityHeader))
	if err != nil {
		http.Error(w, "unauthorized: missing or invalid tester identity", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "tester", identity, "error", err)
		return
	}

	c := newConn(ws, identity, s.logger)
	go c.writePump()

	s.logger.Info("connection established", "tester", identity, "remote", r.RemoteAddr)
	s.readLoop(r.Context(), c)

	// Whatever ended the read loop, the tester is gone: abandon any open
	// attempt and release its work item.
	s.coordinator.Leave(context.Background(), c)
	c.Close("connection closed")
	s.logger.Info("connection closed", "tester", identity)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "tester", c.identity, "error", err)
			}
			return
		}

		// Any frame proves the client is alive.
		s.coordinator.Heartbeat(c)

		if err := ValidateEnvelope(raw); err != nil {
			c.Send(application.Message{Type: application.MsgError, Payload: application.ErrorPayload{Message: err.Error()}})
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.Send(application.Message{Type: application.MsgError, Payload: application.ErrorPayload{Message: "malformed message"}})
			continue
		}

		if err := s.dispatch(ctx, c, env); err != nil {
			c.Send(application.Message{Type: application.MsgError, Payload: application.ErrorPayload{Message: err.Error()}})
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, env Envelope) error {
	switch env.Type {
	case CmdHeartbeat:
		return nil

	case CmdJoinSession:
		release, err := domain.NewReleaseID(env.ReleaseID)
		if err != nil {
			return err
		}
		return s.coordinator.Join(ctx, release, c)

	case CmdLeaveSession:
		s.coordinator.Leave(ctx, c)
		return nil

	case CmdRequestWork:
		release, err := domain.NewReleaseID(env.ReleaseID)
		if err != nil {
			return err
		}
		assignment, err := s.coordinator.RequestWork(ctx, release, c.identity)
		if err != nil {
			return err
		}
		if assignment == nil {
			c.Send(application.Message{Type: application.MsgPoolEmpty})
			return nil
		}
		c.Send(application.Message{Type: application.MsgStoryAssigned, Payload: application.StoryAssignedPayload{
			AttemptID:     assignment.AttemptID.String(),
			AttemptNumber: assignment.AttemptNumber,
			WorkItem:      assignment.WorkItem,
		}})
		return nil

	case CmdUpdateStep:
		attemptID, err := domain.NewAttemptID(env.AttemptID)
		if err != nil {
			return err
		}
		stepID, err := domain.NewStepID(env.StepID)
		if err != nil {
			return err
		}
		outcome, err := verification.ParseStepOutcome(env.Status)
		if err != nil {
			return err
		}
		return s.coordinator.RecordStep(ctx, attemptID, c.identity, stepID, outcome, env.Comment)

	case CmdSubmitResult:
		attemptID, err := domain.NewAttemptID(env.AttemptID)
		if err != nil {
			return err
		}
		status, err := verification.ParseAttemptStatus(env.Status)
		if err != nil {
			return err
		}
		var details *verification.DefectDetails
		if env.Defect != nil {
			details = &verification.DefectDetails{
				Title:       env.Defect.Title,
				Description: env.Defect.Description,
				Severity:    env.Defect.Severity,
			}
		}
		return s.coordinator.Submit(ctx, attemptID, c.identity, status, env.Comment, details)

	default:
		// The schema already rejects unknown types; this is unreachable in
		// practice.
		return nil
	}
}
