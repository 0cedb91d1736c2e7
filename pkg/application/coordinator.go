package application

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

// Conn is one live real-time connection to a tester, as seen by the
// coordinator. The wire layer implements it; Send must never block.
type Conn interface {
	Identity() domain.TesterID
	Send(msg Message)
	Close(reason string)
}

// DefaultLivenessWindow is the heartbeat window. Missing one heartbeat is
// tolerated; two consecutive missed windows trigger disconnection handling.
const DefaultLivenessWindow = 30 * time.Second

// Coordinator is the release-session coordinator: it tracks live
// connections per session, owns the per-session work pools and open
// attempts, and serializes claim/submit operations per session.
type Coordinator struct {
	repo       verification.Repository
	dispatcher *events.Dispatcher
	logger     *slog.Logger
	window     time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
	conns    map[Conn]*connState
}

type connState struct {
	session  *session
	identity domain.TesterID
	lastBeat time.Time
}

// session holds one release's shared state. Its mutex serializes
// claim-and-create and submit-and-reclaim so both are linearizable per work
// item.
type session struct {
	release domain.ReleaseID

	mu        sync.Mutex
	pool      *verification.WorkPool
	dead      bool                             // set at teardown; joins must not land here
	conns     map[string]Conn                  // by identity; newer connection supersedes
	open      map[string]*verification.Attempt // by identity
	byAttempt map[string]*verification.Attempt // by attempt ID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithLivenessWindow overrides the heartbeat window.
func WithLivenessWindow(window time.Duration) Option {
	return func(c *Coordinator) { c.window = window }
}

// NewCoordinator creates a coordinator over the given persistence
// collaborator and event dispatcher.
func NewCoordinator(repo verification.Repository, dispatcher *events.Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		repo:       repo,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		window:     DefaultLivenessWindow,
		sessions:   make(map[string]*session),
		conns:      make(map[Conn]*connState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Join registers a connection under a release session, creating the session
// on first join. If the identity already holds a connection in the session
// the newer connection supersedes it and the old one is forcibly closed.
func (c *Coordinator) Join(ctx context.Context, release domain.ReleaseID, conn Conn) error {
	// A connection switching to another release leaves its old session
	// first, so the old membership does not linger and any open attempt
	// there is abandoned.
	c.mu.RLock()
	prev, known := c.conns[conn]
	c.mu.RUnlock()
	if known && !prev.session.release.Equals(release) {
		c.Leave(ctx, conn)
	}

	identity := conn.Identity()

	var (
		s          *session
		summary    verification.Summary
		old        Conn
		superseded bool
	)
	for {
		var err error
		s, err = c.getOrCreateSession(ctx, release)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.dead {
			// Lost a race with last-leave teardown: the session was
			// unlinked after lookup. Materialize a fresh one.
			s.mu.Unlock()
			continue
		}
		old, superseded = s.conns[identity.String()]
		superseded = superseded && old != conn
		s.conns[identity.String()] = conn
		summary = verification.Summarize(s.pool)
		s.mu.Unlock()
		break
	}

	c.mu.Lock()
	if superseded {
		delete(c.conns, old)
	}
	c.conns[conn] = &connState{session: s, identity: identity, lastBeat: time.Now()}
	c.mu.Unlock()

	if superseded {
		old.Close("superseded by a newer connection")
		c.logger.Info("connection superseded", "release", release, "tester", identity)
	}

	c.broadcastExcept(s, identity, Message{Type: MsgTesterJoined, Payload: TesterJoinedPayload{Identity: identity.String()}})
	conn.Send(Message{Type: MsgDashboardUpdate, Payload: DashboardPayload{Summary: summary}})

	c.emit(ctx, &events.TesterJoined{
		BaseEvent: c.base(events.EventTypeTesterJoined, release.String(), events.AggregateTypeSession, identity.String()),
		ReleaseID: release.String(),
		Tester:    identity.String(),
	})

	c.logger.Info("tester joined", "release", release, "tester", identity)
	return nil
}

// Leave removes a connection from its session. If it was the identity's
// sole connection, any open attempt held by the identity is abandoned and
// its work item returned to the pool. Leave runs to completion even when the
// leaving connection can no longer receive a response.
func (c *Coordinator) Leave(ctx context.Context, conn Conn) {
	c.mu.Lock()
	state, ok := c.conns[conn]
	if ok {
		delete(c.conns, conn)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	s := state.session
	identity := state.identity

	s.mu.Lock()
	// A superseded connection leaving must not evict its successor.
	if current, ok := s.conns[identity.String()]; !ok || current != conn {
		s.mu.Unlock()
		return
	}
	delete(s.conns, identity.String())

	var unlocked string
	if attempt, ok := s.open[identity.String()]; ok {
		unlocked = attempt.StoryID.String()
		c.abandonLocked(ctx, s, attempt, "tester disconnected")
	}
	empty := len(s.conns) == 0
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgTesterLeft, Payload: TesterLeftPayload{
		Identity:           identity.String(),
		UnlockedWorkItemID: unlocked,
	}})

	c.emit(ctx, &events.TesterLeft{
		BaseEvent:       c.base(events.EventTypeTesterLeft, s.release.String(), events.AggregateTypeSession, identity.String()),
		ReleaseID:       s.release.String(),
		Tester:          identity.String(),
		UnlockedStoryID: unlocked,
	})

	if empty {
		// Re-check under both locks: a join may have raced in after the
		// membership was dropped above, and must not be stranded in an
		// unlinked session.
		c.mu.Lock()
		s.mu.Lock()
		if len(s.conns) == 0 {
			s.dead = true
			if c.sessions[s.release.String()] == s {
				delete(c.sessions, s.release.String())
			}
			c.logger.Info("session torn down", "release", s.release)
		}
		s.mu.Unlock()
		c.mu.Unlock()
	}

	c.logger.Info("tester left", "release", s.release, "tester", identity, "unlocked", unlocked)
}

// Heartbeat refreshes a connection's liveness timestamp. Heartbeats are
// advisory and carry no data.
func (c *Coordinator) Heartbeat(conn Conn) {
	c.mu.Lock()
	if state, ok := c.conns[conn]; ok {
		state.lastBeat = time.Now()
	}
	c.mu.Unlock()
}

// RunSweep runs the background liveness sweep until the context is
// cancelled. A single sweep per process replaces per-connection timers.
func (c *Coordinator) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(c.window / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepOnce(ctx)
		}
	}
}

// sweepOnce disconnects every connection whose last heartbeat is older than
// two liveness windows.
func (c *Coordinator) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-2 * c.window)

	c.mu.RLock()
	var stale []Conn
	for conn, state := range c.conns {
		if state.lastBeat.Before(cutoff) {
			stale = append(stale, conn)
		}
	}
	c.mu.RUnlock()

	for _, conn := range stale {
		c.logger.Warn("connection missed liveness window", "tester", conn.Identity())
		c.Leave(ctx, conn)
		conn.Close("liveness timeout")
	}
}

// CloseRelease force-abandons all open attempts for a release and closes the
// remaining pool. The safe default for a release closed mid-session.
func (c *Coordinator) CloseRelease(ctx context.Context, release domain.ReleaseID) error {
	c.mu.RLock()
	s, ok := c.sessions[release.String()]
	c.mu.RUnlock()
	if !ok {
		return verification.ErrSessionNotFound
	}

	s.mu.Lock()
	abandoned := 0
	for _, attempt := range s.open {
		c.abandonLocked(ctx, s, attempt, "release closed")
		abandoned++
	}
	for _, item := range s.pool.Items() {
		item.Closed = true
	}
	summary := verification.Summarize(s.pool)
	s.mu.Unlock()

	c.broadcast(s, Message{Type: MsgDashboardUpdate, Payload: DashboardPayload{Summary: summary}})

	c.emit(ctx, &events.ReleaseClosed{
		BaseEvent:         c.base(events.EventTypeReleaseClosed, release.String(), events.AggregateTypeSession, ""),
		ReleaseID:         release.String(),
		AbandonedAttempts: abandoned,
	})
	return nil
}

// Summary returns the current dashboard aggregate for a session.
func (c *Coordinator) Summary(release domain.ReleaseID) (verification.Summary, error) {
	c.mu.RLock()
	s, ok := c.sessions[release.String()]
	c.mu.RUnlock()
	if !ok {
		return verification.Summary{}, verification.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return verification.Summarize(s.pool), nil
}

// Participants returns the identities currently joined to a session.
func (c *Coordinator) Participants(release domain.ReleaseID) []string {
	c.mu.RLock()
	s, ok := c.sessions[release.String()]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for identity := range s.conns {
		out = append(out, identity)
	}
	return out
}

// abandonLocked discards an open attempt and returns its work item to the
// eligible pool. Callers hold the session lock. The attempt counter stays as
// assigned, preserving monotonicity.
func (c *Coordinator) abandonLocked(ctx context.Context, s *session, attempt *verification.Attempt, reason string) {
	if err := attempt.Abandon(); err != nil {
		c.logger.Error("abandon transition failed", "attempt", attempt.ID, "error", err)
		return
	}
	if item := s.pool.Get(attempt.StoryID); item != nil {
		item.ReleaseClaim()
	}
	delete(s.open, attempt.Tester.String())
	delete(s.byAttempt, attempt.ID.String())

	if err := c.repo.DiscardAttempt(ctx, attempt.ID); err != nil {
		// The in-memory claim is already released; a stale persisted open
		// attempt is harmless and reported for the audit trail.
		c.logger.Error("discard attempt failed", "attempt", attempt.ID, "error", err)
	}

	c.emit(ctx, &events.AttemptAbandoned{
		BaseEvent: c.base(events.EventTypeAttemptAbandoned, attempt.ID.String(), events.AggregateTypeAttempt, attempt.Tester.String()),
		ReleaseID: attempt.ReleaseID.String(),
		StoryID:   attempt.StoryID.String(),
		AttemptID: attempt.ID.String(),
		Reason:    reason,
	})

	c.logger.Info("attempt abandoned", "attempt", attempt.ID, "story", attempt.StoryID, "reason", reason)
}

// getOrCreateSession returns the session for a release, materializing it
// from the persistence collaborator's work-item snapshot on first join.
func (c *Coordinator) getOrCreateSession(ctx context.Context, release domain.ReleaseID) (*session, error) {
	c.mu.RLock()
	s, ok := c.sessions[release.String()]
	c.mu.RUnlock()
	if ok {
		return s, nil
	}

	items, err := c.repo.WorkItems(ctx, release)
	if err != nil {
		return nil, &verification.PersistenceError{Op: "load work items", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check: another join may have won the race while we were loading.
	if s, ok := c.sessions[release.String()]; ok {
		return s, nil
	}
	s = &session{
		release:   release,
		pool:      verification.NewWorkPool(items),
		conns:     make(map[string]Conn),
		open:      make(map[string]*verification.Attempt),
		byAttempt: make(map[string]*verification.Attempt),
	}
	c.sessions[release.String()] = s
	c.logger.Info("session created", "release", release, "items", s.pool.Len())
	return s, nil
}

// sessionForAttempt returns the session holding an attempt, if any. The
// session list is snapshotted first so no session lock is taken while the
// registry lock is held.
func (c *Coordinator) sessionForAttempt(attemptID domain.AttemptID) (*session, bool) {
	c.mu.RLock()
	sessions := make([]*session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		_, ok := s.byAttempt[attemptID.String()]
		s.mu.Unlock()
		if ok {
			return s, true
		}
	}
	return nil, false
}

// broadcast fans a message out to every connection in a session. Delivery is
// best-effort: dead connections simply miss the message and are reaped by
// the liveness sweep.
func (c *Coordinator) broadcast(s *session, msg Message) {
	s.mu.Lock()
	conns := make([]Conn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}

// broadcastExcept fans out to all participants except one identity.
func (c *Coordinator) broadcastExcept(s *session, except domain.TesterID, msg Message) {
	s.mu.Lock()
	conns := make([]Conn, 0, len(s.conns))
	for identity, conn := range s.conns {
		if identity == except.String() {
			continue
		}
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}

// emit dispatches a domain event; dispatch failures are logged, never
// surfaced to testers.
func (c *Coordinator) emit(ctx context.Context, event events.DomainEvent) {
	if c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.Dispatch(ctx, event); err != nil {
		c.logger.Error("event dispatch failed", "type", event.EventType(), "error", err)
	}
}

func (c *Coordinator) base(eventType, aggregateID, aggregateType, actor string) events.BaseEvent {
	return events.BaseEvent{
		Type:           eventType,
		AggregateID_:   aggregateID,
		AggregateType_: aggregateType,
		Timestamp:      time.Now(),
		Actor:          actor,
	}
}
