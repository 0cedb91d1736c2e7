package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
	"github.com/felixgeelhaar/testdeck/pkg/storage"
)

// fakeConn is an in-memory Conn for exercising the coordinator without a
// wire transport.
type fakeConn struct {
	identity domain.TesterID

	mu          sync.Mutex
	msgs        []Message
	closed      bool
	closeReason string
}

func newFakeConn(identity string) *fakeConn {
	return &fakeConn{identity: domain.MustTesterID(identity)}
}

func (f *fakeConn) Identity() domain.TesterID { return f.identity }

func (f *fakeConn) Send(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeConn) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeReason = reason
}

func (f *fakeConn) received(msgType string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func seedItems(stories ...string) []*verification.WorkItem {
	items := make([]*verification.WorkItem, 0, len(stories))
	for i, s := range stories {
		items = append(items, &verification.WorkItem{
			StoryID:  domain.MustStoryID(s),
			Title:    "Story " + s,
			Priority: 1,
			Seq:      i,
			Steps: []verification.Step{
				{ID: domain.MustStepID("s1"), Description: "first step"},
				{ID: domain.MustStepID("s2"), Description: "second step"},
			},
		})
	}
	return items
}

var testRelease = domain.MustReleaseID("rel-1")

func newTestCoordinator(t *testing.T, stories ...string) (*Coordinator, *storage.MemoryRepository) {
	t.Helper()
	repo := storage.NewMemoryRepository()
	repo.SeedRelease(testRelease, seedItems(stories...))
	c := NewCoordinator(repo, events.NewDispatcher(), WithLivenessWindow(50*time.Millisecond))
	return c, repo
}

func join(t *testing.T, c *Coordinator, identity string) *fakeConn {
	t.Helper()
	conn := newFakeConn(identity)
	if err := c.Join(context.Background(), testRelease, conn); err != nil {
		t.Fatalf("join %s: %v", identity, err)
	}
	return conn
}

func TestRequestWorkMutualExclusion(t *testing.T) {
	c, _ := newTestCoordinator(t, "only-story")
	ctx := context.Background()

	const testers = 8
	conns := make([]*fakeConn, testers)
	for i := range conns {
		conns[i] = join(t, c, "tester-"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	results := make([]*Assignment, testers)
	errs := make([]error, testers)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.RequestWork(ctx, testRelease, conns[i].Identity())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range results {
		if errs[i] != nil {
			t.Errorf("tester %d unexpected error: %v", i, errs[i])
		}
		if results[i] != nil {
			winners++
			if results[i].WorkItem.StoryID != "only-story" {
				t.Errorf("tester %d got unexpected story %s", i, results[i].WorkItem.StoryID)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("%d testers claimed the single item, want exactly 1", winners)
	}
}

func TestRequestWorkPreconditions(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-a", "story-b")
	ctx := context.Background()

	// Not joined.
	if _, err := c.RequestWork(ctx, testRelease, domain.MustTesterID("ghost")); !errors.Is(err, verification.ErrNotJoined) {
		t.Errorf("error = %v, want ErrNotJoined", err)
	}

	alice := join(t, c, "alice")
	if _, err := c.RequestWork(ctx, testRelease, alice.Identity()); err != nil {
		t.Fatal(err)
	}

	// Second request while an attempt is open.
	if _, err := c.RequestWork(ctx, testRelease, alice.Identity()); !errors.Is(err, verification.ErrAttemptAlreadyOpen) {
		t.Errorf("error = %v, want ErrAttemptAlreadyOpen", err)
	}

	// Unknown session.
	if _, err := c.RequestWork(ctx, domain.MustReleaseID("rel-unknown"), alice.Identity()); !errors.Is(err, verification.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestPoolEmptyIsNotAnError(t *testing.T) {
	c, _ := newTestCoordinator(t) // no stories
	alice := join(t, c, "alice")

	got, err := c.RequestWork(context.Background(), testRelease, alice.Identity())
	if err != nil {
		t.Fatalf("pool-empty must not be an error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil assignment, got %+v", got)
	}
}

func TestAbandonAndReclaim(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-x")
	ctx := context.Background()

	alice := join(t, c, "alice")
	bob := join(t, c, "bob")

	first, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || first == nil {
		t.Fatalf("alice assignment: %v, %v", first, err)
	}
	if first.AttemptNumber != 1 {
		t.Fatalf("first attempt number = %d, want 1", first.AttemptNumber)
	}

	// Bob cannot claim while alice holds it.
	if got, err := c.RequestWork(ctx, testRelease, bob.Identity()); err != nil || got != nil {
		t.Fatalf("bob should see an empty pool while story-x is claimed, got %v, %v", got, err)
	}

	// Alice disconnects without submitting.
	c.Leave(ctx, alice)

	left := bob.received(MsgTesterLeft)
	if len(left) != 1 {
		t.Fatalf("bob received %d tester-left messages, want 1", len(left))
	}
	payload := left[0].Payload.(TesterLeftPayload)
	if payload.UnlockedWorkItemID != "story-x" {
		t.Errorf("tester-left unlocked item = %q, want story-x", payload.UnlockedWorkItemID)
	}

	second, err := c.RequestWork(ctx, testRelease, bob.Identity())
	if err != nil || second == nil {
		t.Fatalf("bob reclaim: %v, %v", second, err)
	}
	if second.AttemptNumber != 2 {
		t.Errorf("reclaimed attempt number = %d, want 2 (strictly greater)", second.AttemptNumber)
	}

	// Alice's stale attempt was discarded, never finalized.
	if a := repo.Attempt(first.AttemptID); a != nil {
		t.Errorf("abandoned attempt still persisted: %+v", a)
	}
}

func TestSingleOwnership(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()

	alice := join(t, c, "alice")
	join(t, c, "bob")

	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	bobID := domain.MustTesterID("bob")
	var notOwner *verification.NotOwnerError

	err = c.RecordStep(ctx, assignment.AttemptID, bobID, domain.MustStepID("s1"), verification.StepPass, "")
	if !errors.As(err, &notOwner) {
		t.Errorf("RecordStep by non-owner error = %v, want NotOwnerError", err)
	}

	err = c.Submit(ctx, assignment.AttemptID, bobID, verification.StatusPass, "", nil)
	if !errors.As(err, &notOwner) {
		t.Errorf("Submit by non-owner error = %v, want NotOwnerError", err)
	}
}

func TestRecordStepUnknownStep(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()
	alice := join(t, c, "alice")

	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	var unknown *verification.UnknownStepError
	err = c.RecordStep(ctx, assignment.AttemptID, alice.Identity(), domain.MustStepID("bogus"), verification.StepPass, "")
	if !errors.As(err, &unknown) {
		t.Errorf("error = %v, want UnknownStepError", err)
	}
}

func TestRecordStepBroadcastsStatusChanged(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()
	alice := join(t, c, "alice")
	bob := join(t, c, "bob")

	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	if err := c.RecordStep(ctx, assignment.AttemptID, alice.Identity(), domain.MustStepID("s1"), verification.StepFail, "button missing"); err != nil {
		t.Fatal(err)
	}

	changed := bob.received(MsgStatusChanged)
	if len(changed) != 1 {
		t.Fatalf("bob received %d status-changed messages, want 1", len(changed))
	}
	payload := changed[0].Payload.(StatusChangedPayload)
	if payload.StoryID != "story-x" || payload.Status != "FAIL" || payload.Identity != "alice" {
		t.Errorf("unexpected status-changed payload: %+v", payload)
	}
}

func TestPoolReadmissionOnFail(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-y")
	ctx := context.Background()
	alice := join(t, c, "alice")

	first, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || first == nil {
		t.Fatal(err)
	}
	if err := c.Submit(ctx, first.AttemptID, alice.Identity(), verification.StatusFail, "broken", nil); err != nil {
		t.Fatal(err)
	}

	// FAIL leaves the item eligible; the next request gets it again.
	second, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || second == nil {
		t.Fatalf("expected re-assignment after FAIL, got %v, %v", second, err)
	}
	if second.WorkItem.StoryID != "story-y" {
		t.Errorf("re-assigned story = %s, want story-y", second.WorkItem.StoryID)
	}
	if second.AttemptNumber != 2 {
		t.Errorf("attempt number = %d, want 2", second.AttemptNumber)
	}

	// PASS removes it for the rest of the session.
	if err := c.Submit(ctx, second.AttemptID, alice.Identity(), verification.StatusPass, "", nil); err != nil {
		t.Fatal(err)
	}
	third, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil {
		t.Fatal(err)
	}
	if third != nil {
		t.Errorf("passed story must not be re-assigned, got %+v", third)
	}
}

func TestAtomicSubmission(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-z")
	ctx := context.Background()
	alice := join(t, c, "alice")

	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	details := &verification.DefectDetails{Title: "login broken", Severity: "major"}

	repo.FailNext = true
	err = c.Submit(ctx, assignment.AttemptID, alice.Identity(), verification.StatusFail, "", details)

	var pe *verification.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want PersistenceError", err)
	}
	if repo.DefectCount() != 0 {
		t.Error("no defect record may exist after a failed finalization")
	}

	// The claim is unchanged and the retry succeeds.
	if err := c.Submit(ctx, assignment.AttemptID, alice.Identity(), verification.StatusFail, "", details); err != nil {
		t.Fatalf("retry after rollback failed: %v", err)
	}
	if repo.DefectCount() != 1 {
		t.Errorf("defect count = %d, want 1", repo.DefectCount())
	}
	if d := repo.DefectForAttempt(assignment.AttemptID); d == nil || d.Title != "login broken" {
		t.Errorf("defect not linked to attempt: %+v", d)
	}
}

func TestDefectOnlyOnFailingOutcome(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-a", "story-b")
	ctx := context.Background()
	alice := join(t, c, "alice")

	details := &verification.DefectDetails{Title: "should be ignored"}

	first, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || first == nil {
		t.Fatal(err)
	}
	// PASS with defect details supplied: nothing is created.
	if err := c.Submit(ctx, first.AttemptID, alice.Identity(), verification.StatusPass, "", details); err != nil {
		t.Fatal(err)
	}
	if repo.DefectCount() != 0 {
		t.Error("defect must not be created for a passing submission")
	}

	second, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || second == nil {
		t.Fatal(err)
	}
	// FAIL without details: nothing is created either.
	if err := c.Submit(ctx, second.AttemptID, alice.Identity(), verification.StatusFail, "", nil); err != nil {
		t.Fatal(err)
	}
	if repo.DefectCount() != 0 {
		t.Error("defect must not be created without supplied details")
	}
}

func TestDashboardConsistency(t *testing.T) {
	c, _ := newTestCoordinator(t, "s1", "s2", "s3", "s4")
	ctx := context.Background()

	statuses := []verification.AttemptStatus{
		verification.StatusPass,
		verification.StatusFail,
		verification.StatusPartiallyTested,
	}
	testers := []string{"alice", "bob", "carol"}

	conns := make(map[string]*fakeConn, len(testers))
	for _, id := range testers {
		conns[id] = join(t, c, id)
	}

	var wg sync.WaitGroup
	for i, id := range testers {
		wg.Add(1)
		go func(i int, identity string) {
			defer wg.Done()
			a, err := c.RequestWork(ctx, testRelease, domain.MustTesterID(identity))
			if err != nil || a == nil {
				t.Errorf("%s request: %v, %v", identity, a, err)
				return
			}
			if err := c.Submit(ctx, a.AttemptID, domain.MustTesterID(identity), statuses[i], "", nil); err != nil {
				t.Errorf("%s submit: %v", identity, err)
			}
		}(i, id)
	}
	wg.Wait()

	summary, err := c.Summary(testRelease)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Total != 4 {
		t.Errorf("total = %d, want 4", summary.Total)
	}
	categorized := summary.Untested + summary.InProgress + summary.Passed +
		summary.Failed + summary.PartiallyTested + summary.CannotTest
	if categorized != summary.Total {
		t.Errorf("categories sum to %d, want %d (no double-counting)", categorized, summary.Total)
	}
	if summary.Passed != 1 || summary.PartiallyTested != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	// The failed story went back to the pool unclaimed; with s4 never
	// touched there are two untested-or-failed items.
	if summary.Failed != 1 || summary.Untested != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestJoinSupersedesOlderConnection(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()

	older := join(t, c, "alice")
	newer := newFakeConn("alice")
	if err := c.Join(ctx, testRelease, newer); err != nil {
		t.Fatalf("superseding join: %v", err)
	}

	if !older.isClosed() {
		t.Error("older connection must be forcibly closed on supersede")
	}

	// The superseded connection leaving must not tear anything down.
	c.Leave(ctx, older)

	if _, err := c.RequestWork(ctx, testRelease, newer.Identity()); err != nil {
		t.Errorf("newer connection should still be joined: %v", err)
	}
}

func TestJoinAnotherReleaseLeavesOldSession(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-a")
	releaseB := domain.MustReleaseID("rel-2")
	repo.SeedRelease(releaseB, seedItems("story-b"))
	ctx := context.Background()

	alice := join(t, c, "alice")
	first, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || first == nil {
		t.Fatalf("alice assignment: %v, %v", first, err)
	}

	// The same connection switches releases without an explicit leave.
	if err := c.Join(ctx, releaseB, alice); err != nil {
		t.Fatalf("join rel-2: %v", err)
	}

	// The old session's claim is gone and the stale attempt was discarded.
	if a := repo.Attempt(first.AttemptID); a != nil {
		t.Errorf("attempt from the old session still persisted: %+v", a)
	}
	if got := c.Participants(testRelease); len(got) != 0 {
		t.Errorf("old session still lists participants: %v", got)
	}

	bob := join(t, c, "bob")
	got, err := c.RequestWork(ctx, testRelease, bob.Identity())
	if err != nil || got == nil {
		t.Fatalf("story-a must be reclaimable after alice switched releases, got %v, %v", got, err)
	}
	if got.WorkItem.StoryID != "story-a" {
		t.Errorf("reclaimed story = %s, want story-a", got.WorkItem.StoryID)
	}
	if got.AttemptNumber != 2 {
		t.Errorf("attempt number = %d, want 2 (strictly greater)", got.AttemptNumber)
	}

	// Alice is live in the new session only.
	if _, err := c.RequestWork(ctx, releaseB, alice.Identity()); err != nil {
		t.Errorf("alice should be joined to rel-2: %v", err)
	}
}

func TestRejoinSameReleaseKeepsOpenAttempt(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-a")
	ctx := context.Background()

	alice := join(t, c, "alice")
	first, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || first == nil {
		t.Fatal(err)
	}

	if err := c.Join(ctx, testRelease, alice); err != nil {
		t.Fatalf("re-join: %v", err)
	}

	if repo.Attempt(first.AttemptID) == nil {
		t.Error("open attempt must survive a re-join of the same release")
	}
	if err := c.Submit(ctx, first.AttemptID, alice.Identity(), verification.StatusPass, "", nil); err != nil {
		t.Errorf("submit after re-join: %v", err)
	}
}

func TestLastLeaveDoesNotStrandConcurrentJoin(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()

	// Hammer the last-leave teardown against a racing join: a join that
	// returns success must leave the joiner in a discoverable session.
	for i := 0; i < 200; i++ {
		alice := join(t, c, "alice")
		bob := newFakeConn("bob")

		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := c.Join(ctx, testRelease, bob); err != nil {
				t.Errorf("iteration %d: join: %v", i, err)
			}
		}()
		c.Leave(ctx, alice)
		<-done

		if _, err := c.Summary(testRelease); err != nil {
			t.Fatalf("iteration %d: session vanished under a joined tester: %v", i, err)
		}
		c.Leave(ctx, bob)
	}
}

func TestSweepAbandonsStaleConnections(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x") // 50ms window
	ctx := context.Background()

	alice := join(t, c, "alice")
	bob := join(t, c, "bob")

	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	// Bob keeps beating; alice goes silent for two windows.
	deadline := time.Now().Add(120 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.Heartbeat(bob)
		time.Sleep(10 * time.Millisecond)
	}
	c.sweepOnce(ctx)

	if !alice.isClosed() {
		t.Error("silent connection must be closed by the sweep")
	}
	if bob.isClosed() {
		t.Error("heartbeating connection must survive the sweep")
	}

	// Alice's work item came back; bob can claim it with a fresh number.
	got, err := c.RequestWork(ctx, testRelease, bob.Identity())
	if err != nil || got == nil {
		t.Fatalf("bob reclaim after sweep: %v, %v", got, err)
	}
	if got.AttemptNumber != 2 {
		t.Errorf("attempt number = %d, want 2", got.AttemptNumber)
	}
}

func TestJoinSendsDashboard(t *testing.T) {
	c, _ := newTestCoordinator(t, "s1", "s2")
	alice := join(t, c, "alice")

	updates := alice.received(MsgDashboardUpdate)
	if len(updates) != 1 {
		t.Fatalf("joining tester received %d dashboard updates, want 1", len(updates))
	}
	payload := updates[0].Payload.(DashboardPayload)
	if payload.Summary.Total != 2 || payload.Summary.Untested != 2 {
		t.Errorf("unexpected summary on join: %+v", payload.Summary)
	}
}

func TestLastLeaveTearsDownSession(t *testing.T) {
	c, _ := newTestCoordinator(t, "story-x")
	ctx := context.Background()

	alice := join(t, c, "alice")
	c.Leave(ctx, alice)

	if _, err := c.Summary(testRelease); !errors.Is(err, verification.ErrSessionNotFound) {
		t.Errorf("session should be gone after last leave, got %v", err)
	}
}

func TestCloseReleaseForceAbandons(t *testing.T) {
	c, repo := newTestCoordinator(t, "story-x", "story-y")
	ctx := context.Background()

	alice := join(t, c, "alice")
	assignment, err := c.RequestWork(ctx, testRelease, alice.Identity())
	if err != nil || assignment == nil {
		t.Fatal(err)
	}

	if err := c.CloseRelease(ctx, testRelease); err != nil {
		t.Fatal(err)
	}

	if a := repo.Attempt(assignment.AttemptID); a != nil {
		t.Error("open attempt must be discarded at release close")
	}
	if got, err := c.RequestWork(ctx, testRelease, alice.Identity()); err != nil || got != nil {
		t.Errorf("closed release must have no eligible work, got %v, %v", got, err)
	}
}
