package wiring

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/testdeck/internal/infrastructure/config"
	"github.com/felixgeelhaar/testdeck/pkg/application"
	"github.com/felixgeelhaar/testdeck/pkg/domain"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/domain/verification"
)

func TestBuildWiresTheGraph(t *testing.T) {
	cfg := config.Default()
	cfg.EventLogDir = t.TempDir()

	svc, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if svc.Coordinator == nil || svc.WSServer == nil || svc.Notifier == nil {
		t.Fatal("incomplete service graph")
	}
	if svc.EventLog == nil {
		t.Fatal("event log not created despite configured directory")
	}
	if !svc.Dispatcher.HasHandlers(events.EventTypeDefectCreated) {
		t.Error("webhook notifier not attached to dispatcher")
	}
}

func TestBuildWithoutEventLog(t *testing.T) {
	cfg := config.Default()
	cfg.EventLogDir = ""

	svc, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if svc.EventLog != nil {
		t.Error("event log created without a configured directory")
	}
}

func TestAuditLogRecordsCoordinatorEvents(t *testing.T) {
	cfg := config.Default()
	cfg.EventLogDir = t.TempDir()

	svc, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	release := domain.MustReleaseID("rel-1")
	svc.Repo.SeedRelease(release, []*verification.WorkItem{
		{StoryID: domain.MustStoryID("story-1"), Title: "Story", Priority: 1},
	})

	conn := &noopConn{identity: domain.MustTesterID("alice")}
	if err := svc.Coordinator.Join(context.Background(), release, conn); err != nil {
		t.Fatal(err)
	}

	logged, err := svc.EventLog.LoadBySession("rel-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) == 0 {
		t.Fatal("join produced no audit events")
	}
	if logged[0].Type != events.EventTypeTesterJoined {
		t.Errorf("first audit event = %s, want tester.joined", logged[0].Type)
	}
}

type noopConn struct {
	identity domain.TesterID
}

func (c *noopConn) Identity() domain.TesterID    { return c.identity }
func (c *noopConn) Send(msg application.Message) {}
func (c *noopConn) Close(reason string)          {}
