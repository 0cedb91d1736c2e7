// Package wiring assembles the coordinator, its persistence collaborators
// and the transport into a runnable service.
package wiring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/testdeck/internal/infrastructure/config"
	"github.com/felixgeelhaar/testdeck/internal/infrastructure/sse"
	"github.com/felixgeelhaar/testdeck/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/testdeck/internal/infrastructure/ws"
	"github.com/felixgeelhaar/testdeck/pkg/application"
	"github.com/felixgeelhaar/testdeck/pkg/domain/events"
	"github.com/felixgeelhaar/testdeck/pkg/storage"
)

// Services exposes the wired service graph.
type Services struct {
	Config      config.Config
	Dispatcher  *events.Dispatcher
	Repo        *storage.MemoryRepository
	EventLog    *storage.EventLog
	Notifier    *webhook.Notifier
	Coordinator *application.Coordinator
	WSServer    *ws.Server
	SSE         *sse.Handler
}

// Build constructs the service graph from a configuration.
func Build(cfg config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dispatcher := events.NewDispatcher()
	// One broken subscriber must not starve the others.
	dispatcher.ContinueOnError = true

	var eventLog *storage.EventLog
	if cfg.EventLogDir != "" {
		var err error
		eventLog, err = storage.NewEventLog(cfg.EventLogDir)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		dispatcher.RegisterWildcard("audit-log", func(ctx context.Context, event events.DomainEvent) error {
			return eventLog.Append(event)
		})
	}

	notifier := webhook.NewNotifier(cfg.Webhooks, webhook.NewDeadLetterStore(cfg.DeadLetterPath))
	notifier.Attach(dispatcher)

	repo := storage.NewMemoryRepository()
	coordinator := application.NewCoordinator(repo, dispatcher,
		application.WithLogger(logger),
		application.WithLivenessWindow(cfg.LivenessWindow),
	)

	wsServer := ws.NewServer(coordinator,
		ws.WithIdentityHeader(cfg.IdentityHeader),
		ws.WithLogger(logger),
	)
	sseHandler := sse.NewHandler(dispatcher)

	return &Services{
		Config:      cfg,
		Dispatcher:  dispatcher,
		Repo:        repo,
		EventLog:    eventLog,
		Notifier:    notifier,
		Coordinator: coordinator,
		WSServer:    wsServer,
		SSE:         sseHandler,
	}, nil
}
