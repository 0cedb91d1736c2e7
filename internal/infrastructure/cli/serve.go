package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/testdeck/internal/infrastructure/config"
	"github.com/felixgeelhaar/testdeck/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/testdeck/pkg/storage"
)

var (
	serveConfigPath   string
	serveReleaseFiles []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session coordinator",
	Long: `Serve starts the WebSocket endpoint testers connect to, the liveness
sweep, the audit log and the webhook notifier. Release definitions given
with --release are loaded into the work pool at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		services, err := wiring.Build(cfg, logger)
		if err != nil {
			return err
		}

		for _, path := range serveReleaseFiles {
			release, count, err := storage.LoadReleaseFile(services.Repo, path)
			if err != nil {
				return fmt.Errorf("load release %s: %w", path, err)
			}
			logger.Info("release loaded", "release", release, "stories", count, "file", path)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go services.Coordinator.RunSweep(ctx)
		go func() {
			if err := config.WatchWebhooks(ctx, serveConfigPath, services.Notifier.SetEndpoints); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("config watch stopped", "error", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/ws", services.WSServer)
		mux.Handle("/events", services.SSE)
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		logger.Info("coordinator listening", "addr", cfg.Listen, "endpoint", "/ws")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "testdeck.yaml", "Path to the configuration file")
	serveCmd.Flags().StringSliceVarP(&serveReleaseFiles, "release", "r", nil, "Release definition files to load at startup")
	RootCmd.AddCommand(serveCmd)
}
