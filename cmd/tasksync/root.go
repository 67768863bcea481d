package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hyperengineering/tasksync/internal/api"
	"github.com/hyperengineering/tasksync/internal/auth"
	"github.com/hyperengineering/tasksync/internal/config"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/kind"
	"github.com/hyperengineering/tasksync/internal/kind/project"
	"github.com/hyperengineering/tasksync/internal/kind/task"
	"github.com/hyperengineering/tasksync/internal/notify"
	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

// devSecret signs tokens when TASKSYNC_DEV_MODE is on and no secret is set.
const devSecret = "tasksync-dev-secret-do-not-use-in-production"

// configPathOverride is set by --config.
var configPathOverride string

var rootCmd = &cobra.Command{
	Use:          "tasksync",
	Short:        "tasksync - offline-first task sync server",
	SilenceUsage: true,
	RunE:         run,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync server (default)",
	Args:  cobra.NoArgs,
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathOverride, "config", "",
		"Config file path (overrides TASKSYNC_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(conflictsCmd)
}

// loadConfig honors --config, falling back to the default lookup.
func loadConfig() (*config.Config, error) {
	if configPathOverride != "" {
		return config.LoadFromFile(configPathOverride)
	}
	return config.Load()
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logOut := logOutput(cfg.Log)
	defer logOut.Close()
	slog.SetDefault(newLogger(logOut, cfg.Log))
	slog.Info("logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format, "file", cfg.Log.File)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Resolve identity mode
	authn, err := newAuthenticator(cfg.Auth)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("authenticator initialized", "mode", cfg.Auth.Mode)

	// 6. Initialize engine and HTTP router
	router, closeStreams := newRouter(cfg, db, authn)
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	// 8. Workers
	var wg sync.WaitGroup
	retention := worker.NewRetentionCoordinator(db,
		cfg.Worker.RetentionInterval.Std(),
		cfg.Worker.ConflictRetention.Std())
	startWorker(ctx, &wg, "retention", retention.Run)

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	// 11a. End change streams, then stop HTTP server (drains in-flight requests)
	closeStreams()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close store
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// newRouter wires the default entity kinds, the engine and the API. The
// returned func ends open change streams.
func newRouter(cfg *config.Config, s store.Store, authn auth.Authenticator) (http.Handler, func()) {
	registry := kind.NewRegistry(task.New(), project.New())
	settings := api.Settings{
		MaxOperations:  cfg.Sync.MaxOperations,
		IdempotencyTTL: cfg.Sync.IdempotencyTTL.Std(),
		Version:        Version,
	}

	if cfg.Sync.MaxStreamsPerOwner == 0 {
		eng := engine.New(s, registry)
		return api.NewRouter(api.NewHandler(s, eng, settings), authn), func() {}
	}

	hub := notify.NewHub(cfg.Sync.MaxStreamsPerOwner)
	eng := engine.New(s, registry, engine.WithObserver(engine.Observers{
		engine.NewLogObserver(slog.Default()),
		hub,
	}))
	handler := api.NewHandler(s, eng, settings, api.WithHub(hub))
	return api.NewRouter(handler, authn), hub.Close
}

// newAuthenticator builds the identity resolver for the configured mode.
func newAuthenticator(cfg config.AuthConfig) (auth.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthModeHeader:
		return auth.NewHeader(cfg.UserHeader), nil
	case config.AuthModeJWT:
		secret, err := jwtSecret(cfg)
		if err != nil {
			return nil, err
		}
		return auth.NewJWT(secret), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// jwtSecret returns the configured secret, or devSecret in dev mode.
func jwtSecret(cfg config.AuthConfig) (string, error) {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret, nil
	}
	if config.DevMode() {
		slog.Warn("TASKSYNC_JWT_SECRET not set; using the built-in dev secret")
		return devSecret, nil
	}
	return "", fmt.Errorf("TASKSYNC_JWT_SECRET is required")
}

// logOutput returns stdout, or a rotating file writer when log.file is set.
func logOutput(cfg config.LogConfig) io.WriteCloser {
	if cfg.File == "" {
		return nopCloser{os.Stdout}
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
