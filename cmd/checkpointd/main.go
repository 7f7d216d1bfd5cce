package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/checkpoint/internal/app"
	"github.com/felixgeelhaar/checkpoint/internal/config"
	"github.com/felixgeelhaar/checkpoint/internal/daemon"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFileName = "checkpointd.pid"

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	dir, err := config.EnsureCheckpointDir()
	if err != nil {
		return fmt.Errorf("ensure checkpoint dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := setupLogging(dir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()
	logger := slog.Default()

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, app.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer a.Close()

	// Lessons next to the working directory win over ~/.checkpoint/lessons
	lessonsPath := cfg.Lessons.Path
	if lessonsPath == "" {
		lessonsPath = "./lessons"
		if _, err := os.Stat(lessonsPath); os.IsNotExist(err) {
			lessonsPath = filepath.Join(dir, "lessons")
		}
	}
	if _, err := a.ImportLessons(ctx, lessonsPath); err != nil {
		return fmt.Errorf("import lessons: %w", err)
	}

	srvCfg := daemon.ServerConfig{
		Config:   cfg,
		Lessons:  a.Lessons,
		Logger:   logger,
		Version:  Version,
		Progress: a.Progress,
	}
	// Typed nils must not reach the server's optional interfaces
	if a.Tally != nil {
		srvCfg.Tally = a.Tally
	}
	if a.Events != nil {
		srvCfg.Events = a.Events
	}

	server, err := daemon.NewServer(srvCfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received signal, shutting down", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("daemon stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
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

// setupLogging writes JSON to the log file and text to stderr for foreground runs
func setupLogging(dir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(dir, "logs", "checkpointd.log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, opts),
			slog.NewTextHandler(os.Stderr, opts),
		},
	}))

	return logFile, nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
