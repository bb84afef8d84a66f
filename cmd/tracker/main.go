package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/Guizzs26/go-track/internal/config"
	"github.com/Guizzs26/go-track/internal/tracker"
	"github.com/Guizzs26/go-track/pkg/infra"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// line is one NDJSON instruction read from stdin.
type line struct {
	Action     string         `json:"action"`
	Type       string         `json:"type"`
	UserID     string         `json:"userId"`
	LinkID     string         `json:"linkId"`
	Attributes map[string]any `json:"attributes"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("FATAL: Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go startObservabilityServer(ctx, cfg.MetricsAddr, logger)
	}

	engine, err := tracker.New(cfg, tracker.WithEnvironment(hostEnvironment()), tracker.WithLogger(logger))
	if err != nil {
		logger.Error("FATAL: Failed to create tracker", "error", err)
		os.Exit(1)
	}

	if err := engine.Init(ctx); err != nil {
		logger.Error("FATAL: Failed to initialize tracker", "error", err)
		os.Exit(1)
	}

	logger.Info("Tracker is running. Reading events from stdin...", "session_id", engine.SessionID())
	consume(ctx, os.Stdin, engine, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg, len(engine.Pending())))
	defer cancel()
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warn("Shutdown finished with pending deliveries", "error", err)
	}
	logger.Info("Tracker shut down")
}

// shutdownBudget covers one final batch delivered record by record, each
// record using every attempt and every retry sleep.
func shutdownBudget(cfg *config.Config, pending int) time.Duration {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perRecord := timeout * time.Duration(cfg.MaxRetries+1)
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		perRecord += infra.ExponentialDelay(cfg.RetryDelay, attempt)
	}
	return perRecord*time.Duration(max(pending, cfg.BatchSize, 1)) + 5*time.Second
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("TRACK_CONFIG_FILE"); path != "" {
		return config.LoadFile(path)
	}
	return config.Load(), nil
}

// consume returns on EOF or when ctx is cancelled.
func consume(ctx context.Context, r io.Reader, engine *tracker.Engine, logger *slog.Logger) {
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			b := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- b:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Error("Failed to read stdin", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
			return
		case b, ok := <-lines:
			if !ok {
				return
			}
			if err := handle(ctx, engine, b); err != nil {
				logger.Warn("Skipping input line", "error", err)
			}
		}
	}
}

func handle(ctx context.Context, engine *tracker.Engine, raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var in line
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}

	ev := tracker.Event{Type: in.Type, UserID: in.UserID, LinkID: in.LinkID, Attributes: in.Attributes}
	switch in.Action {
	case "", "track":
		if in.Type == "" {
			return errors.New("missing event type")
		}
		engine.Track(ev)
	case "send":
		return engine.SendImmediately(ctx, ev)
	case "set_user":
		engine.SetUserID(in.UserID)
	case "clear_user":
		engine.ClearUserID()
	case "logout":
		engine.TrackLogout()
	case "flush":
		engine.Flush()
	default:
		return errors.New("unknown action " + in.Action)
	}
	return nil
}

func hostEnvironment() tracker.StaticEnvironment {
	host, _ := os.Hostname()
	lang, _, _ := strings.Cut(os.Getenv("LANG"), ".")
	return tracker.StaticEnvironment{
		Host:  host,
		Agent: "go-track/" + runtime.Version(),
		Lang:  strings.ReplaceAll(lang, "_", "-"),
		TZ:    time.Local.String(),
		OS:    runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func startObservabilityServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("TRACKER ALIVE"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("Observability server online", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
