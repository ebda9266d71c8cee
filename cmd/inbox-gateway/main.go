// ABOUTME: Entry point for the inbox-gateway server
// ABOUTME: Wires store, platform adapters, webhook server, agent API and mail poller

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
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/teranga/inbox-gateway/internal/auth"
	"github.com/teranga/inbox-gateway/internal/config"
	"github.com/teranga/inbox-gateway/internal/dispatch"
	"github.com/teranga/inbox-gateway/internal/graph"
	"github.com/teranga/inbox-gateway/internal/ingest"
	"github.com/teranga/inbox-gateway/internal/mailroom"
	"github.com/teranga/inbox-gateway/internal/notify"
	"github.com/teranga/inbox-gateway/internal/platform"
	"github.com/teranga/inbox-gateway/internal/store"
	"github.com/teranga/inbox-gateway/internal/webhook"
)

// version is set by goreleaser at build time.
var version = "dev"

const banner = `
  _       _                                 _
 (_)_ __ | |__   _____  __      __ _  __ _| |_ _____      ____ _ _   _
 | | '_ \| '_ \ / _ \ \/ /____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | |_) | (_) >  <_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|_| |_|_.__/ \___/_/\_\     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: INBOX_CONFIG env var > XDG_CONFIG_HOME/inbox/gateway.yaml > ~/.config/inbox/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "inbox", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: inbox-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  init      Write a starter config file")
		fmt.Println("  health    Check gateway health")
		os.Exit(1)
	}

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting inbox-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Platform adapters share one Graph client
	var graphOpts []graph.Option
	if cfg.Graph.BaseURL != "" {
		graphOpts = append(graphOpts, graph.WithBaseURL(cfg.Graph.BaseURL))
	}
	if cfg.Graph.Version != "" {
		graphOpts = append(graphOpts, graph.WithVersion(cfg.Graph.Version))
	}
	graphClient := graph.NewClient(graphOpts...)

	registry := platform.NewRegistry()
	whatsapp := platform.NewWhatsApp(graphClient)
	instagram := platform.NewInstagram(graphClient)
	registry.RegisterParser(store.PlatformWhatsApp, whatsapp)
	registry.RegisterSender(store.PlatformWhatsApp, whatsapp)
	registry.RegisterParser(store.PlatformInstagram, instagram)
	registry.RegisterSender(store.PlatformInstagram, instagram)
	registry.RegisterSender(store.PlatformEmail, platform.NewEmail())

	var notifier ingest.Notifier
	if cfg.Push.Enabled {
		notifier = notify.NewFanout(st, notify.NewExpoPusher(cfg.Push.Endpoint), logger)
	}

	ingestor := ingest.New(st, notifier, logger)
	dispatcher := dispatch.NewDispatcher(registry, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	webhook.NewServer(registry, st, ingestor, cfg.Webhooks.VerifyToken, cfg.Webhooks.AppSecret, logger).Routes(mux)

	apiMux := http.NewServeMux()
	dispatch.NewAPI(st, dispatcher, logger).Routes(apiMux)
	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	mux.Handle("/api/", auth.HTTPAuthMiddleware(verifier)(apiMux))

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller := mailroom.NewPoller(st, ingestor, cfg.Email.PollInterval, cfg.Email.CycleTimeout, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

const starterConfig = `server:
  http_addr: ":8080"

database:
  path: "data/inbox.db"

auth:
  jwt_secret: "${INBOX_JWT_SECRET}"

webhooks:
  verify_token: "${META_VERIFY_TOKEN}"
  app_secret: "${META_APP_SECRET}"

email:
  poll_interval: "1m"
  cycle_timeout: "45s"

push:
  enabled: true

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	path := getConfigPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("Wrote starter config to %s", path)
	return nil
}

func runHealth(ctx context.Context) error {
	addr := os.Getenv("INBOX_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway unhealthy: status %d", resp.StatusCode)
	}
	color.Green("Gateway healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
