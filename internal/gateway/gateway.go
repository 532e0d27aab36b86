// ABOUTME: Gateway orchestrator wiring store, hub, AI relay, and HTTP server
// ABOUTME: Manages startup, route registration, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/lumeno/desk-gateway/internal/auth"
	"github.com/lumeno/desk-gateway/internal/bot"
	"github.com/lumeno/desk-gateway/internal/chat"
	"github.com/lumeno/desk-gateway/internal/config"
	"github.com/lumeno/desk-gateway/internal/hub"
	"github.com/lumeno/desk-gateway/internal/store"
)

// Gateway orchestrates the desk-gateway server components: the SQLite store,
// the event hub (optionally bridged over AMQP), the AI relay, the chat
// service, and the HTTP API.
type Gateway struct {
	config     *config.Config
	store      store.Store
	hub        *hub.Broadcaster
	bridge     *hub.Bridge
	chat       *chat.Service
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the store from config, honoring the DESK_DB_PATH
// environment override.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("DESK_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	broadcaster := hub.NewBroadcaster(logger)

	var bridge *hub.Bridge
	if cfg.Broker.Enabled {
		bridge, err = hub.NewBridge(ctx, cfg.Broker.URL, cfg.Broker.Exchange, broadcaster, logger)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connecting event bridge: %w", err)
		}
		logger.Info("AMQP event bridge enabled", "exchange", cfg.Broker.Exchange)
	}

	var responder chat.Responder
	if cfg.AI.APIKey != "" {
		temperature := float64(config.DefaultAITemperature)
		if cfg.AI.Temperature != nil {
			temperature = *cfg.AI.Temperature
		}
		generator := bot.NewOpenAIGenerator(cfg.AI.BaseURL, cfg.AI.APIKey, bot.GeneratorOptions{
			Model:       cfg.AI.Model,
			MaxTokens:   int64(cfg.AI.MaxTokens),
			Temperature: temperature,
		})
		responder = bot.NewRelay(s, broadcaster, generator, cfg.AI.HistoryWindow, logger)
	} else {
		logger.Warn("AI responder disabled - no ai.api_key configured")
	}

	chatService := chat.New(s, broadcaster, responder, logger)

	gw := &Gateway{
		config: cfg,
		store:  s,
		hub:    broadcaster,
		bridge: bridge,
		chat:   chatService,
		logger: logger.With("component", "gateway"),
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	gw.registerAPIRoutes(mux, verifier)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerAPIRoutes registers the authenticated /api routes on the mux.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	authMiddleware := auth.HTTPMiddleware(verifier)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	handle("POST /api/conversations", g.handleCreateConversation)
	handle("GET /api/conversations", g.handleListConversations)
	handle("GET /api/conversations/{id}", g.handleGetConversation)
	handle("POST /api/conversations/{id}/messages", g.handleSendMessage)
	handle("POST /api/conversations/{id}/escalate", g.handleEscalate)
	handle("POST /api/conversations/{id}/deescalate", g.handleDeescalate)
	handle("POST /api/conversations/{id}/accept", g.handleAccept)
	handle("POST /api/conversations/{id}/release", g.handleRelease)
	handle("POST /api/conversations/{id}/close", g.handleClose)
	handle("GET /api/agent/pending", g.handlePending)
	handle("GET /api/events", g.handleEvents)
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	if g.bridge != nil {
		if err := g.bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bridge close: %w", err))
		}
	}
	g.hub.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
