package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/runnerr0/webchronicle/internal/config"
	"github.com/runnerr0/webchronicle/internal/ingest"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// Options configures the HTTP and websocket surface.
type Options struct {
	WSPath          string
	ReadLimit       int64
	OriginPatterns  []string
	ShutdownTimeout time.Duration
	Ingest          ingest.Options
}

// OptionsFromConfig maps the loaded configuration onto server options.
func OptionsFromConfig(cfg *config.Config) Options {
	in := ingest.DefaultOptions()
	in.FlushThreshold = cfg.Ingest.FlushThreshold
	in.FlushOnSessionEnd = cfg.Ingest.FlushOnSessionEnd
	in.FlushOnClose = cfg.Ingest.FlushOnClose
	in.DefaultWindowWidth = cfg.Ingest.DefaultWindowWidth
	in.DefaultWindowHeight = cfg.Ingest.DefaultWindowHeight
	in.VisitAttempts = cfg.Ingest.VisitRetries

	return Options{
		WSPath:          cfg.Server.WSPath,
		ReadLimit:       cfg.Server.ReadLimitBytes,
		OriginPatterns:  cfg.Server.OriginPatterns,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		Ingest:          in,
	}
}

// Server accepts extension connections on the websocket endpoint, one
// ingest.Handler per connection, and serves the read-only JSON API. All
// connections share one store.
type Server struct {
	store  storage.Store
	opts   Options
	logger zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	conns   atomic.Int64
}

// New creates a server. Call Shutdown, or cancel the context given to
// Serve, before closing the store.
func New(store storage.Store, opts Options, logger zerolog.Logger) *Server {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		store:   store,
		opts:    opts,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Router configures all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "connections": s.Connections()})
	})
	r.Get(s.opts.WSPath, s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Get("/sessions/{sessionID}/events", s.handleListEvents)
		r.Get("/sites", s.handleListSites)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Connections returns the number of open websocket connections.
func (s *Server) Connections() int64 {
	return s.conns.Load()
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down:
// the listener closes, live websocket loops stop reading and flush their
// buffers, and Serve returns once they are done or the shutdown timeout
// expires.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("ws_path", s.opts.WSPath).
		Msg("listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		s.cancel()
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Int64("connections", s.Connections()).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := errors.Join(srv.Shutdown(shutdownCtx), s.Shutdown(shutdownCtx))
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	return err
}

// Shutdown refuses new websocket connections, stops the live read loops and
// waits for them to flush.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d connections: %w", s.Connections(), ctx.Err())
	}
}

// acquire registers a connection loop unless shutdown has begun.
func (s *Server) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}
