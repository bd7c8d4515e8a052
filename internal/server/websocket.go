package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/runnerr0/webchronicle/internal/ingest"
	"github.com/runnerr0/webchronicle/internal/logging"
)

const (
	writeTimeout = 5 * time.Second
	flushTimeout = 5 * time.Second
)

// wsNotifier sends outbound frames as JSON text messages.
type wsNotifier struct {
	conn *websocket.Conn
}

func (n *wsNotifier) Notify(ctx context.Context, f ingest.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, n.conn, f)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.acquire() {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.opts.OriginPatterns,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	if s.opts.ReadLimit > 0 {
		conn.SetReadLimit(s.opts.ReadLimit)
	}

	// Hijacked connections are not cancelled by http.Server.Shutdown, so
	// the read loop also follows the server's own lifetime.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	ctx = logging.WithContext(ctx, s.logger)
	ctx = logging.WithComponent(ctx, "ws")
	ctx = logging.WithConnID(ctx, uuid.NewString())
	log := logging.FromContext(ctx)

	active := s.conns.Add(1)
	defer s.conns.Add(-1)
	log.Info().Str("remote", r.RemoteAddr).Int64("connections", active).Msg("client connected")

	notifier := &wsNotifier{conn: conn}
	handler := ingest.NewHandler(s.store, notifier, s.opts.Ingest)
	status, reason := s.readLoop(ctx, conn, handler, notifier)

	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	if err := handler.Close(flushCtx); err != nil {
		log.Error().Err(err).Int("pending", handler.Pending()).Msg("flush on close failed, buffered interactions lost")
	}
	flushCancel()

	_ = conn.Close(status, reason)
	log.Info().
		Int("status", int(status)).
		Str("session_id", handler.CurrentSession()).
		Msg("client disconnected")
}

// readLoop feeds frames to the handler until the client goes away, the
// server shuts down or a write to the store fails. It returns the close
// status to send.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, handler *ingest.Handler, notifier ingest.Notifier) (websocket.StatusCode, string) {
	log := logging.FromContext(ctx)

	if err := notifier.Notify(ctx, ingest.ConnectedFrame()); err != nil {
		log.Warn().Err(err).Msg("greeting not delivered")
		return websocket.StatusInternalError, "greeting failed"
	}

	// Store writes in flight finish even when shutdown interrupts the read.
	handleCtx := context.WithoutCancel(ctx)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch {
			case websocket.CloseStatus(err) != -1:
				log.Debug().Int("status", int(websocket.CloseStatus(err))).Msg("client closed connection")
			case s.baseCtx.Err() != nil:
				return websocket.StatusGoingAway, "server shutting down"
			default:
				log.Debug().Err(err).Msg("read failed")
			}
			return websocket.StatusNormalClosure, ""
		}

		if err := handler.Handle(handleCtx, data); err != nil {
			log.Error().Err(err).Msg("persistence failure, closing connection")
			return websocket.StatusInternalError, "persistence failure"
		}
	}
}
