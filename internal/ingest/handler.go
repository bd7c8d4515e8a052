package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/runnerr0/webchronicle/internal/logging"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// Session state actions.
const (
	ActionStart = "start"
	ActionEnd   = "end"
)

// ErrNoSession is reported when an event arrives before any session start.
var ErrNoSession = errors.New("no session started")

// Gateway is the persistence surface the ingest engine writes through.
type Gateway interface {
	BatchWriter
	VisitRecorder
	CreateSession(ctx context.Context, session *storage.Session) error
	EndSession(ctx context.Context, id string, end time.Time) error
	ReopenSession(ctx context.Context, id string) error
	UpdateSessionWindow(ctx context.Context, id string, width, height int) error
}

// Notifier delivers outbound frames to the connected client.
type Notifier interface {
	Notify(ctx context.Context, f Frame) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, f Frame) error

// Notify calls fn.
func (fn NotifierFunc) Notify(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Options tunes a Handler.
type Options struct {
	FlushThreshold      int
	FlushOnSessionEnd   bool
	FlushOnClose        bool
	DefaultWindowWidth  int
	DefaultWindowHeight int
	VisitAttempts       int
	Clock               clock.Clock
}

// DefaultOptions returns the options used by the server unless configured
// otherwise.
func DefaultOptions() Options {
	return Options{
		FlushThreshold:      DefaultFlushThreshold,
		FlushOnSessionEnd:   true,
		FlushOnClose:        true,
		DefaultWindowWidth:  480,
		DefaultWindowHeight: 360,
		VisitAttempts:       DefaultVisitAttempts,
		Clock:               clock.New(),
	}
}

// Handler is the protocol state machine for one client connection. It
// tracks the connection's current session, buffers interactions for it and
// feeds navigations into the shared aggregator. A Handler is driven by a
// single read loop and is not safe for concurrent use.
type Handler struct {
	gateway Gateway
	notify  Notifier
	buffer  *Buffer
	visits  *Aggregator
	clock   clock.Clock
	opts    Options

	current string
}

// NewHandler returns a handler with no active session.
func NewHandler(gateway Gateway, notify Notifier, opts Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if notify == nil {
		notify = NotifierFunc(func(context.Context, Frame) error { return nil })
	}
	return &Handler{
		gateway: gateway,
		notify:  notify,
		buffer:  NewBuffer(gateway, opts.FlushThreshold),
		visits:  NewAggregator(gateway, opts.VisitAttempts),
		clock:   opts.Clock,
		opts:    opts,
	}
}

// CurrentSession returns the active session id, or "" when idle.
func (h *Handler) CurrentSession() string {
	return h.current
}

// Pending returns the number of buffered, unwritten interactions.
func (h *Handler) Pending() int {
	return h.buffer.Len()
}

// Handle processes one inbound frame. Malformed or out-of-order frames are
// reported to the client or logged and never fail the connection; the
// returned error is always a persistence failure.
func (h *Handler) Handle(ctx context.Context, raw []byte) error {
	log := logging.FromContext(ctx)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(raw)).Msg("rejected frame")
		h.reply(ctx, ErrorFrame(MsgInvalidFormat))
		return nil
	}

	switch env.Type {
	case TypeSessionStateChanged:
		return h.handleSessionState(ctx, env.Message)
	case TypeEventLogged, TypeTabEvent:
		return h.handleEvent(h.sessionContext(ctx), env.Type, env.Message)
	case TypeWindowData:
		return h.handleWindow(h.sessionContext(ctx), env.Message)
	case TypeUpdateBlacklist:
		log.Debug().Msg("blacklist update received; filtering happens client side")
		return nil
	default:
		log.Info().Str("type", env.Type).Msg("ignoring unknown message type")
		return nil
	}
}

// sessionContext tags the logger with the active session, if any.
func (h *Handler) sessionContext(ctx context.Context) context.Context {
	if h.current == "" {
		return ctx
	}
	return logging.WithSessionID(ctx, h.current)
}

// Close flushes buffered interactions when the connection goes away. The
// active session is left open so a reconnecting client can resume it.
func (h *Handler) Close(ctx context.Context) error {
	if !h.opts.FlushOnClose {
		return nil
	}
	if n := h.buffer.Len(); n > 0 {
		logging.FromContext(ctx).Debug().Int("pending", n).Msg("flushing on close")
	}
	return h.buffer.Flush(ctx)
}

func (h *Handler) handleSessionState(ctx context.Context, raw json.RawMessage) error {
	log := logging.FromContext(ctx)

	var msg sessionStateMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Msg("dropping malformed session state message")
		return nil
	}

	switch msg.Action {
	case ActionStart:
		return h.startSession(ctx, msg)
	case ActionEnd:
		return h.endSession(ctx, msg)
	default:
		log.Warn().Str("action", msg.Action).Msg("unknown session action")
		return nil
	}
}

func (h *Handler) startSession(ctx context.Context, msg sessionStateMessage) error {
	log := logging.FromContext(ctx)

	if msg.SessionID == "" {
		log.Warn().Msg("session start without sessionId")
		return nil
	}
	if h.current == msg.SessionID {
		log.Debug().Str("session_id", msg.SessionID).Msg("session already active")
		return nil
	}
	if h.current != "" {
		log.Info().
			Str("previous", h.current).
			Str("session_id", msg.SessionID).
			Msg("session started while another is active")
		if err := h.buffer.Flush(ctx); err != nil {
			return err
		}
	}

	session := &storage.Session{ID: msg.SessionID, StartTime: h.timestamp(msg.Timestamp)}
	err := h.gateway.CreateSession(ctx, session)
	switch {
	case errors.Is(err, storage.ErrConflict):
		if err := h.gateway.ReopenSession(ctx, msg.SessionID); err != nil {
			return fmt.Errorf("resume session %s: %w", msg.SessionID, err)
		}
		log.Info().Str("session_id", msg.SessionID).Msg("resuming existing session")
	case err != nil:
		return fmt.Errorf("start session %s: %w", msg.SessionID, err)
	default:
		log.Info().Str("session_id", msg.SessionID).Msg("session started")
	}

	h.current = msg.SessionID
	return nil
}

func (h *Handler) endSession(ctx context.Context, msg sessionStateMessage) error {
	log := logging.FromContext(ctx)

	if h.current == "" {
		log.Info().Str("session_id", msg.SessionID).Msg("no active session to end")
		return nil
	}
	if msg.SessionID != "" && msg.SessionID != h.current {
		log.Warn().
			Str("session_id", h.current).
			Str("requested", msg.SessionID).
			Msg("end names a different session; ending the active one")
	}

	if h.opts.FlushOnSessionEnd {
		if err := h.buffer.Flush(ctx); err != nil {
			return err
		}
	}

	id := h.current
	err := h.gateway.EndSession(ctx, id, h.timestamp(msg.Timestamp))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn().Str("session_id", id).Msg("active session no longer stored")
	case err != nil:
		return fmt.Errorf("end session %s: %w", id, err)
	default:
		log.Info().Str("session_id", id).Msg("session ended")
	}

	h.current = ""
	return nil
}

func (h *Handler) handleEvent(ctx context.Context, typ string, raw json.RawMessage) error {
	log := logging.FromContext(ctx)

	if h.current == "" {
		log.Warn().Str("type", typ).Msg(ErrNoSession.Error())
		h.reply(ctx, ErrorFrame(MsgNoSession))
		return nil
	}

	var msg eventMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Str("type", typ).Msg("dropping malformed event message")
		return nil
	}
	if msg.Event == "" || !msg.hasDetails() {
		log.Warn().Str("type", typ).Str("event", msg.Event).Msg("event missing name or details")
		return nil
	}

	ts := parseClientTime(msg.Timestamp)
	if err := h.buffer.Add(ctx, msg.Event, msg.Details, ts, h.current); err != nil {
		return err
	}

	if typ != TypeTabEvent {
		return nil
	}
	url, ok := visitURL(msg.Details)
	if !ok {
		return nil
	}
	at := h.clock.Now().UTC()
	if ts != nil {
		at = *ts
	}
	site, err := h.visits.RecordVisit(ctx, url, h.current, at)
	if err != nil {
		return err
	}
	log.Debug().Str("url", site.URL).Int64("visit_count", site.VisitCount).Msg("visit recorded")
	return nil
}

func (h *Handler) handleWindow(ctx context.Context, raw json.RawMessage) error {
	log := logging.FromContext(ctx)

	var msg windowMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Warn().Err(err).Msg("dropping malformed window data")
		return nil
	}
	if h.current == "" {
		log.Warn().Msg("window data without active session")
		return nil
	}

	width := windowDimension(msg.Width, h.opts.DefaultWindowWidth)
	height := windowDimension(msg.Height, h.opts.DefaultWindowHeight)

	err := h.gateway.UpdateSessionWindow(ctx, h.current, width, height)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Warn().Msg("active session no longer stored")
		return nil
	case err != nil:
		return fmt.Errorf("update window for %s: %w", h.current, err)
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, f Frame) {
	if err := h.notify.Notify(ctx, f); err != nil {
		logging.FromContext(ctx).Debug().Err(err).Str("frame", f.Type).Msg("reply not delivered")
	}
}

func (h *Handler) timestamp(raw json.RawMessage) time.Time {
	if t := parseClientTime(raw); t != nil {
		return *t
	}
	return h.clock.Now().UTC()
}
