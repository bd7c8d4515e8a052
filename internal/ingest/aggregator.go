package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/webchronicle/internal/logging"
	"github.com/runnerr0/webchronicle/internal/storage"
)

// DefaultVisitAttempts bounds how often a visit is retried after losing an
// insert race on the same URL.
const DefaultVisitAttempts = 3

// VisitRecorder upserts a visited site and links it to a session.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, url, sessionID string, at time.Time) (*storage.VisitedSite, error)
}

// Aggregator maintains per-URL visit counts across all connections.
type Aggregator struct {
	store    VisitRecorder
	attempts int
}

// NewAggregator returns an aggregator that retries conflicting inserts up
// to attempts times.
func NewAggregator(store VisitRecorder, attempts int) *Aggregator {
	if attempts < 1 {
		attempts = DefaultVisitAttempts
	}
	return &Aggregator{store: store, attempts: attempts}
}

// RecordVisit counts one visit to url at the given time and associates the
// site with sessionID. When another connection creates the same site
// concurrently the store reports storage.ErrConflict and the visit is
// retried, which then increments the row the other writer created.
func (a *Aggregator) RecordVisit(ctx context.Context, url, sessionID string, at time.Time) (*storage.VisitedSite, error) {
	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		site, err := a.store.RecordVisit(ctx, url, sessionID, at)
		if err == nil {
			return site, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		lastErr = err
		log.Debug().
			Str("url", url).
			Int("attempt", attempt).
			Msg("visited site created concurrently, retrying")

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("record visit %s after %d attempts: %w", url, a.attempts, lastErr)
}
