package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed-width UTC with millisecond precision so that lexical
// order of the stored text equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store defines the interface for webchronicle data operations.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	EndSession(ctx context.Context, id string, end time.Time) error
	ReopenSession(ctx context.Context, id string) error
	UpdateSessionWindow(ctx context.Context, id string, width, height int) error
	InsertInteractions(ctx context.Context, batch []Interaction) error
	RecordVisit(ctx context.Context, url, sessionID string, at time.Time) (*VisitedSite, error)
	GetVisitedSite(ctx context.Context, url string) (*VisitedSite, error)
	ListSessions(ctx context.Context, query SessionQuery) ([]Session, error)
	ListInteractions(ctx context.Context, sessionID string) ([]Interaction, error)
	ListVisitedSites(ctx context.Context, limit int) ([]VisitedSite, error)
	CountPrunable(ctx context.Context, olderThan time.Time) (int64, error)
	PruneSessions(ctx context.Context, olderThan time.Time) (int64, error)
	PurgeAll(ctx context.Context) error
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	insertSession     *sql.Stmt
	getSession        *sql.Stmt
	endSession        *sql.Stmt
	reopenSession     *sql.Stmt
	updateWindow      *sql.Stmt
	insertInteraction *sql.Stmt
	getSite           *sql.Stmt
}

var _ Store = (*SQLiteStore)(nil)

const (
	sessionColumns = `id, start_time, end_time, window_width, window_height`
	siteColumns    = `id, url, visit_count, first_visit, last_visit`
)

// NewSQLiteStore creates a new SQLiteStore from an already-opened and migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, start_time, end_time, window_width, window_height)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getSession, err = s.db.Prepare(`SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`)
	if err != nil {
		return err
	}

	s.endSession, err = s.db.Prepare(`UPDATE sessions SET end_time = ? WHERE id = ?`)
	if err != nil {
		return err
	}

	s.reopenSession, err = s.db.Prepare(`UPDATE sessions SET end_time = NULL WHERE id = ?`)
	if err != nil {
		return err
	}

	s.updateWindow, err = s.db.Prepare(`
		UPDATE sessions SET window_width = ?, window_height = ? WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.insertInteraction, err = s.db.Prepare(`
		INSERT INTO interactions (type, details, time, session_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getSite, err = s.db.Prepare(`SELECT ` + siteColumns + ` FROM visited_sites WHERE url = ?`)
	if err != nil {
		return err
	}

	return nil
}

// formatTime renders t in the storage layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess          Session
		start         string
		end           sql.NullString
		width, height sql.NullInt64
	)
	if err := row.Scan(&sess.ID, &start, &end, &width, &height); err != nil {
		return nil, err
	}

	var err error
	if sess.StartTime, err = parseTimestamp(start); err != nil {
		return nil, fmt.Errorf("session %s start_time: %w", sess.ID, err)
	}
	if end.Valid {
		t, err := parseTimestamp(end.String)
		if err != nil {
			return nil, fmt.Errorf("session %s end_time: %w", sess.ID, err)
		}
		sess.EndTime = &t
	}
	if width.Valid {
		w := int(width.Int64)
		sess.WindowWidth = &w
	}
	if height.Valid {
		h := int(height.Int64)
		sess.WindowHeight = &h
	}
	return &sess, nil
}

func scanSite(row rowScanner) (*VisitedSite, error) {
	var (
		site        VisitedSite
		first, last string
	)
	if err := row.Scan(&site.ID, &site.URL, &site.VisitCount, &first, &last); err != nil {
		return nil, err
	}
	var err error
	if site.FirstVisit, err = parseTimestamp(first); err != nil {
		return nil, fmt.Errorf("site %s first_visit: %w", site.URL, err)
	}
	if site.LastVisit, err = parseTimestamp(last); err != nil {
		return nil, fmt.Errorf("site %s last_visit: %w", site.URL, err)
	}
	return &site, nil
}

// CreateSession inserts a new session row. An existing id yields ErrConflict.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	var end any
	if session.EndTime != nil {
		end = formatTime(*session.EndTime)
	}
	var width, height any
	if session.WindowWidth != nil {
		width = *session.WindowWidth
	}
	if session.WindowHeight != nil {
		height = *session.WindowHeight
	}

	_, err := s.insertSession.ExecContext(ctx,
		session.ID, formatTime(session.StartTime), end, width, height,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", session.ID, ErrConflict)
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a single session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.getSession.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the end time of a session.
func (s *SQLiteStore) EndSession(ctx context.Context, id string, end time.Time) error {
	res, err := s.endSession.ExecContext(ctx, formatTime(end), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return expectOneRow(res, "session", id)
}

// ReopenSession clears the end time of a stored session so it counts as
// open again.
func (s *SQLiteStore) ReopenSession(ctx context.Context, id string) error {
	res, err := s.reopenSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("reopen session: %w", err)
	}
	return expectOneRow(res, "session", id)
}

// UpdateSessionWindow records the last known viewport of a session.
func (s *SQLiteStore) UpdateSessionWindow(ctx context.Context, id string, width, height int) error {
	res, err := s.updateWindow.ExecContext(ctx, width, height, id)
	if err != nil {
		return fmt.Errorf("update session window: %w", err)
	}
	return expectOneRow(res, "session", id)
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// InsertInteractions writes a batch of interactions in a single
// transaction; either every record is committed or none is. Generated IDs
// are written back into batch.
func (s *SQLiteStore) InsertInteractions(ctx context.Context, batch []Interaction) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.insertInteraction)
	for i := range batch {
		in := &batch[i]

		var details any
		if len(in.Details) > 0 {
			details = string(in.Details)
		}
		var ts any
		if in.Time != nil {
			ts = formatTime(*in.Time)
		}

		res, err := stmt.ExecContext(ctx, in.Type, details, ts, in.SessionID)
		if err != nil {
			return fmt.Errorf("insert interaction %d of %d: %w", i+1, len(batch), err)
		}
		if id, err := res.LastInsertId(); err == nil {
			in.ID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit interactions: %w", err)
	}
	return nil
}

// RecordVisit counts one visit to url and links the site to sessionID.
//
// The site row is updated by its natural key first; only when no row exists
// is a new one inserted with visit_count = 1 and first_visit = last_visit =
// at. If a concurrent writer inserted the same url between the two steps the
// insert fails on the UNIQUE constraint and ErrConflict is returned with
// nothing committed, so the caller can retry and take the update path.
// last_visit is set to at even when at is older than the stored value.
func (s *SQLiteStore) RecordVisit(ctx context.Context, url, sessionID string, at time.Time) (*VisitedSite, error) {
	ts := formatTime(at)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE visited_sites SET visit_count = visit_count + 1, last_visit = ? WHERE url = ?`,
		ts, url,
	)
	if err != nil {
		return nil, fmt.Errorf("update visited site: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if n == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO visited_sites (url, visit_count, first_visit, last_visit) VALUES (?, 1, ?, ?)`,
			url, ts, ts,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("visited site %s: %w", url, ErrConflict)
			}
			return nil, fmt.Errorf("insert visited site: %w", err)
		}
	}

	site, err := scanSite(tx.StmtContext(ctx, s.getSite).QueryRowContext(ctx, url))
	if err != nil {
		return nil, fmt.Errorf("reload visited site: %w", err)
	}

	// The association carries no attributes; a repeat visit in the same
	// session must not add a second row.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO site_sessions (site_id, session_id) VALUES (?, ?)`,
		site.ID, sessionID,
	); err != nil {
		return nil, fmt.Errorf("link site to session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit visit: %w", err)
	}
	return site, nil
}

// GetVisitedSite retrieves a visited site by its URL.
func (s *SQLiteStore) GetVisitedSite(ctx context.Context, url string) (*VisitedSite, error) {
	site, err := scanSite(s.getSite.QueryRowContext(ctx, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visited site %s: %w", url, ErrNotFound)
		}
		return nil, fmt.Errorf("get visited site: %w", err)
	}
	return site, nil
}

// ListSessions returns sessions newest first, optionally restricted to those
// linked to one visited site.
func (s *SQLiteStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	var (
		query string
		args  []any
	)
	if q.SiteID != 0 {
		query = `
			SELECT s.id, s.start_time, s.end_time, s.window_width, s.window_height
			FROM sessions s
			JOIN site_sessions ss ON ss.session_id = s.id
			WHERE ss.site_id = ?
			ORDER BY s.start_time DESC LIMIT ? OFFSET ?`
		args = append(args, q.SiteID)
	} else {
		query = `SELECT ` + sessionColumns + ` FROM sessions ORDER BY start_time DESC LIMIT ? OFFSET ?`
	}
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// ListInteractions returns the interactions of a session in arrival order.
func (s *SQLiteStore) ListInteractions(ctx context.Context, sessionID string) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, details, time, session_id FROM interactions WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	interactions := []Interaction{}
	for rows.Next() {
		var (
			in      Interaction
			details sql.NullString
			ts      sql.NullString
		)
		if err := rows.Scan(&in.ID, &in.Type, &details, &ts, &in.SessionID); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		if details.Valid {
			in.Details = []byte(details.String)
		}
		if ts.Valid {
			t, err := parseTimestamp(ts.String)
			if err != nil {
				return nil, fmt.Errorf("interaction %d time: %w", in.ID, err)
			}
			in.Time = &t
		}
		interactions = append(interactions, in)
	}
	return interactions, rows.Err()
}

// ListVisitedSites returns visited sites ordered by visit count, highest first.
func (s *SQLiteStore) ListVisitedSites(ctx context.Context, limit int) ([]VisitedSite, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+siteColumns+` FROM visited_sites ORDER BY visit_count DESC, last_visit DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query visited sites: %w", err)
	}
	defer rows.Close()

	sites := []VisitedSite{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visited site: %w", err)
		}
		sites = append(sites, *site)
	}
	return sites, rows.Err()
}

// CountPrunable counts closed sessions that started before olderThan.
func (s *SQLiteStore) CountPrunable(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE end_time IS NOT NULL AND start_time < ?`,
		formatTime(olderThan),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count prunable sessions: %w", err)
	}
	return n, nil
}

// PruneSessions deletes closed sessions that started before olderThan.
// Interactions and site associations go with them; visited-site aggregates
// are kept. Open sessions are never pruned.
func (s *SQLiteStore) PruneSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE end_time IS NOT NULL AND start_time < ?`,
		formatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// PurgeAll deletes all sessions, interactions and visited sites.
func (s *SQLiteStore) PurgeAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		"DELETE FROM site_sessions",
		"DELETE FROM interactions",
		"DELETE FROM visited_sites",
		"DELETE FROM sessions",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("purge (%s): %w", stmt, err)
		}
	}
	return tx.Commit()
}

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM sessions", &stats.TotalSessions},
		{"SELECT COUNT(*) FROM sessions WHERE end_time IS NULL", &stats.OpenSessions},
		{"SELECT COUNT(*) FROM interactions", &stats.TotalInteractions},
		{"SELECT COUNT(*) FROM visited_sites", &stats.TotalSites},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats (%s): %w", c.query, err)
		}
	}

	// Oldest and newest (handle empty DB)
	if stats.TotalSessions > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRowContext(ctx,
			"SELECT MIN(start_time), MAX(start_time) FROM sessions",
		).Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("session time range: %w", err)
		}
		if stats.OldestSession, err = parseTimestamp(oldestStr); err != nil {
			return nil, fmt.Errorf("oldest session: %w", err)
		}
		if stats.NewestSession, err = parseTimestamp(newestStr); err != nil {
			return nil, fmt.Errorf("newest session: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT url, visit_count FROM visited_sites ORDER BY visit_count DESC, url LIMIT 10",
	)
	if err != nil {
		return nil, fmt.Errorf("top sites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc SiteCount
		if err := rows.Scan(&sc.URL, &sc.Count); err != nil {
			return nil, err
		}
		stats.TopSites = append(stats.TopSites, sc)
	}

	return stats, rows.Err()
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertSession, s.getSession, s.endSession, s.reopenSession,
		s.updateWindow, s.insertInteraction, s.getSite,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
