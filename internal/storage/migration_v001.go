package storage

import "database/sql"

// migrateV001 creates the initial schema: sessions, their interactions,
// the visited-site aggregate and the site/session association. Every
// statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			start_time    TEXT NOT NULL,
			end_time      TEXT,
			window_width  INTEGER,
			window_height INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS interactions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			details    TEXT,
			time       TEXT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS visited_sites (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			url         TEXT NOT NULL UNIQUE,
			visit_count INTEGER NOT NULL DEFAULT 1 CHECK (visit_count >= 1),
			first_visit TEXT NOT NULL,
			last_visit  TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS site_sessions (
			site_id    INTEGER NOT NULL REFERENCES visited_sites(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			PRIMARY KEY (site_id, session_id)
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_sessions_start          ON sessions(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_session    ON interactions(session_id, time)`,
		`CREATE INDEX IF NOT EXISTS idx_visited_sites_count     ON visited_sites(visit_count)`,
		`CREATE INDEX IF NOT EXISTS idx_site_sessions_session   ON site_sessions(session_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
