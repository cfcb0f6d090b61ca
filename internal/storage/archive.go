// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/servechat/internal/model"
	"github.com/jeranaias/servechat/internal/serving"
	"github.com/jeranaias/servechat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSessionNotFound is returned when a session has no archived turns.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDatabase wraps driver failures.
	ErrDatabase = errors.New("database error")
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	endpoint   TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, seq)
);

CREATE TABLE IF NOT EXISTS feedback (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	request_id TEXT NOT NULL,
	rating     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);
`

const titleMaxRunes = 50

// =============================================================================
// ARCHIVE
// =============================================================================

// SessionMeta summarizes an archived session for listing.
type SessionMeta struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	TurnCount int       `json:"turn_count"`
}

// FeedbackRecord is one archived rating.
type FeedbackRecord struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Rating    serving.Rating `json:"rating"`
	CreatedAt time.Time      `json:"created_at"`
}

// Archive stores session transcripts and feedback in SQLite.
type Archive struct {
	db       *sql.DB
	path     string
	endpoint string
	now      func() time.Time
}

// Open opens (creating if needed) the archive at path. Use ":memory:" for
// a throwaway archive.
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		// SECURITY: transcripts may contain sensitive data, owner-only directory
		if err := util.MkdirPrivate(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrDatabase, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrDatabase, pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: schema: %v", ErrDatabase, err)
	}

	return &Archive{db: db, path: path, now: time.Now}, nil
}

// WithEndpoint records the endpoint name on sessions created from now on.
func (a *Archive) WithEndpoint(name string) *Archive {
	a.endpoint = name
	return a
}

// Path returns the database location.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// =============================================================================
// WRITES
// =============================================================================

// SaveTurn stores turn at position seq of the session, replacing any turn
// already at that position.
func (a *Archive) SaveTurn(ctx context.Context, sessionID string, seq int, turn model.Turn) error {
	if turn == nil {
		return nil
	}
	rec := model.RecordOf(turn)
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	now := a.now().UnixMilli()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	if err := a.touchSession(ctx, tx, sessionID, now, titleOf(turn)); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, session_id, seq, kind, request_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET
			kind = excluded.kind,
			request_id = excluded.request_id,
			payload = excluded.payload,
			created_at = excluded.created_at`,
		ulid.Make().String(), sessionID, seq, string(rec.Kind), rec.RequestID, string(payload), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: insert turn: %v", ErrDatabase, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDatabase, err)
	}
	return nil
}

// touchSession creates the session row on first use and bumps updated_at.
// The title comes from the first user turn.
func (a *Archive) touchSession(ctx context.Context, tx *sql.Tx, id string, now int64, title string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, endpoint, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			title = CASE WHEN sessions.title = '' THEN excluded.title ELSE sessions.title END`,
		id, a.endpoint, title, now, now)
	if err != nil {
		return fmt.Errorf("%w: upsert session: %v", ErrDatabase, err)
	}
	return nil
}

// ClearSession removes a session and everything archived for it.
func (a *Archive) ClearSession(ctx context.Context, sessionID string) error {
	// Turns and feedback go with the session (ON DELETE CASCADE).
	if _, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrDatabase, err)
	}
	return nil
}

// RecordFeedback stores a rating for an assistant response.
func (a *Archive) RecordFeedback(ctx context.Context, sessionID, requestID string, rating serving.Rating) error {
	now := a.now().UnixMilli()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	if err := a.touchSession(ctx, tx, sessionID, now, ""); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO feedback (id, session_id, request_id, rating, created_at) VALUES (?, ?, ?, ?, ?)`,
		ulid.Make().String(), sessionID, requestID, string(rating), now)
	if err != nil {
		return fmt.Errorf("%w: insert feedback: %v", ErrDatabase, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrDatabase, err)
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

// ListSessions returns archived sessions, most recently updated first.
// limit <= 0 returns all of them.
func (a *Archive) ListSessions(ctx context.Context, limit int) ([]SessionMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT s.id, s.endpoint, s.title, s.created_at, s.updated_at,
		       (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s
		ORDER BY s.updated_at DESC, s.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrDatabase, err)
	}
	defer rows.Close()

	metas := []SessionMeta{}
	for rows.Next() {
		var m SessionMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Endpoint, &m.Title, &created, &updated, &m.TurnCount); err != nil {
			return nil, fmt.Errorf("%w: scan session: %v", ErrDatabase, err)
		}
		m.CreatedAt = time.UnixMilli(created)
		m.UpdatedAt = time.UnixMilli(updated)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// ResolveID expands a unique session id prefix to the full id.
func (a *Archive) ResolveID(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrSessionNotFound
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := a.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, escaped+"%")
	if err != nil {
		return "", fmt.Errorf("%w: resolve session: %v", ErrDatabase, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("%w: scan session: %v", ErrDatabase, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("session prefix %q is ambiguous", prefix)
	}
}

// LoadHistory rebuilds the history of an archived session.
func (a *Archive) LoadHistory(ctx context.Context, sessionID string) (*model.History, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT payload FROM turns WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load turns: %v", ErrDatabase, err)
	}
	defer rows.Close()

	h := model.NewHistory()
	n := 0
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", ErrDatabase, err)
		}
		var rec model.TurnRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", n, err)
		}
		turn, err := rec.Turn()
		if err != nil {
			return nil, fmt.Errorf("decode turn %d: %w", n, err)
		}
		h.Append(turn)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return h, nil
}

// Feedback returns the ratings recorded for a session, oldest first.
func (a *Archive) Feedback(ctx context.Context, sessionID string) ([]FeedbackRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, request_id, rating, created_at FROM feedback WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load feedback: %v", ErrDatabase, err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var r FeedbackRecord
		var rating string
		var created int64
		if err := rows.Scan(&r.ID, &r.RequestID, &rating, &created); err != nil {
			return nil, fmt.Errorf("%w: scan feedback: %v", ErrDatabase, err)
		}
		r.Rating = serving.Rating(rating)
		r.CreatedAt = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// titleOf derives a session title from a user turn.
func titleOf(turn model.Turn) string {
	ut, ok := turn.(*model.UserTurn)
	if !ok {
		return ""
	}
	title := strings.Join(strings.Fields(ut.Content()), " ")
	return util.TruncateRunes(title, titleMaxRunes)
}

// FormatSessionList renders sessions as a fixed-width table.
func FormatSessionList(sessions []SessionMeta) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	var sb strings.Builder
	sb.WriteString(pad("ID", 12) + " " + pad("Updated", 17) + " " + pad("Turns", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")
	for _, s := range sessions {
		id := s.ID
		if len(id) > 12 {
			id = id[:12]
		}
		sb.WriteString(pad(id, 12) + " " +
			pad(s.UpdatedAt.Format("2006-01-02 15:04"), 17) + " " +
			pad(fmt.Sprint(s.TurnCount), 5) + " " +
			util.TruncateWidth(s.Title, 36) + "\n")
	}
	return sb.String()
}

func pad(s string, width int) string {
	if w := util.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
