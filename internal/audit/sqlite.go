package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when no entry has the decision id.
var ErrNotFound = errors.New("decision not found")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS decision_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	decision_id   TEXT NOT NULL UNIQUE,
	request_id    TEXT NOT NULL,
	tenant_id     TEXT NOT NULL,
	user_id       TEXT,
	persona_id    TEXT,
	decision_type TEXT NOT NULL,
	action_id     TEXT,
	reason        TEXT,
	score         REAL NOT NULL,
	risk          TEXT,
	confidence    REAL NOT NULL,
	request_json  TEXT,
	payload_json  TEXT,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_log_request ON decision_log(request_id);
`

// #endregion schema

// #region sqlite-sink
// SQLiteSink writes entries to the decision_log table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates the decision_log table if needed.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate decision_log: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Record implements Sink.
func (s *SQLiteSink) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_log (decision_id, request_id, tenant_id, user_id, persona_id, decision_type,
		  action_id, reason, score, risk, confidence, request_json, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DecisionID,
		e.RequestID,
		e.TenantID,
		nullIfEmpty(e.UserID),
		nullIfEmpty(e.PersonaID),
		e.DecisionType,
		nullIfEmpty(e.ActionID),
		nullIfEmpty(e.Reason),
		e.Score,
		nullIfEmpty(e.Risk),
		e.Confidence,
		nullIfEmpty(e.RequestJSON),
		nullIfEmpty(e.PayloadJSON),
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

const selectColumns = `SELECT decision_id, request_id, tenant_id, user_id, persona_id, decision_type, action_id,
        reason, score, risk, confidence, request_json, payload_json, created_at
 FROM decision_log`

// Recent returns the newest entries first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns one entry by decision id, or ErrNotFound.
func (s *SQLiteSink) Get(ctx context.Context, decisionID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE decision_id = ?`, decisionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get decision %s: %w", decisionID, err)
	}
	return e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                                                           Entry
		userID, personaID, actionID, reason, risk, request, payload sql.NullString
		created                                                     string
	)
	if err := sc.Scan(&e.DecisionID, &e.RequestID, &e.TenantID, &userID, &personaID, &e.DecisionType,
		&actionID, &reason, &e.Score, &risk, &e.Confidence, &request, &payload, &created); err != nil {
		return Entry{}, err
	}
	e.UserID = userID.String
	e.PersonaID = personaID.String
	e.ActionID = actionID.String
	e.Reason = reason.String
	e.Risk = risk.String
	e.RequestJSON = request.String
	e.PayloadJSON = payload.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return e, nil
}

// #endregion sqlite-sink

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
