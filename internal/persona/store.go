package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS personas (
	persona_id      TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	model_id        TEXT,
	attributes_json TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	UNIQUE (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_personas_tenant ON personas(tenant_id);
`

// #endregion schema

// #region store-struct
// SQLiteStore keeps persona records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewSQLiteStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreWithDB runs migrations on an already-open database.
func NewSQLiteStoreWithDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate personas: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. audit).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region save
// Save inserts or replaces a persona. A missing ID reuses the id already
// stored for (tenant, name), else a new one is generated.
func (s *SQLiteStore) Save(ctx context.Context, p *Profile) error {
	if p.TenantID == "" || p.Name == "" {
		return fmt.Errorf("save persona: tenant and name are required")
	}
	if p.ID == "" {
		id, created, err := s.existing(ctx, p.TenantID, p.Name)
		if err != nil {
			return err
		}
		if id == "" {
			id = uuid.New().String()
		}
		p.ID = id
		if p.CreatedAt.IsZero() {
			p.CreatedAt = created
		}
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (persona_id, tenant_id, name, model_id, attributes_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(persona_id) DO UPDATE SET
		   tenant_id = excluded.tenant_id,
		   name = excluded.name,
		   model_id = excluded.model_id,
		   attributes_json = excluded.attributes_json,
		   updated_at = excluded.updated_at`,
		p.ID, p.TenantID, p.Name, nullIfEmpty(p.ModelID), string(attrs),
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", p.ID, err)
	}
	return nil
}

// existing returns the stored id and creation time for (tenant, name), or
// an empty id when there is none.
func (s *SQLiteStore) existing(ctx context.Context, tenantID, name string) (string, time.Time, error) {
	var id, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT persona_id, created_at FROM personas WHERE tenant_id = ? AND name = ?`,
		tenantID, name,
	).Scan(&id, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("find persona %s/%s: %w", tenantID, name, err)
	}
	t, _ := time.Parse(time.RFC3339Nano, created)
	return id, t, nil
}

// #endregion save

// #region lookup
// Lookup finds a persona by id or name within the tenant. An id match wins
// over a name match.
func (s *SQLiteStore) Lookup(ctx context.Context, tenantID, ref string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT persona_id, tenant_id, name, model_id, attributes_json, created_at, updated_at
		 FROM personas
		 WHERE tenant_id = ? AND (persona_id = ? OR name = ?)
		 ORDER BY CASE WHEN persona_id = ? THEN 0 ELSE 1 END
		 LIMIT 1`,
		tenantID, ref, ref, ref,
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup persona %s/%s: %w", tenantID, ref, err)
	}
	return p, nil
}

// #endregion lookup

// #region list
// List returns every persona of a tenant ordered by name.
func (s *SQLiteStore) List(ctx context.Context, tenantID string) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT persona_id, tenant_id, name, model_id, attributes_json, created_at, updated_at
		 FROM personas WHERE tenant_id = ? ORDER BY name ASC`, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(sc scanner) (*Profile, error) {
	var (
		p         Profile
		modelID   sql.NullString
		attrsJSON string
		created   string
		updated   string
	)
	if err := sc.Scan(&p.ID, &p.TenantID, &p.Name, &modelID, &attrsJSON, &created, &updated); err != nil {
		return nil, err
	}
	if modelID.Valid {
		p.ModelID = modelID.String
	}
	if err := json.Unmarshal([]byte(attrsJSON), &p.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &p, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
