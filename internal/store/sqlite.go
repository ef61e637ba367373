package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/compass/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	name                 TEXT NOT NULL UNIQUE,
	description          TEXT NOT NULL DEFAULT '',
	website_url          TEXT NOT NULL DEFAULT '',
	tagline              TEXT NOT NULL DEFAULT '',
	keywords             TEXT NOT NULL DEFAULT '[]',
	category             TEXT NOT NULL DEFAULT '',
	country_of_operation TEXT NOT NULL DEFAULT '',
	year_founded         INTEGER,
	contact_person       TEXT NOT NULL DEFAULT '',
	extracted_text_data  TEXT NOT NULL DEFAULT '',
	embedding            TEXT,
	created_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS movements (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id  INTEGER NOT NULL REFERENCES organizations(id),
	slug             TEXT NOT NULL,
	title            TEXT NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	geography        TEXT NOT NULL DEFAULT '',
	start_date       TEXT NOT NULL DEFAULT '',
	source_urls      TEXT NOT NULL DEFAULT '[]',
	confidence_score REAL NOT NULL DEFAULT 0,
	embedding        TEXT,
	is_active        INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (organization_id, slug)
);

CREATE TABLE IF NOT EXISTS research_runs (
	id              TEXT PRIMARY KEY,
	organization_id INTEGER NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	result          TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_movements_org ON movements(organization_id);
CREATE INDEX IF NOT EXISTS idx_research_runs_org ON research_runs(organization_id);
CREATE INDEX IF NOT EXISTS idx_research_runs_status ON research_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const orgColumns = `id, name, description, website_url, tagline, keywords, category,
	country_of_operation, year_founded, contact_person, extracted_text_data, embedding,
	created_at, updated_at`

func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	keywords, embedding, err := encodeOrganization(org)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO organizations (name, description, website_url, tagline, keywords, category,
			country_of_operation, year_founded, contact_person, extracted_text_data, embedding,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		org.Name, org.Description, org.WebsiteURL, org.Tagline, keywords, org.Category,
		org.CountryOfOperation, org.YearFounded, org.ContactPerson, org.ExtractedTextData, embedding,
		now, now,
	).Scan(&org.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert organization %q", org.Name)
	}
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// ImportOrganizations inserts organizations keyed by name. Existing rows get
// the imported description and website.
func (s *SQLiteStore) ImportOrganizations(ctx context.Context, orgs []model.Organization) (int64, error) {
	if len(orgs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO organizations (name, description, website_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			website_url = excluded.website_url,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import: prepare")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	var n int64
	for _, o := range orgs {
		res, err := stmt.ExecContext(ctx, o.Name, o.Description, o.WebsiteURL, now, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import organization %q", o.Name)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id)
	return scanOrganization(row)
}

func (s *SQLiteStore) SaveOrganization(ctx context.Context, org *model.Organization) error {
	keywords, embedding, err := encodeOrganization(org)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, description = ?, website_url = ?, tagline = ?,
			keywords = ?, category = ?, country_of_operation = ?, year_founded = ?,
			contact_person = ?, extracted_text_data = ?, embedding = ?, updated_at = ?
		WHERE id = ?`,
		org.Name, org.Description, org.WebsiteURL, org.Tagline, keywords, org.Category,
		org.CountryOfOperation, org.YearFounded, org.ContactPerson, org.ExtractedTextData,
		embedding, now, org.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save organization %d", org.ID)
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}
	org.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "sqlite: iterate organizations")
}

func (s *SQLiteStore) ExistsSlug(ctx context.Context, orgID int64, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM movements WHERE organization_id = ? AND slug = ?)`,
		orgID, slug,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: exists slug %s", slug)
	}
	return exists, nil
}

const movementColumns = `id, organization_id, slug, title, summary, category, geography,
	start_date, source_urls, confidence_score, embedding, is_active, created_at, updated_at`

func (s *SQLiteStore) GetMovementBySlug(ctx context.Context, orgID int64, slug string) (*model.Movement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE organization_id = ? AND slug = ?`,
		orgID, slug,
	)
	return scanMovement(row)
}

// UpsertMovement creates or updates the movement at (orgID, slug). A nil
// embedding keeps the stored one.
func (s *SQLiteStore) UpsertMovement(ctx context.Context, orgID int64, slug string, f model.MovementFields) (int64, error) {
	sources, err := json.Marshal(nonNil(f.SourceURLs))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: marshal source urls")
	}
	embedding, err := encodeVector(f.Embedding)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO movements (organization_id, slug, title, summary, category, geography,
			start_date, source_urls, confidence_score, embedding, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(organization_id, slug) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			category = excluded.category,
			geography = excluded.geography,
			start_date = excluded.start_date,
			source_urls = excluded.source_urls,
			confidence_score = excluded.confidence_score,
			embedding = COALESCE(excluded.embedding, movements.embedding),
			is_active = 1,
			updated_at = excluded.updated_at
		RETURNING id`,
		orgID, slug, f.Title, f.Summary, f.Category, f.Geography, f.StartDate,
		string(sources), f.ConfidenceScore, embedding, now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert movement %d/%s", orgID, slug)
	}
	return id, nil
}

func (s *SQLiteStore) ListMovements(ctx context.Context, orgID int64) ([]model.Movement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE organization_id = ? ORDER BY id`, orgID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list movements %d", orgID)
	}
	defer rows.Close()

	var out []model.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate movements")
}

// ListMatchCandidates returns active movements that carry an embedding, in
// insertion order.
func (s *SQLiteStore) ListMatchCandidates(ctx context.Context) ([]model.MatchCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.title, m.summary, o.id, o.name, o.description, m.embedding
		FROM movements m JOIN organizations o ON o.id = m.organization_id
		WHERE m.is_active = 1 AND m.embedding IS NOT NULL
		ORDER BY m.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list match candidates")
	}
	defer rows.Close()

	var out []model.MatchCandidate
	for rows.Next() {
		var c model.MatchCandidate
		var embedding sql.NullString
		if err := rows.Scan(&c.MovementID, &c.Title, &c.Summary, &c.OrganizationID,
			&c.OrganizationName, &c.OrganizationDescription, &embedding); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan match candidate")
		}
		if c.Embedding, err = decodeVector(embedding); err != nil {
			zap.L().Debug("sqlite: skipping match candidate with unreadable embedding",
				zap.Int64("movement_id", c.MovementID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate match candidates")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, orgID int64) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_runs (id, organization_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, orgID, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:             id,
		OrganizationID: orgID,
		Status:         model.RunStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.ResearchResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_runs SET status = ?, result = ?, updated_at = ? WHERE id = ?`,
		string(status), string(resultJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, status, result, created_at, updated_at FROM research_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	var where []string
	var args []any
	if filter.OrganizationID > 0 {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, organization_id, status, result, created_at, updated_at FROM research_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, runLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOrganization(row scannable) (*model.Organization, error) {
	var o model.Organization
	var keywords string
	var year sql.NullInt64
	var embedding sql.NullString

	err := row.Scan(&o.ID, &o.Name, &o.Description, &o.WebsiteURL, &o.Tagline, &keywords,
		&o.Category, &o.CountryOfOperation, &year, &o.ContactPerson, &o.ExtractedTextData,
		&embedding, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan organization")
	}

	if err := json.Unmarshal([]byte(keywords), &o.Keywords); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal keywords")
	}
	if year.Valid {
		y := int(year.Int64)
		o.YearFounded = &y
	}
	if o.Embedding, err = decodeVector(embedding); err != nil {
		return nil, err
	}
	return &o, nil
}

func scanMovement(row scannable) (*model.Movement, error) {
	var m model.Movement
	var sources string
	var embedding sql.NullString

	err := row.Scan(&m.ID, &m.OrganizationID, &m.Slug, &m.Title, &m.Summary, &m.Category,
		&m.Geography, &m.StartDate, &sources, &m.ConfidenceScore, &embedding, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan movement")
	}

	if err := json.Unmarshal([]byte(sources), &m.SourceURLs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal source urls")
	}
	if m.Embedding, err = decodeVector(embedding); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.OrganizationID, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)

	if resultJSON.Valid && resultJSON.String != "" {
		var result model.ResearchResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run result")
		}
		r.Result = &result
	}
	return &r, nil
}

func encodeOrganization(org *model.Organization) (string, any, error) {
	keywords, err := json.Marshal(nonNil(org.Keywords))
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: marshal keywords")
	}
	embedding, err := encodeVector(org.Embedding)
	if err != nil {
		return "", nil, err
	}
	return string(keywords), embedding, nil
}

// encodeVector stores a vector as a JSON array; an empty vector is NULL.
func encodeVector(v []float32) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal embedding")
	}
	return string(b), nil
}

func decodeVector(s sql.NullString) ([]float32, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
