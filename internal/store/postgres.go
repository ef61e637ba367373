package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compass/internal/db"
	"github.com/sells-group/compass/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"exists_slug":       `SELECT EXISTS(SELECT 1 FROM movements WHERE organization_id = $1 AND slug = $2)`,
	"update_run_status": `UPDATE research_runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":      `UPDATE research_runs SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, organization_id, status, result, created_at, updated_at FROM research_runs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id                   BIGSERIAL PRIMARY KEY,
	name                 TEXT NOT NULL UNIQUE,
	description          TEXT NOT NULL DEFAULT '',
	website_url          TEXT NOT NULL DEFAULT '',
	tagline              TEXT NOT NULL DEFAULT '',
	keywords             JSONB NOT NULL DEFAULT '[]',
	category             TEXT NOT NULL DEFAULT '',
	country_of_operation TEXT NOT NULL DEFAULT '',
	year_founded         INTEGER,
	contact_person       TEXT NOT NULL DEFAULT '',
	extracted_text_data  TEXT NOT NULL DEFAULT '',
	embedding            REAL[],
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS movements (
	id               BIGSERIAL PRIMARY KEY,
	organization_id  BIGINT NOT NULL REFERENCES organizations(id),
	slug             VARCHAR(300) NOT NULL,
	title            TEXT NOT NULL,
	summary          TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	geography        TEXT NOT NULL DEFAULT '',
	start_date       TEXT NOT NULL DEFAULT '',
	source_urls      JSONB NOT NULL DEFAULT '[]',
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	embedding        REAL[],
	is_active        BOOLEAN NOT NULL DEFAULT true,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, slug)
);

CREATE TABLE IF NOT EXISTS research_runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id BIGINT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	result          JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_movements_org ON movements(organization_id);
CREATE INDEX IF NOT EXISTS idx_research_runs_org ON research_runs(organization_id);
CREATE INDEX IF NOT EXISTS idx_research_runs_status ON research_runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *model.Organization) error {
	keywords, err := json.Marshal(nonNil(org.Keywords))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	now := time.Now().UTC()

	err = s.pool.QueryRow(ctx,
		`INSERT INTO organizations (name, description, website_url, tagline, keywords, category,
			country_of_operation, year_founded, contact_person, extracted_text_data, embedding,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		org.Name, org.Description, org.WebsiteURL, org.Tagline, keywords, org.Category,
		org.CountryOfOperation, org.YearFounded, org.ContactPerson, org.ExtractedTextData,
		vectorArg(org.Embedding), now, now,
	).Scan(&org.ID)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert organization %q", org.Name)
	}
	org.CreatedAt = now
	org.UpdatedAt = now
	return nil
}

// ImportOrganizations bulk-upserts organizations keyed by name through COPY.
func (s *PostgresStore) ImportOrganizations(ctx context.Context, orgs []model.Organization) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, []any{o.Name, o.Description, o.WebsiteURL, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "organizations",
		Columns:      []string{"name", "description", "website_url", "updated_at"},
		ConflictKeys: []string{"name"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import organizations")
	}
	return n, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	return scanPgOrganization(row)
}

func (s *PostgresStore) SaveOrganization(ctx context.Context, org *model.Organization) error {
	keywords, err := json.Marshal(nonNil(org.Keywords))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal keywords")
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE organizations SET name = $1, description = $2, website_url = $3, tagline = $4,
			keywords = $5, category = $6, country_of_operation = $7, year_founded = $8,
			contact_person = $9, extracted_text_data = $10, embedding = $11, updated_at = $12
		WHERE id = $13`,
		org.Name, org.Description, org.WebsiteURL, org.Tagline, keywords, org.Category,
		org.CountryOfOperation, org.YearFounded, org.ContactPerson, org.ExtractedTextData,
		vectorArg(org.Embedding), now, org.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save organization %d", org.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	org.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list organizations")
	}
	defer rows.Close()

	var orgs []model.Organization
	for rows.Next() {
		org, err := scanPgOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, *org)
	}
	return orgs, eris.Wrap(rows.Err(), "postgres: iterate organizations")
}

func (s *PostgresStore) ExistsSlug(ctx context.Context, orgID int64, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM movements WHERE organization_id = $1 AND slug = $2)`,
		orgID, slug,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: exists slug %s", slug)
	}
	return exists, nil
}

func (s *PostgresStore) GetMovementBySlug(ctx context.Context, orgID int64, slug string) (*model.Movement, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE organization_id = $1 AND slug = $2`,
		orgID, slug,
	)
	return scanPgMovement(row)
}

// UpsertMovement creates or updates the movement at (orgID, slug). A nil
// embedding keeps the stored one.
func (s *PostgresStore) UpsertMovement(ctx context.Context, orgID int64, slug string, f model.MovementFields) (int64, error) {
	sources, err := json.Marshal(nonNil(f.SourceURLs))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal source urls")
	}
	now := time.Now().UTC()

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO movements (organization_id, slug, title, summary, category, geography,
			start_date, source_urls, confidence_score, embedding, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, true, $11, $12)
		ON CONFLICT (organization_id, slug) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			category = EXCLUDED.category,
			geography = EXCLUDED.geography,
			start_date = EXCLUDED.start_date,
			source_urls = EXCLUDED.source_urls,
			confidence_score = EXCLUDED.confidence_score,
			embedding = COALESCE(EXCLUDED.embedding, movements.embedding),
			is_active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		orgID, slug, f.Title, f.Summary, f.Category, f.Geography, f.StartDate,
		sources, f.ConfidenceScore, vectorArg(f.Embedding), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert movement %d/%s", orgID, slug)
	}
	return id, nil
}

func (s *PostgresStore) ListMovements(ctx context.Context, orgID int64) ([]model.Movement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE organization_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list movements %d", orgID)
	}
	defer rows.Close()

	var out []model.Movement
	for rows.Next() {
		m, err := scanPgMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate movements")
}

func (s *PostgresStore) ListMatchCandidates(ctx context.Context) ([]model.MatchCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.title, m.summary, o.id, o.name, o.description, m.embedding
		FROM movements m JOIN organizations o ON o.id = m.organization_id
		WHERE m.is_active AND m.embedding IS NOT NULL
		ORDER BY m.id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list match candidates")
	}
	defer rows.Close()

	var out []model.MatchCandidate
	for rows.Next() {
		var c model.MatchCandidate
		var embedding []*float32
		if err := rows.Scan(&c.MovementID, &c.Title, &c.Summary, &c.OrganizationID,
			&c.OrganizationName, &c.OrganizationDescription, &embedding); err != nil {
			return nil, eris.Wrap(err, "postgres: scan match candidate")
		}
		vec, ok := denseVector(embedding)
		if !ok {
			zap.L().Debug("postgres: skipping match candidate with NULL embedding element",
				zap.Int64("movement_id", c.MovementID))
			continue
		}
		c.Embedding = vec
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate match candidates")
}

func (s *PostgresStore) CreateRun(ctx context.Context, orgID int64) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_runs (id, organization_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, orgID, string(model.RunStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:             id,
		OrganizationID: orgID,
		Status:         model.RunStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.ResearchResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE research_runs SET status = $1, result = $2, updated_at = $3 WHERE id = $4`,
		string(status), resultJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, status, result, created_at, updated_at FROM research_runs WHERE id = $1`,
		runID,
	)
	return scanPgRun(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	var where []string
	var args []any
	if filter.OrganizationID > 0 {
		args = append(args, filter.OrganizationID)
		where = append(where, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT id, organization_id, status, result, created_at, updated_at FROM research_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, runLimit(filter))
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPgOrganization(row pgx.Row) (*model.Organization, error) {
	var o model.Organization
	var keywords []byte

	err := row.Scan(&o.ID, &o.Name, &o.Description, &o.WebsiteURL, &o.Tagline, &keywords,
		&o.Category, &o.CountryOfOperation, &o.YearFounded, &o.ContactPerson, &o.ExtractedTextData,
		&o.Embedding, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan organization")
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &o.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal keywords")
		}
	}
	return &o, nil
}

func scanPgMovement(row pgx.Row) (*model.Movement, error) {
	var m model.Movement
	var sources []byte

	err := row.Scan(&m.ID, &m.OrganizationID, &m.Slug, &m.Title, &m.Summary, &m.Category,
		&m.Geography, &m.StartDate, &sources, &m.ConfidenceScore, &m.Embedding, &m.IsActive,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan movement")
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &m.SourceURLs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source urls")
		}
	}
	return &m, nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var resultJSON []byte

	err := row.Scan(&r.ID, &r.OrganizationID, &status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)

	if len(resultJSON) > 0 {
		var result model.ResearchResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run result")
		}
		r.Result = &result
	}
	return &r, nil
}

// vectorArg maps an empty vector to NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return v
}

// denseVector converts a scanned REAL[] to a vector. It reports false when
// any element is NULL.
func denseVector(in []*float32) ([]float32, bool) {
	out := make([]float32, len(in))
	for i, v := range in {
		if v == nil {
			return nil, false
		}
		out[i] = *v
	}
	return out, true
}
