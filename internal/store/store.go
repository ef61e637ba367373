package store

import (
	"context"
	"errors"

	"github.com/sells-group/compass/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the record store the pipeline reads from and writes to.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org *model.Organization) error
	ImportOrganizations(ctx context.Context, orgs []model.Organization) (int64, error)
	GetOrganization(ctx context.Context, id int64) (*model.Organization, error)
	SaveOrganization(ctx context.Context, org *model.Organization) error
	ListOrganizations(ctx context.Context) ([]model.Organization, error)

	// Movements
	ExistsSlug(ctx context.Context, orgID int64, slug string) (bool, error)
	GetMovementBySlug(ctx context.Context, orgID int64, slug string) (*model.Movement, error)
	UpsertMovement(ctx context.Context, orgID int64, slug string, fields model.MovementFields) (int64, error)
	ListMovements(ctx context.Context, orgID int64) ([]model.Movement, error)
	ListMatchCandidates(ctx context.Context) ([]model.MatchCandidate, error)

	// Runs
	CreateRun(ctx context.Context, orgID int64) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, result *model.ResearchResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// DefaultRunLimit caps run listings without an explicit limit.
const DefaultRunLimit = 50

func runLimit(f model.RunFilter) int {
	if f.Limit <= 0 {
		return DefaultRunLimit
	}
	return f.Limit
}
