package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pregrade/gateway/internal/models"
)

// ErrNotFound is returned when a requested record does not exist. Backends
// translate their native not-found signals into this error.
var ErrNotFound = errors.New("record not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ErrConflict is returned when a write loses a status race, for example a
// job transition whose expected current status no longer holds.
var ErrConflict = errors.New("conflicting update")

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	// GetByID returns soft-deleted tenants too; callers check Active().
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
	// SoftDelete stamps deleted_at. The row stays; every key the tenant
	// owns stops authenticating.
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	// GetByDigest looks up a key by its stored digest. Revoked keys are
	// still returned; callers check Active().
	GetByDigest(ctx context.Context, digest string) (*models.APIKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
}

type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	// GetByID with an empty tenantID is unscoped and matches any job.
	// A tenant-scoped lookup matches the tenant's own jobs plus ownerless
	// ones, so one partner can never read another partner's job.
	GetByID(ctx context.Context, tenantID, id string) (*models.Job, error)
	// MarkProcessing transitions pending -> processing. Returns ErrConflict
	// if the job is no longer pending.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	// Complete transitions processing -> completed with the engine result.
	Complete(ctx context.Context, id string, result json.RawMessage, finishedAt time.Time) error
	// Fail transitions pending|processing -> failed with an error code.
	Fail(ctx context.Context, id string, errorCode, errorMessage string, finishedAt time.Time) error
}

type UsageEventRepository interface {
	Create(ctx context.Context, event *models.UsageEvent) error
	ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*models.UsageEvent, error)
}
