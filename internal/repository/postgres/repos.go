package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/repository"
)

type TenantRepo struct {
	pool *pgxpool.Pool
}

var _ repository.TenantRepository = (*TenantRepo)(nil)

func NewTenantRepo(pool *pgxpool.Pool) *TenantRepo {
	return &TenantRepo{pool: pool}
}

func (r *TenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, created_at, updated_at, deleted_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.CreatedAt, tenant.UpdatedAt, tenant.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *TenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at, deleted_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	return &t, nil
}

func (r *TenantRepo) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, created_at, updated_at, deleted_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *TenantRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE tenants SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		deletedAt, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

var _ repository.APIKeyRepository = (*APIKeyRepo)(nil)

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

func (r *APIKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, digest, label, created_at, revoked_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		key.ID, key.TenantID, key.Digest, key.Label, key.CreatedAt, key.RevokedAt)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) GetByDigest(ctx context.Context, digest string) (*models.APIKey, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, tenant_id, digest, COALESCE(label, ''), created_at, revoked_at
		 FROM api_keys WHERE digest = $1`, digest)
	return scanAPIKey(row)
}

func (r *APIKeyRepo) ListByTenant(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, tenant_id, digest, COALESCE(label, ''), created_at, revoked_at
		 FROM api_keys WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var out []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepo) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		revokedAt, id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.TenantID, &k.Digest, &k.Label, &k.CreatedAt, &k.RevokedAt); err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	return &k, nil
}

type JobRepo struct {
	pool *pgxpool.Pool
}

var _ repository.JobRepository = (*JobRepo)(nil)

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	var result []byte
	if len(job.Result) > 0 {
		result = job.Result
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, request_id, payload, status,
		                   result, error_code, error_message,
		                   created_at, updated_at, started_at, finished_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)`,
		job.ID, job.TenantID, job.RequestID, []byte(job.Payload), string(job.Status),
		result, job.ErrorCode, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Job, error) {
	// Unscoped lookups see everything; scoped ones see the tenant's own
	// jobs plus ownerless ones.
	query := `SELECT id, COALESCE(tenant_id, ''), request_id, payload, status,
	                 result, error_code, error_message,
	                 created_at, updated_at, started_at, finished_at
	          FROM jobs WHERE id = $1`
	args := []any{id}
	if tenantID != "" {
		query += ` AND (tenant_id = $2 OR tenant_id IS NULL)`
		args = append(args, tenantID)
	}

	var j models.Job
	var status string
	var errorCode, errorMessage *string
	var payload, result []byte
	err := r.pool.QueryRow(ctx, query, args...).
		Scan(&j.ID, &j.TenantID, &j.RequestID, &payload, &status,
			&result, &errorCode, &errorMessage,
			&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	j.Status = models.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if errorCode != nil {
		j.ErrorCode = *errorCode
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	return &j, nil
}

func (r *JobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = $1, started_at = $2, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		string(models.JobStatusProcessing), startedAt, id, string(models.JobStatusPending))
}

func (r *JobRepo) Complete(ctx context.Context, id string, result json.RawMessage, finishedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = $1, result = $2, finished_at = $3, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(models.JobStatusCompleted), []byte(result), finishedAt,
		id, string(models.JobStatusProcessing))
}

func (r *JobRepo) Fail(ctx context.Context, id string, errorCode, errorMessage string, finishedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = $1, error_code = $2, error_message = $3, finished_at = $4, updated_at = $4
		 WHERE id = $5 AND status IN ($6, $7)`,
		string(models.JobStatusFailed), errorCode, errorMessage, finishedAt,
		id, string(models.JobStatusPending), string(models.JobStatusProcessing))
}

func (r *JobRepo) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := r.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&exists)
		if err != nil {
			return mapNotFound(err, repository.ErrNotFound)
		}
		return repository.ErrConflict
	}
	return nil
}

type UsageEventRepo struct {
	pool *pgxpool.Pool
}

var _ repository.UsageEventRepository = (*UsageEventRepo)(nil)

func NewUsageEventRepo(pool *pgxpool.Pool) *UsageEventRepo {
	return &UsageEventRepo{pool: pool}
}

func (r *UsageEventRepo) Create(ctx context.Context, event *models.UsageEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	var reasons []byte
	if event.ReasonCodes != nil {
		var err error
		if reasons, err = json.Marshal(event.ReasonCodes); err != nil {
			return fmt.Errorf("failed to encode reason codes: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_events (id, tenant_id, api_key_id, request_id, operation,
		                           status_code, error_code, accepted, reason_codes,
		                           latency_ms, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		event.ID, event.TenantID, event.KeyID, event.RequestID, event.Operation,
		event.StatusCode, event.ErrorCode, event.Accepted, reasons,
		event.LatencyMS, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}

func (r *UsageEventRepo) ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*models.UsageEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, COALESCE(tenant_id, ''), COALESCE(api_key_id, ''), COALESCE(request_id, ''),
		        operation, status_code, COALESCE(error_code, ''), accepted, reason_codes,
		        latency_ms, created_at
		 FROM usage_events
		 WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at`,
		tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageEvent
	for rows.Next() {
		var e models.UsageEvent
		var reasons []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.KeyID, &e.RequestID,
			&e.Operation, &e.StatusCode, &e.ErrorCode, &e.Accepted, &reasons,
			&e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		if len(reasons) > 0 {
			if err := json.Unmarshal(reasons, &e.ReasonCodes); err != nil {
				return nil, fmt.Errorf("invalid usage event reason_codes: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
