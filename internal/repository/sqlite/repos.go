package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/repository"
)

type TenantRepo struct {
	db *sql.DB
}

var _ repository.TenantRepository = (*TenantRepo)(nil)

func NewTenantRepo(db *sql.DB) *TenantRepo {
	return &TenantRepo{db: db}
}

func (r *TenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at, updated_at, deleted_at) VALUES (?, ?, ?, ?, ?)`,
		tenant.ID, tenant.Name, formatTime(tenant.CreatedAt), formatTime(tenant.UpdatedAt),
		nullableTime(tenant.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *TenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at, deleted_at FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

func (r *TenantRepo) List(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at, deleted_at FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TenantRepo) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(deletedAt), formatTime(deletedAt), id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var t models.Tenant
	var createdAt, updatedAt string
	var deletedAt sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid tenant created_at: %w", err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid tenant updated_at: %w", err)
	}
	if t.DeletedAt, err = parseNullableTime(deletedAt); err != nil {
		return nil, fmt.Errorf("invalid tenant deleted_at: %w", err)
	}
	return &t, nil
}

type APIKeyRepo struct {
	db *sql.DB
}

var _ repository.APIKeyRepository = (*APIKeyRepo)(nil)

func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo {
	return &APIKeyRepo{db: db}
}

func (r *APIKeyRepo) Create(ctx context.Context, key *models.APIKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, tenant_id, digest, label, created_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.TenantID, key.Digest, nullableString(key.Label),
		formatTime(key.CreatedAt), nullableTime(key.RevokedAt))
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) GetByDigest(ctx context.Context, digest string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, digest, label, created_at, revoked_at
		 FROM api_keys WHERE digest = ?`, digest)
	return scanAPIKey(row)
}

func (r *APIKeyRepo) ListByTenant(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, digest, label, created_at, revoked_at
		 FROM api_keys WHERE tenant_id = ? ORDER BY created_at`, tenantID)
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
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		formatTime(revokedAt), id)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check revoke result: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var k models.APIKey
	var label, revokedAt sql.NullString
	var createdAt string
	if err := row.Scan(&k.ID, &k.TenantID, &k.Digest, &label, &createdAt, &revokedAt); err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	k.Label = label.String
	var err error
	if k.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid API key created_at: %w", err)
	}
	if k.RevokedAt, err = parseNullableTime(revokedAt); err != nil {
		return nil, fmt.Errorf("invalid API key revoked_at: %w", err)
	}
	return &k, nil
}

type JobRepo struct {
	db *sql.DB
}

var _ repository.JobRepository = (*JobRepo)(nil)

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{db: db}
}

func (r *JobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	var result sql.NullString
	if len(job.Result) > 0 {
		result = sql.NullString{String: string(job.Result), Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, request_id, payload, status,
		                   result, error_code, error_message,
		                   created_at, updated_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullableString(job.TenantID), job.RequestID, string(job.Payload),
		string(job.Status), result, nullableString(job.ErrorCode), nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
		nullableTime(job.StartedAt), nullableTime(job.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, tenantID, id string) (*models.Job, error) {
	// Unscoped lookups see everything; scoped ones see the tenant's own
	// jobs plus ownerless ones.
	var row *sql.Row
	if tenantID == "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, tenant_id, request_id, payload, status,
			        result, error_code, error_message,
			        created_at, updated_at, started_at, finished_at
			 FROM jobs WHERE id = ?`, id)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, tenant_id, request_id, payload, status,
			        result, error_code, error_message,
			        created_at, updated_at, started_at, finished_at
			 FROM jobs WHERE id = ? AND (tenant_id = ? OR tenant_id IS NULL)`, id, tenantID)
	}
	return scanJob(row)
}

func (r *JobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.JobStatusProcessing), formatTime(startedAt), formatTime(startedAt),
		id, string(models.JobStatusPending))
}

func (r *JobRepo) Complete(ctx context.Context, id string, result json.RawMessage, finishedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = ?, result = ?, finished_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.JobStatusCompleted), string(result), formatTime(finishedAt), formatTime(finishedAt),
		id, string(models.JobStatusProcessing))
}

func (r *JobRepo) Fail(ctx context.Context, id string, errorCode, errorMessage string, finishedAt time.Time) error {
	return r.transition(ctx, id,
		`UPDATE jobs SET status = ?, error_code = ?, error_message = ?, finished_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.JobStatusFailed), errorCode, errorMessage,
		formatTime(finishedAt), formatTime(finishedAt),
		id, string(models.JobStatusPending), string(models.JobStatusProcessing))
}

// transition runs a guarded status update. Zero rows affected means either
// the job does not exist or another writer already moved it on.
func (r *JobRepo) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check job transition result: %w", err)
	}
	if n == 0 {
		var exists int
		err := r.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return mapNotFound(err, repository.ErrNotFound)
		}
		return repository.ErrConflict
	}
	return nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var status, payload, createdAt, updatedAt string
	var tenant, result, errorCode, errorMessage, startedAt, finishedAt sql.NullString
	err := row.Scan(&j.ID, &tenant, &j.RequestID, &payload, &status,
		&result, &errorCode, &errorMessage,
		&createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, mapNotFound(err, repository.ErrNotFound)
	}
	j.TenantID = tenant.String
	j.Status = models.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	j.ErrorCode = errorCode.String
	j.ErrorMessage = errorMessage.String
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid job created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid job updated_at: %w", err)
	}
	if j.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, fmt.Errorf("invalid job started_at: %w", err)
	}
	if j.FinishedAt, err = parseNullableTime(finishedAt); err != nil {
		return nil, fmt.Errorf("invalid job finished_at: %w", err)
	}
	return &j, nil
}

type UsageEventRepo struct {
	db *sql.DB
}

var _ repository.UsageEventRepository = (*UsageEventRepo)(nil)

func NewUsageEventRepo(db *sql.DB) *UsageEventRepo {
	return &UsageEventRepo{db: db}
}

func (r *UsageEventRepo) Create(ctx context.Context, event *models.UsageEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	var accepted sql.NullInt64
	if event.Accepted != nil {
		accepted = sql.NullInt64{Int64: 0, Valid: true}
		if *event.Accepted {
			accepted.Int64 = 1
		}
	}
	reasons, err := encodeReasonCodes(event.ReasonCodes)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO usage_events (id, tenant_id, api_key_id, request_id, operation,
		                           status_code, error_code, accepted, reason_codes,
		                           latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, nullableString(event.TenantID), nullableString(event.KeyID),
		nullableString(event.RequestID), event.Operation, event.StatusCode,
		nullableString(event.ErrorCode), accepted, reasons,
		event.LatencyMS, formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create usage event: %w", err)
	}
	return nil
}

func (r *UsageEventRepo) ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*models.UsageEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, api_key_id, request_id, operation,
		        status_code, error_code, accepted, reason_codes,
		        latency_ms, created_at
		 FROM usage_events
		 WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		 ORDER BY created_at`,
		tenantID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageEvent
	for rows.Next() {
		var e models.UsageEvent
		var tenant, keyID, requestID, errorCode, reasons sql.NullString
		var accepted sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &tenant, &keyID, &requestID, &e.Operation,
			&e.StatusCode, &errorCode, &accepted, &reasons,
			&e.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		e.TenantID = tenant.String
		e.KeyID = keyID.String
		e.RequestID = requestID.String
		e.ErrorCode = errorCode.String
		if accepted.Valid {
			v := accepted.Int64 != 0
			e.Accepted = &v
		}
		if e.ReasonCodes, err = decodeReasonCodes(reasons); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("invalid usage event created_at: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func encodeReasonCodes(codes []string) (sql.NullString, error) {
	if codes == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode reason codes: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeReasonCodes(raw sql.NullString) ([]string, error) {
	if !raw.Valid {
		return nil, nil
	}
	var codes []string
	if err := json.Unmarshal([]byte(raw.String), &codes); err != nil {
		return nil, fmt.Errorf("invalid usage event reason_codes: %w", err)
	}
	return codes, nil
}
