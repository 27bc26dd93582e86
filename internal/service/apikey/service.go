// Package apikey issues and verifies partner credentials. Plaintext keys are
// shown once at creation; only a one-way digest is stored, and the digest is
// deterministic so authentication is a single indexed lookup.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/models"
	"github.com/pregrade/gateway/internal/repository"
)

// digestSalt is fixed so equal keys digest equally and GetByDigest works.
// The keys themselves are 160-bit random, so a rainbow table buys nothing.
var digestSalt = []byte("pregrade-gateway-key-digest-v1")

const digestIterations = 4096

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DigestKey maps a plaintext API key to its stored digest.
func DigestKey(plaintext string) string {
	sum := pbkdf2.Key([]byte(plaintext), digestSalt, digestIterations, 32, sha256.New)
	return hex.EncodeToString(sum)
}

type Config struct {
	Now    func() time.Time
	Random io.Reader
}

type Service struct {
	tenants repository.TenantRepository
	keys    repository.APIKeyRepository
	cfg     Config
}

func NewService(tenants repository.TenantRepository, keys repository.APIKeyRepository, cfg Config) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Random == nil {
		cfg.Random = rand.Reader
	}
	return &Service{tenants: tenants, keys: keys, cfg: cfg}
}

func (s *Service) CreateTenant(ctx context.Context, name string) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierrors.New(apierrors.ErrMissingRequiredField, "tenant name is required", nil)
	}
	now := s.cfg.Now().UTC()
	tenant := &models.Tenant{
		ID:        envelope.NewID("ten"),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to create tenant", err)
	}
	return tenant, nil
}

// DeleteTenant soft-deletes a tenant. Its keys stop authenticating at once;
// historical jobs and usage events stay untouched.
func (s *Service) DeleteTenant(ctx context.Context, tenantID string) error {
	err := s.tenants.SoftDelete(ctx, tenantID, s.cfg.Now().UTC())
	if repository.IsNotFound(err) {
		return apierrors.New(apierrors.ErrInvalidFieldValue, "unknown or already deleted tenant", err)
	}
	if err != nil {
		return apierrors.New(apierrors.ErrDatabaseError, "failed to delete tenant", err)
	}
	return nil
}

// IssueKey mints a new key for tenantID and returns the plaintext exactly
// once alongside the stored record.
func (s *Service) IssueKey(ctx context.Context, tenantID, label string) (string, *models.APIKey, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", nil, apierrors.New(apierrors.ErrInvalidFieldValue, "unknown tenant", err)
		}
		return "", nil, apierrors.New(apierrors.ErrDatabaseError, "failed to look up tenant", err)
	}
	if !tenant.Active() {
		return "", nil, apierrors.New(apierrors.ErrInvalidFieldValue, "tenant is deleted", nil)
	}

	raw := make([]byte, 20)
	if _, err := io.ReadFull(s.cfg.Random, raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	plaintext := models.KeyPrefix + strings.ToLower(keyEncoding.EncodeToString(raw))

	key := &models.APIKey{
		ID:        envelope.NewID("key"),
		TenantID:  tenantID,
		Digest:    DigestKey(plaintext),
		Label:     strings.TrimSpace(label),
		CreatedAt: s.cfg.Now().UTC(),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return "", nil, apierrors.New(apierrors.ErrDatabaseError, "failed to store API key", err)
	}
	return plaintext, key, nil
}

func (s *Service) RevokeKey(ctx context.Context, keyID string) error {
	err := s.keys.Revoke(ctx, keyID, s.cfg.Now().UTC())
	if repository.IsNotFound(err) {
		return apierrors.New(apierrors.ErrInvalidFieldValue, "unknown or already revoked key", err)
	}
	if err != nil {
		return apierrors.New(apierrors.ErrDatabaseError, "failed to revoke API key", err)
	}
	return nil
}

func (s *Service) ListKeys(ctx context.Context, tenantID string) ([]*models.APIKey, error) {
	keys, err := s.keys.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to list API keys", err)
	}
	return keys, nil
}

// Authenticate resolves a presented plaintext key to its active record.
// A digest match is not enough: the key must be unrevoked and its owning
// tenant must not be soft-deleted.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error) {
	key, err := s.keys.GetByDigest(ctx, DigestKey(plaintext))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
		}
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to look up API key", err)
	}
	if !key.Active() {
		return nil, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
	}
	tenant, err := s.tenants.GetByID(ctx, key.TenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
		}
		return nil, apierrors.New(apierrors.ErrDatabaseError, "failed to look up tenant", err)
	}
	if !tenant.Active() {
		return nil, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
	}
	return key, nil
}
