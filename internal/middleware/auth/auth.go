// Package auth authenticates partner requests by API key. Three modes are
// supported: open (no auth, local development), static (keys from the
// environment) and store (keys resolved against the database).
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/pregrade/gateway/internal/config"
	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/logging"
	"github.com/pregrade/gateway/internal/models"
)

// HeaderAPIKey is the header partners present their credential in.
const HeaderAPIKey = "X-API-Key"

type ctxKey int

const identityKey ctxKey = 0

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	TenantID string
	KeyID    string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, logging.TenantIDKey, id.TenantID)
}

// IdentityFrom returns the caller identity, if any. In open mode no identity
// is attached and ok is false.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// KeyVerifier resolves a plaintext key to its active record.
type KeyVerifier interface {
	Authenticate(ctx context.Context, plaintext string) (*models.APIKey, error)
}

type Middleware struct {
	mode       string
	staticKeys []string
	verifier   KeyVerifier
	exempt     map[string]bool
}

// NewMiddleware builds the authenticator for the configured mode. In store
// mode verifier must be non-nil; a nil verifier is treated as a deployment
// mistake and every request fails with INTERNAL_ERROR rather than silently
// letting traffic through.
func NewMiddleware(mode string, staticKeys []string, verifier KeyVerifier, exemptPaths ...string) *Middleware {
	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}
	return &Middleware{mode: mode, staticKeys: staticKeys, verifier: verifier, exempt: exempt}
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.mode == config.AuthModeOpen || m.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get(HeaderAPIKey)
		if presented == "" {
			envelope.WriteError(w, http.StatusUnauthorized, "",
				apierrors.ErrMissingAPIKey, "API key required in "+HeaderAPIKey+" header")
			return
		}

		identity, err := m.resolve(r.Context(), presented)
		if err != nil {
			// Store failures are an operator problem, not a credential
			// problem: collapse them to INTERNAL_ERROR so internal codes
			// never reach partners.
			code := apierrors.GetCode(err)
			if code == apierrors.ErrInternalError || code == apierrors.ErrDatabaseError {
				envelope.WriteError(w, http.StatusInternalServerError, "",
					apierrors.ErrInternalError, "authentication unavailable")
				return
			}
			envelope.WriteError(w, http.StatusUnauthorized, "",
				apierrors.ErrInvalidAPIKey, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (m *Middleware) resolve(ctx context.Context, presented string) (Identity, error) {
	switch m.mode {
	case config.AuthModeStatic:
		for _, key := range m.staticKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
				return Identity{TenantID: staticTenantID(key)}, nil
			}
		}
		return Identity{}, apierrors.New(apierrors.ErrInvalidAPIKey, "invalid API key", nil)
	case config.AuthModeStore:
		if m.verifier == nil {
			return Identity{}, apierrors.New(apierrors.ErrInternalError, "auth store not configured", nil)
		}
		key, err := m.verifier.Authenticate(ctx, presented)
		if err != nil {
			return Identity{}, err
		}
		return Identity{TenantID: key.TenantID, KeyID: key.ID}, nil
	default:
		return Identity{}, apierrors.New(apierrors.ErrInternalError, "unknown auth mode", nil)
	}
}

// staticTenantID gives each static key a stable pseudo-tenant so rate
// limiting and usage records stay per-key even without a tenant store.
func staticTenantID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "static_" + hex.EncodeToString(sum[:])[:12]
}
