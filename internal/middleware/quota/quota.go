// Package quota enforces the per-tenant request budget at the HTTP edge.
package quota

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pregrade/gateway/internal/envelope"
	apierrors "github.com/pregrade/gateway/internal/errors"
	"github.com/pregrade/gateway/internal/middleware/auth"
	"github.com/pregrade/gateway/internal/ratelimit"
)

type Middleware struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	exempt  map[string]bool
}

func NewMiddleware(limiter *ratelimit.Limiter, logger *slog.Logger, exemptPaths ...string) *Middleware {
	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}
	return &Middleware{limiter: limiter, logger: logger, exempt: exempt}
}

// Wrap applies the limit per authenticated tenant. Unauthenticated traffic
// shares one anonymous bucket. Headers are only emitted when limiting is
// configured, so an unlimited deployment leaks nothing about internals.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.limiter.Enabled() || m.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		subject := "anonymous"
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			subject = id.TenantID
		}

		decision, err := m.limiter.Check(r.Context(), subject)
		if err != nil {
			// Fail open: a broken counter store must not block traffic.
			m.logger.WarnContext(r.Context(), "rate limit store unavailable", "error", err)
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

		if !decision.Allowed {
			envelope.WriteError(w, http.StatusTooManyRequests, "",
				apierrors.ErrRateLimited, "rate limit exceeded, retry after window reset")
			return
		}

		next.ServeHTTP(w, r)
	})
}
