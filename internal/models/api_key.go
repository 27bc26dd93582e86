package models

import (
	"fmt"
	"strings"
	"time"
)

// KeyPrefix is the leading marker of every plaintext API key issued by this
// gateway. It lets operators recognize a leaked key in logs or repos.
const KeyPrefix = "pg_"

// APIKey is the stored form of a partner credential. Only the one-way digest
// is persisted; the plaintext is shown once at creation and never again.
type APIKey struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Digest    string     `json:"-"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (k *APIKey) Validate() error {
	if strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("API key ID is required")
	}
	if strings.TrimSpace(k.TenantID) == "" {
		return fmt.Errorf("API key tenant ID is required")
	}
	if strings.TrimSpace(k.Digest) == "" {
		return fmt.Errorf("API key digest is required")
	}
	return nil
}

// Active reports whether the key may still authenticate requests.
func (k *APIKey) Active() bool {
	return k.RevokedAt == nil
}
