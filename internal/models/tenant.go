package models

import (
	"fmt"
	"strings"
	"time"
)

// Tenant is a partner account. API keys, jobs and usage events all hang off
// a tenant. Tenants are never hard-deleted; a non-nil DeletedAt cuts off
// every key the tenant owns without touching historical records.
type Tenant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the tenant can still authenticate.
func (t *Tenant) Active() bool {
	return t.DeletedAt == nil
}

func (t *Tenant) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tenant name is required")
	}
	return nil
}
