package domain

import "time"

// EndpointConfig is the per-tenant destination, owned by the property
// management collaborator and read-only to the delivery core.
type EndpointConfig struct {
	ID        string
	TenantID  string
	URL       string
	Secret    string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
