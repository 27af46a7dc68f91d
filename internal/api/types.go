package api

import (
	"github.com/dreamware/poolswitch/internal/pool"
	"github.com/dreamware/poolswitch/internal/records"
)

// MigrationRequest is the body of POST /api/migrations.
type MigrationRequest struct {
	Backend string `json:"backend"`
}

// MigrationResponse reports one migration attempt.
type MigrationResponse struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Outcome string `json:"outcome"`
	Message string `json:"message"`
}

// ActiveResponse is returned by GET /api/backends/active.
type ActiveResponse struct {
	LookupKey string `json:"lookup_key"`
}

// BackendStatus describes one backend and its pool.
type BackendStatus struct {
	ID       string `json:"id"`
	IsActive bool   `json:"is_active"`
	pool.Stats
}

// BackendsResponse is returned by GET /api/backends.
type BackendsResponse struct {
	Active   string          `json:"active"`
	Backends []BackendStatus `json:"backends"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Backend         string `json:"backend"`
	Pool            string `json:"pool,omitempty"`
	ValidationQuery string `json:"validation_query"`
	Error           string `json:"error,omitempty"`
}

// Health statuses.
const (
	StatusUp   = "UP"
	StatusDown = "DOWN"
)

// StudentResponse wraps a single record with the backend that served it.
type StudentResponse struct {
	Backend string          `json:"backend"`
	Student records.Student `json:"student"`
}

// StudentsResponse wraps a record listing.
type StudentsResponse struct {
	Backend  string            `json:"backend"`
	Students []records.Student `json:"students"`
}

// CountResponse reports table totals.
type CountResponse struct {
	Backend string `json:"backend"`
	records.Counts
}

// ResetResponse reports a schema reset.
type ResetResponse struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
}
