package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/migration"
)

const healthTimeout = 5 * time.Second

func handleMigrate(c *Context, w http.ResponseWriter, r *http.Request) {
	c.Logger = c.Logger.WithField("action", "migrate-backend")

	var req MigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.Logger = c.Logger.WithField("backend", req.Backend)

	res := c.Service.Migrate(r.Context(), req.Backend)
	writeJSON(c, w, migrationStatus(res), MigrationResponse{
		ID:      res.ID,
		From:    res.From.String(),
		To:      res.To.String(),
		Outcome: string(res.Outcome),
		Message: res.Message(),
	})
}

// migrationStatus maps an outcome to the HTTP status returned to operators.
func migrationStatus(res migration.Result) int {
	switch {
	case res.Succeeded():
		return http.StatusOK
	case res.Fatal():
		return http.StatusServiceUnavailable
	case errors.Is(res.Err, migration.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(res.Err, migration.ErrAlreadyActive),
		errors.Is(res.Err, migration.ErrMigrationInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func handleGetActive(c *Context, w http.ResponseWriter, r *http.Request) {
	writeJSON(c, w, http.StatusOK, ActiveResponse{LookupKey: c.Service.CurrentLookupKey()})
}

func handleListBackends(c *Context, w http.ResponseWriter, r *http.Request) {
	active := c.Router.CurrentID()

	resp := BackendsResponse{Active: active.String()}
	for _, e := range c.Registry.Entries() {
		resp.Backends = append(resp.Backends, BackendStatus{
			ID:       e.ID.String(),
			IsActive: e.ID == active,
			Stats:    e.Pool.Stats(),
		})
	}
	writeJSON(c, w, http.StatusOK, resp)
}

// handleHealth runs the validation query against the active backend only.
// Suspended pools are expected and do not make the service unhealthy.
func handleHealth(c *Context, w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(c.ValidationQuery)
	if query == "" {
		query = "SELECT 1"
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: StatusUp, ValidationQuery: query}
	if p, err := c.Router.CurrentPool(); err == nil {
		resp.Pool = p.Name()
	}

	lease, id, err := c.Router.Acquire(ctx)
	resp.Backend = id.String()
	if err == nil {
		_, err = lease.ExecContext(ctx, query)
		lease.Close()
	}
	if err != nil {
		c.Logger.WithError(err).Warn("Health check failed")
		resp.Status = StatusDown
		resp.Error = err.Error()
		writeJSON(c, w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(c, w, http.StatusOK, resp)
}
