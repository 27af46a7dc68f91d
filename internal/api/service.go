package api

import (
	"context"

	"github.com/dreamware/poolswitch/internal/migration"
	"github.com/dreamware/poolswitch/internal/state"
)

// Service is the operator-facing management surface.
type Service struct {
	controller *migration.Controller
	active     *state.Active
}

// NewService returns a service that migrates with controller and reports
// the backend held by active.
func NewService(controller *migration.Controller, active *state.Active) *Service {
	return &Service{controller: controller, active: active}
}

// MigrateTo runs a migration to key and returns the operator message.
func (s *Service) MigrateTo(ctx context.Context, key string) string {
	return s.Migrate(ctx, key).Message()
}

// Migrate runs a migration to key and returns the full result.
func (s *Service) Migrate(ctx context.Context, key string) migration.Result {
	return s.controller.Migrate(ctx, key)
}

// CurrentLookupKey returns the lowercase identifier of the active backend.
func (s *Service) CurrentLookupKey() string {
	return s.active.LookupKey()
}
