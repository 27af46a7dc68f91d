package api

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/dreamware/poolswitch/internal/migration"
)

func TestMigrationStatus(t *testing.T) {
	tests := []struct {
		name string
		res  migration.Result
		want int
	}{
		{name: "succeeded", res: migration.Result{Outcome: migration.OutcomeSucceeded}, want: http.StatusOK},
		{name: "invalid", res: migration.Result{Outcome: migration.OutcomeFailed, Err: errors.Wrap(migration.ErrInvalidTarget, "x")}, want: http.StatusBadRequest},
		{name: "already active", res: migration.Result{Outcome: migration.OutcomeFailed, Err: migration.ErrAlreadyActive}, want: http.StatusConflict},
		{name: "in progress", res: migration.Result{Outcome: migration.OutcomeFailed, Err: migration.ErrMigrationInProgress}, want: http.StatusConflict},
		{name: "not registered", res: migration.Result{Outcome: migration.OutcomeFailed, Err: errors.Wrap(migration.ErrNotRegistered, "primary")}, want: http.StatusInternalServerError},
		{name: "rolled back", res: migration.Result{Outcome: migration.OutcomeFailed, Err: migration.ErrDrainTimedOut}, want: http.StatusInternalServerError},
		{name: "fatal", res: migration.Result{Outcome: migration.OutcomeFatal, Err: migration.ErrResumeTargetFailed}, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, migrationStatus(tt.res))
		})
	}
}
