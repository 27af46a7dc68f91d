// Package api exposes the management surface and the record endpoints over
// HTTP.
package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Register registers the API endpoints on the given router.
func Register(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/health", addContext(handleHealth)).Methods(http.MethodGet)

	// Full paths on the root router: a PathPrefix subrouter answers a
	// method mismatch with 404 instead of 405.
	rootRouter.Handle("/api/migrations", addContext(handleMigrate)).Methods(http.MethodPost)
	rootRouter.Handle("/api/backends", addContext(handleListBackends)).Methods(http.MethodGet)
	rootRouter.Handle("/api/backends/active", addContext(handleGetActive)).Methods(http.MethodGet)

	initRecords(rootRouter, context)
}

// NewHandler builds the complete HTTP handler: routes, panic recovery and,
// when accessLog is not nil, an access log in combined log format.
func NewHandler(context *Context, accessLog io.Writer) http.Handler {
	router := mux.NewRouter()
	Register(router, context)

	var h http.Handler = router
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(context.Logger),
		handlers.PrintRecoveryStack(true),
	)(h)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}

func outputJSON(c *Context, w io.Writer, data interface{}) {
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		c.Logger.WithError(err).Error("failed to encode result")
	}
}

func writeJSON(c *Context, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	outputJSON(c, w, data)
}
