package api

import (
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/poolswitch/internal/backend"
	"github.com/dreamware/poolswitch/internal/records"
	"github.com/dreamware/poolswitch/internal/router"
)

// Context carries the dependencies of every handler.
type Context struct {
	Service         *Service
	Registry        *backend.Registry
	Router          *router.Router
	Records         *records.Store
	ValidationQuery string
	RequestID       string
	Logger          log.FieldLogger
}

// Clone returns a shallow copy so a handler can decorate its logger without
// affecting other requests.
func (c *Context) Clone() *Context {
	clone := *c
	return &clone
}

type contextHandlerFunc func(c *Context, w http.ResponseWriter, r *http.Request)

type contextHandler struct {
	context *Context
	handler contextHandlerFunc
}

func newContextHandler(context *Context, handler contextHandlerFunc) *contextHandler {
	return &contextHandler{context: context, handler: handler}
}

func (h contextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	context := h.context.Clone()
	context.RequestID = uuid.NewString()
	context.Logger = context.Logger.WithFields(log.Fields{
		"path":    r.URL.Path,
		"request": context.RequestID,
	})

	h.handler(context, w, r)
}
