package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/dreamware/poolswitch/internal/pool"
	"github.com/dreamware/poolswitch/internal/records"
)

func initRecords(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/students", addContext(handleSaveStudent)).Methods(http.MethodPost)
	rootRouter.Handle("/students", addContext(handleListStudents)).Methods(http.MethodGet)
	rootRouter.Handle("/students/{id:[0-9]+}", addContext(handleGetStudent)).Methods(http.MethodGet)
	rootRouter.Handle("/count", addContext(handleCount)).Methods(http.MethodGet)
	rootRouter.Handle("/reset", addContext(handleReset)).Methods(http.MethodPost)
}

// recordStatus maps a store error to a status code. Work that gave up on a
// suspended pool is reported as unavailable so clients can retry.
func recordStatus(err error) int {
	switch {
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrSuspended), errors.Is(err, pool.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleSaveStudent(c *Context, w http.ResponseWriter, r *http.Request) {
	c.Logger = c.Logger.WithField("action", "save-student")

	var student records.Student
	if err := json.NewDecoder(r.Body).Decode(&student); err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(student.Name) == "" {
		c.Logger.Error("student name is required")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	saved, id, err := c.Records.Save(r.Context(), student)
	if err != nil {
		c.Logger.WithError(err).Error("failed to save student")
		w.WriteHeader(recordStatus(err))
		return
	}
	writeJSON(c, w, http.StatusCreated, StudentResponse{Backend: id.String(), Student: saved})
}

func handleListStudents(c *Context, w http.ResponseWriter, r *http.Request) {
	students, id, err := c.Records.FindAll(r.Context())
	if err != nil {
		c.Logger.WithError(err).Error("failed to list students")
		w.WriteHeader(recordStatus(err))
		return
	}
	writeJSON(c, w, http.StatusOK, StudentsResponse{Backend: id.String(), Students: students})
}

func handleGetStudent(c *Context, w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.Logger = c.Logger.WithField("student", studentID)

	student, id, err := c.Records.FindByID(r.Context(), studentID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to get student")
		w.WriteHeader(recordStatus(err))
		return
	}
	writeJSON(c, w, http.StatusOK, StudentResponse{Backend: id.String(), Student: student})
}

func handleCount(c *Context, w http.ResponseWriter, r *http.Request) {
	counts, id, err := c.Records.Count(r.Context())
	if err != nil {
		c.Logger.WithError(err).Error("failed to count records")
		w.WriteHeader(recordStatus(err))
		return
	}
	writeJSON(c, w, http.StatusOK, CountResponse{Backend: id.String(), Counts: counts})
}

func handleReset(c *Context, w http.ResponseWriter, r *http.Request) {
	id, err := c.Records.ResetSchema(r.Context())
	if err != nil {
		c.Logger.WithError(err).Error("failed to reset schema")
		w.WriteHeader(recordStatus(err))
		return
	}
	writeJSON(c, w, http.StatusOK, ResetResponse{Backend: id.String(), Status: "SUCCESS"})
}
