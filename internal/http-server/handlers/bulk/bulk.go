package bulk

import (
	"errors"
	"log/slog"
	"net/http"

	"invitegate/internal/linkgen"
	"invitegate/lib/api/response"
	"invitegate/lib/sl"
	"invitegate/lib/validate"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	Bulk(userIds []int64, done func(report linkgen.BulkReport, err error)) error
	RegenerateAll(done func(report linkgen.BulkReport, err error)) error
	AbortBulk() bool
	BulkProgress() (linkgen.BulkReport, bool)
}

// Request selects the users of a bulk job; no ids means all eligible users.
// Regenerate deactivates every credential first.
type Request struct {
	UserIds    []int64 `json:"user_ids" validate:"omitempty,max=100000,dive,gt=0"`
	Regenerate bool    `json:"regenerate"`
}

func logFor(logger *slog.Logger, r *http.Request) *slog.Logger {
	return logger.With(
		sl.Module("http.handlers.bulk"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func Start(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logFor(logger, r)

		var req Request
		if r.ContentLength != 0 {
			if err := render.DecodeJSON(r.Body, &req); err != nil {
				log.Warn("decoding request", sl.Err(err))
				response.Send(w, r, http.StatusBadRequest, response.Error("Invalid request body"))
				return
			}
		}
		if err := validate.Struct(req); err != nil {
			response.Send(w, r, http.StatusBadRequest, response.Error(err.Error()))
			return
		}

		done := func(report linkgen.BulkReport, err error) {
			if err != nil {
				log.Error("bulk job", sl.Err(err))
				return
			}
			log.With(slog.Any("report", report)).Info("bulk job finished")
		}
		var err error
		if req.Regenerate {
			err = handler.RegenerateAll(done)
		} else {
			err = handler.Bulk(req.UserIds, done)
		}
		if errors.Is(err, linkgen.ErrBulkRunning) {
			response.Send(w, r, http.StatusConflict, response.Error("A bulk job is already running"))
			return
		}
		if err != nil {
			log.Error("starting bulk job", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Bulk job not started"))
			return
		}
		response.Send(w, r, http.StatusAccepted, response.Ok(nil))
	}
}

func Abort(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !handler.AbortBulk() {
			response.Send(w, r, http.StatusNotFound, response.Error("No bulk job is running"))
			return
		}
		logFor(logger, r).Info("bulk job aborted")
		response.Send(w, r, http.StatusOK, response.Ok(nil))
	}
}

// Progress returns the running job, or the last finished one
func Progress(_ *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := handler.BulkProgress()
		if !ok {
			response.Send(w, r, http.StatusNotFound, response.Error("No bulk job has run"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(report))
	}
}
