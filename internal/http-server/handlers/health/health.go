package health

import (
	"context"
	"log/slog"
	"net/http"

	"invitegate/lib/api/response"
	"invitegate/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
)

type Core interface {
	Health(ctx context.Context) error
}

func Check(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if handler == nil {
			response.Send(w, r, http.StatusServiceUnavailable, response.Error("Service not available"))
			return
		}
		if err := handler.Health(r.Context()); err != nil {
			logger.With(
				sl.Module("http.handlers.health"),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			).Error("health check", sl.Err(err))
			response.Send(w, r, http.StatusServiceUnavailable, response.Error("Storage not available"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(nil))
	}
}
