package maintenance

import (
	"context"
	"log/slog"
	"net/http"

	"invitegate/internal/maintenance"
	"invitegate/lib/api/response"
	"invitegate/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
)

type Core interface {
	RunMaintenance(ctx context.Context) (maintenance.Report, error)
	EmergencyCleanup(ctx context.Context) (maintenance.Report, error)
}

func Run(logger *slog.Logger, handler Core) http.HandlerFunc {
	return run(logger, "run", handler.RunMaintenance)
}

func Emergency(logger *slog.Logger, handler Core) http.HandlerFunc {
	return run(logger, "emergency", handler.EmergencyCleanup)
}

// run detaches the sweep from the request deadline: a client timing out
// must not leave the store half cleaned
func run(logger *slog.Logger, kind string, fn func(ctx context.Context) (maintenance.Report, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.With(
			sl.Module("http.handlers.maintenance"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("kind", kind),
		)
		report, err := fn(context.WithoutCancel(r.Context()))
		if err != nil {
			log.Error("maintenance", sl.Err(err))
			response.Send(w, r, http.StatusServiceUnavailable, response.Error("Maintenance not available"))
			return
		}
		if report.Failed() {
			log.With(slog.Any("errors", report.Errors)).Warn("maintenance finished with errors")
		}
		response.Send(w, r, http.StatusOK, response.Ok(report))
	}
}
