package stats

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"invitegate/entity"
	"invitegate/internal/linkgen"
	"invitegate/lib/api/response"
	"invitegate/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Core interface {
	Overview(ctx context.Context) (entity.Overview, error)
	GeneratorStats() linkgen.Stats
	CleanupStats(ctx context.Context) (entity.CleanupStats, error)
	ChannelPerformance(ctx context.Context, channelId int64, days int) (entity.ChannelPerformance, error)
}

type overview struct {
	entity.Overview
	Generator linkgen.Stats `json:"generator"`
}

type cleanup struct {
	entity.CleanupStats
	Recommendations []string `json:"recommendations"`
}

func logFor(logger *slog.Logger, r *http.Request) *slog.Logger {
	return logger.With(
		sl.Module("http.handlers.stats"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func Overview(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logFor(logger, r)
		o, err := handler.Overview(r.Context())
		if err != nil {
			log.Error("overview", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Statistics not available"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(overview{Overview: o, Generator: handler.GeneratorStats()}))
	}
}

func Cleanup(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logFor(logger, r)
		c, err := handler.CleanupStats(r.Context())
		if err != nil {
			log.Error("cleanup stats", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Statistics not available"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(cleanup{CleanupStats: c, Recommendations: c.Recommendations()}))
	}
}

// Channel reports a window of daily stats, 7 days unless ?days= is given
func Channel(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelId := chi.URLParam(r, "id")
		log := logFor(logger, r).With(slog.String("channel_id", channelId))

		id, err := strconv.ParseInt(channelId, 10, 64)
		if err != nil {
			log.Warn("invalid channel id")
			response.Send(w, r, http.StatusBadRequest, response.Error("Invalid channel id"))
			return
		}
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			days, err = strconv.Atoi(v)
			if err != nil || days < 1 || days > 90 {
				response.Send(w, r, http.StatusBadRequest, response.Error("Days must be between 1 and 90"))
				return
			}
		}
		p, err := handler.ChannelPerformance(r.Context(), id, days)
		if err != nil {
			log.Error("channel performance", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Statistics not available"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(p))
	}
}
