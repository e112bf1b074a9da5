package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"invitegate/entity"
	"invitegate/internal/database"
	"invitegate/lib/api/response"
	"invitegate/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Core interface {
	BanUser(ctx context.Context, userId int64) (int64, error)
	UnbanUser(ctx context.Context, userId int64) error
	LinkHistory(ctx context.Context, userId int64) ([]*entity.LinkHistoryItem, error)
}

type banResult struct {
	UserId      int64 `json:"user_id"`
	Deactivated int64 `json:"deactivated"`
}

func userId(logger *slog.Logger, w http.ResponseWriter, r *http.Request) (int64, *slog.Logger, bool) {
	param := chi.URLParam(r, "id")
	log := logger.With(
		sl.Module("http.handlers.users"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user_id", param),
	)
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		log.Warn("invalid user id")
		response.Send(w, r, http.StatusBadRequest, response.Error("Invalid user id"))
		return 0, log, false
	}
	return id, log, true
}

func Ban(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, log, ok := userId(logger, w, r)
		if !ok {
			return
		}
		n, err := handler.BanUser(r.Context(), id)
		if err != nil {
			log.Error("ban user", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Ban failed"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(banResult{UserId: id, Deactivated: n}))
	}
}

func Unban(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, log, ok := userId(logger, w, r)
		if !ok {
			return
		}
		if err := handler.UnbanUser(r.Context(), id); err != nil {
			log.Error("unban user", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("Unban failed"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(banResult{UserId: id}))
	}
}

func History(logger *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, log, ok := userId(logger, w, r)
		if !ok {
			return
		}
		items, err := handler.LinkHistory(r.Context(), id)
		if errors.Is(err, database.ErrNotFound) {
			response.Send(w, r, http.StatusNotFound, response.Error("User not found"))
			return
		}
		if err != nil {
			log.Error("link history", sl.Err(err))
			response.Send(w, r, http.StatusInternalServerError, response.Error("History not available"))
			return
		}
		response.Send(w, r, http.StatusOK, response.Ok(items))
	}
}
