package errors

import (
	"log/slog"
	"net/http"

	"invitegate/lib/api/response"
)

func NotFound(_ *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Send(w, r, http.StatusNotFound, response.Error("Requested resource not found"))
	}
}
