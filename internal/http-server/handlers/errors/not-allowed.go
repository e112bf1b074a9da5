package errors

import (
	"log/slog"
	"net/http"

	"invitegate/lib/api/response"
)

func NotAllowed(_ *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.Send(w, r, http.StatusMethodNotAllowed, response.Error("Method not allowed"))
	}
}
