package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/ashureev/cypherguy/internal/api"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Recoverer turns a handler panic into a logged JSON failure payload.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panicked",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", chiMiddleware.GetReqID(r.Context()),
				"stack", string(debug.Stack()))
			api.JSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false,
				"message": "internal error",
			})
		}()
		next.ServeHTTP(w, r)
	})
}
