package webutil

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// AppHandler represents a handler function that returns an error.
type AppHandler func(w http.ResponseWriter, r *http.Request) error

// MakeHandler adapts an AppHandler to the standard http.HandlerFunc signature.
// Returned errors are logged and turned into a JSON error body:
// *HTTPError keeps its code and message, sql.ErrNoRows becomes a 404 and
// anything else a 500.
func MakeHandler(handler AppHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := handler(w, r)
		if err == nil {
			return
		}

		logAttrs := []any{
			"path", r.URL.Path,
			"method", r.Method,
			"request_id", middleware.GetReqID(r.Context()),
		}

		var (
			httpErr       *HTTPError
			publicMessage string
			statusCode    int
		)
		switch {
		case errors.As(err, &httpErr):
			statusCode = httpErr.Code
			publicMessage = httpErr.Message
			logLevel := slog.LevelWarn // client errors are warnings server-side
			if statusCode >= 500 {
				logLevel = slog.LevelError
			}
			attrs := append([]any{"code", httpErr.Code, "msg", httpErr.Message}, logAttrs...)
			if cause := errors.Unwrap(httpErr); cause != nil && cause.Error() != publicMessage {
				attrs = append(attrs, "cause", cause)
			}
			slog.Log(r.Context(), logLevel, "Client error response", attrs...)

		case errors.Is(err, sql.ErrNoRows):
			statusCode = http.StatusNotFound
			publicMessage = msgNotFound
			slog.Info("Resource not found (sql.ErrNoRows)", append(logAttrs, "error", err)...)

		default:
			statusCode = http.StatusInternalServerError
			publicMessage = msgInternalServer
			slog.Error("Unhandled internal error", append(logAttrs, "error", err)...)
		}

		if HasResponseWriterSentHeader(w) {
			slog.Warn("Handler returned error after writing response header", append(logAttrs, "error", err)...)
			return
		}

		RespondWithError(w, statusCode, publicMessage)
	}
}
