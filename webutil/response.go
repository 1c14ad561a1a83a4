package webutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// RespondWithMessage writes the {"message": ...} acknowledgement body.
func RespondWithMessage(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"message": message})
}

func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set(HeaderContentType, ContentTypeJSONUTF8)

	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// HasResponseWriterSentHeader reports whether a response body has been started.
// It relies on every writer in this package setting Content-Type first.
func HasResponseWriterSentHeader(w http.ResponseWriter) bool {
	return w.Header().Get(HeaderContentType) != ""
}
