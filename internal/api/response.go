package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackError is sent when a response cannot be encoded.
var fallbackError = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse encodes response before touching headers, so an encoding
// failure still yields a well-formed 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		body = fallbackError
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", err)
	}
}
