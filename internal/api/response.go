package api

import (
	"encoding/json"
	"net/http"
)

// envelope wraps every API response body: payload under "data", failures
// under "error". The data key is always present so consumers can decode
// without probing which shape they got.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// writeJSON sends data wrapped in the response envelope. An encode failure
// after the header is written cannot be reported to the client, so it only
// goes to the log.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		s.logger.Error("encoding api response", "error", err)
	}
}

// writeError sends an error envelope with no payload.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: msg}); err != nil {
		s.logger.Error("encoding api error response", "error", err)
	}
}
