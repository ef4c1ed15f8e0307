package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/tazhate/hound/internal/apperr"
)

// envelope is the body of every JSON response.
type envelope struct {
	Result  any    `json:"result"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respond(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Result: result})
}

// respondError maps err to its status and stable code. Server side failures
// are logged with the request ID and their detail is not echoed.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := envelope{Code: apperr.Code(err), Message: err.Error()}

	if status >= http.StatusInternalServerError {
		event := s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path)
		if e, ok := apperr.As(err); ok && e.DriverCode != "" {
			event = event.Str("driver_code", e.DriverCode)
		}
		event.Msg("request failed")
		body.Message = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("malformed request body: %v", err)
	}
	return nil
}
