package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"call-assist-go/internal/errs"
)

type errorBody struct {
	Stage string `json:"stage,omitempty"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy onto HTTP: caller-fixable configuration
// is 400, backend failures are 502, anything else is 500.
func statusFor(err error) int {
	switch {
	case errs.IsConfig(err):
		return http.StatusBadRequest
	case errs.IsProvider(err), errs.IsParse(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeStageError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var se *errs.StageError
	if errors.As(err, &se) {
		body.Stage = se.Stage
		body.Error = se.Err.Error()
	}
	status := statusFor(err)
	s.log.WithRequest(r).WithField("stage", body.Stage).WithField("status", status).
		WithField("error", body.Error).Warn("stage request failed")
	writeJSON(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
