package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/services"
)

type errorBody struct {
	Error  string           `json:"error"`
	Issues []services.Issue `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorTooLarge:
		return http.StatusRequestEntityTooLarge
	case services.ErrorTooManyRequests:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeServiceError maps service errors onto statuses. Anything else is an
// internal failure: logged in full, answered with a generic message.
func (rt *Router) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if se, ok := services.AsServiceError(err); ok {
		writeJSON(w, statusFor(se.Code), errorBody{Error: se.Message, Issues: se.Issues})
		return
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
		return
	}
	rt.deps.Logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return services.NewInvalidError("Invalid payload")
	}
	return nil
}
