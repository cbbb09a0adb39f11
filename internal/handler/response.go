package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"admin-auth/internal/service"
	"admin-auth/internal/util"
)

const msgUnavailable = "service unavailable, try again later"

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps a service error to its status and a message safe for
// the client. Infrastructure causes are logged and never echoed.
func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	public := publicError(err)

	fields := []zap.Field{
		util.Int("status_code", status),
		util.String("path", r.URL.Path),
		util.ErrorField(err),
	}
	if status >= http.StatusInternalServerError {
		util.Error("HTTP error response", fields...)
	} else {
		util.Debug("HTTP error response", fields...)
	}

	respondWithJSON(w, status, Response{Success: false, Error: public})
}

func statusFor(err error) int {
	switch {
	case service.IsInfrastructure(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrThrottled):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidOrExpiredCode),
		errors.Is(err, service.ErrTwoFactorRequired),
		errors.Is(err, service.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInvalidOrExpiredResetToken),
		errors.Is(err, service.ErrPasswordTooWeak),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func publicError(err error) string {
	switch statusFor(err) {
	case http.StatusServiceUnavailable:
		return msgUnavailable
	case http.StatusInternalServerError:
		return "internal error"
	}
	for _, known := range []error{
		service.ErrAccountLocked,
		service.ErrThrottled,
		service.ErrInvalidCredentials,
		service.ErrInvalidOrExpiredCode,
		service.ErrTwoFactorRequired,
		service.ErrInvalidSession,
		service.ErrInvalidOrExpiredResetToken,
		service.ErrPasswordTooWeak,
		service.ErrInvalidInput,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}
