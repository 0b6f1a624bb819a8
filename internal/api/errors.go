package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// AppError is an error with an HTTP status and the JSON body sent to the caller.
// Detail and Remaining are only set for quota responses.
type AppError struct {
	Code      int    `json:"-"`
	Message   string `json:"error"`
	Detail    string `json:"message,omitempty"`
	Remaining *int   `json:"remaining,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrInvalidBody      = &AppError{Code: http.StatusBadRequest, Message: "Invalid request body"}
	ErrUnauthorized     = &AppError{Code: http.StatusUnauthorized, Message: "Please sign in to use the AI generator"}
	ErrInvalidToken     = &AppError{Code: http.StatusUnauthorized, Message: "Invalid or expired session. Please sign in again."}
	ErrUpstreamBusy     = &AppError{Code: http.StatusTooManyRequests, Message: "AI service is busy. Please try again in a moment."}
	ErrUpstreamDown     = &AppError{Code: http.StatusServiceUnavailable, Message: "AI service temporarily unavailable. Please try again later."}
	ErrGenerationFailed = &AppError{Code: http.StatusInternalServerError, Message: "Failed to generate prompt. Please try again."}
	ErrInternalServer   = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

// NewQuotaError builds the 429 body returned when the caller's daily quota is spent.
func NewQuotaError(detail string) *AppError {
	zero := 0
	return &AppError{
		Code:      http.StatusTooManyRequests,
		Message:   "Daily limit reached",
		Detail:    detail,
		Remaining: &zero,
	}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(appErr.Code)
		json.NewEncoder(w).Encode(appErr)
		return
	}
	JSONErrorMessage(w, http.StatusInternalServerError, ErrInternalServer.Message)
}
