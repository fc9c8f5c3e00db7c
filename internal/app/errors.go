package app

import (
	"errors"
	"fmt"
	"net/http"

	"attest/api/internal/auth"
	"attest/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func badRequest(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "BAD_REQUEST", message, details)
}

// mapError translates service and store errors into an HTTP shape.
// Store sentinels cover the common cases; anything unrecognized is a 500.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	}
	if errors.Is(err, store.ErrArchivedTemplate) {
		return http.StatusBadRequest, "BAD_REQUEST", "Archived templates cannot be published; clone instead", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
