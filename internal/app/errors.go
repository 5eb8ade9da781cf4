package app

import (
	"errors"
	"fmt"
	"net/http"

	"inkwell/api/internal/store"
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

func errNotFound() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func errAccessDenied() *DomainError {
	return domainError(http.StatusForbidden, "ACCESS_DENIED", "Insufficient permission", nil)
}

func errAuthRequired() *DomainError {
	return domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
}

// accessError distinguishes an anonymous caller from an authenticated one
// lacking permission.
func accessError(requesterID string) *DomainError {
	if requesterID == "" {
		return errAuthRequired()
	}
	return errAccessDenied()
}

func errValidation(details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Invalid input", details)
}

func errVersionConflict() *DomainError {
	return domainError(http.StatusConflict, "VERSION_CONFLICT", "Document was modified concurrently, retry with a fresh read", nil)
}

func errDependency(err error) *DomainError {
	return domainError(http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", "A backing service failed", err.Error())
}

// storeFailure maps store sentinels onto domain errors; anything else is a
// dependency failure (connection loss, timeout), never a partial write.
func storeFailure(err error) *DomainError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errNotFound()
	case errors.Is(err, store.ErrVersionConflict):
		return errVersionConflict()
	default:
		return errDependency(err)
	}
}
