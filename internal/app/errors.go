package app

import (
	"errors"
	"fmt"
	"net/http"

	"peritaje/api/internal/appraisal"
	"peritaje/api/internal/export"
	"peritaje/api/internal/identity"
	"peritaje/api/internal/store"
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

var (
	errUnauthorized = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden    = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, appraisal.ErrPayloadMalformed):
		return http.StatusBadRequest, "PAYLOAD_MALFORMED", "Appraisal data must be a JSON object", nil
	case errors.Is(err, appraisal.ErrNoOwner):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Sign in or provide an anonymous session id", nil
	case errors.Is(err, appraisal.ErrMissingAnonymousSession), errors.Is(err, appraisal.ErrMissingTargetUser):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrInvalidOwner):
		return http.StatusBadRequest, "INVALID_REQUEST", "Invalid record owner", nil
	case errors.Is(err, store.ErrDuplicateRequestID):
		return http.StatusConflict, "DUPLICATE_REQUEST_ID", "A different appraisal already uses this request id", nil
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return http.StatusConflict, "USER_EXISTS", "User already registered", nil
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, identity.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_BODY", err.Error(), nil
	case errors.Is(err, identity.ErrProviderFailure):
		return http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service unavailable", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF rendering is not available", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
