package app

import (
	"errors"
	"fmt"
	"net/http"

	"greenroom/api/internal/pipeline"
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

func forbiddenError() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func notFoundError() *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func quotaError(resource string, limit, current int) *DomainError {
	return domainError(http.StatusConflict, "QUOTA_EXCEEDED",
		fmt.Sprintf("Plan limit reached for %s", resource),
		map[string]any{"resource": resource, "limit": limit, "current": current})
}

func scopeError(err error) *DomainError {
	return domainError(http.StatusForbidden, "SCOPE_RESOLUTION_FAILED", err.Error(), nil)
}

// gateError translates the state machine's sentinel errors into the HTTP
// error taxonomy. Anything unrecognized passes through unchanged.
func gateError(err error) error {
	switch {
	case errors.Is(err, pipeline.ErrEnergyRequired):
		return domainError(http.StatusUnprocessableEntity, "ENERGY_REQUIRED", "Energy rating required before team review", nil)
	case errors.Is(err, pipeline.ErrContractNotSigned):
		return domainError(http.StatusUnprocessableEntity, "CONTRACT_NOT_SIGNED", "Contract must be signed before scheduling", nil)
	case errors.Is(err, pipeline.ErrAlreadyFinal):
		return domainError(http.StatusConflict, "ALREADY_FINAL", "Track is already in the vault", nil)
	case errors.Is(err, pipeline.ErrReasonRequired):
		return domainError(http.StatusUnprocessableEntity, "REASON_REQUIRED", "Rejection reason required", nil)
	case errors.Is(err, pipeline.ErrArchived):
		return domainError(http.StatusConflict, "TRACK_ARCHIVED", "Archived tracks cannot be modified", nil)
	case errors.Is(err, pipeline.ErrForbidden):
		return forbiddenError()
	default:
		return err
	}
}
