package models

import (
	"errors"
	"net/http"
)

// Business error taxonomy. Call sites wrap these with fmt.Errorf("%w: ...")
// and callers match with errors.Is.
var (
	ErrNotFound                   = errors.New("not found")
	ErrInvalidArgument            = errors.New("invalid argument")
	ErrUnauthorized               = errors.New("unauthorized")
	ErrInsufficientInventory      = errors.New("insufficient seats available")
	ErrIdentityVerificationFailed = errors.New("identity verification failed")
	ErrPaymentFailed              = errors.New("payment failed")
	ErrRefundProcessingFailed     = errors.New("refund processing failed")
	ErrStateConflict              = errors.New("state conflict")

	// ErrFatalConsistency means a compensating action itself failed and the
	// seat-count invariant may no longer hold. It must be escalated.
	ErrFatalConsistency = errors.New("fatal consistency error")
)

// HTTPStatus maps an error from the services layer onto a response code
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, ErrIdentityVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrRefundProcessingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
