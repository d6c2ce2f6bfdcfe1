package api

import (
	"context"
	"errors"
	"net/http"

	"mobibook/internal/database"
	"mobibook/internal/pricing"
	"mobibook/internal/service"
	"mobibook/internal/slots"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// apiError is the transport view of a service error.
type apiError struct {
	HTTPStatus int
	Code       string
	GRPCCode   codes.Code
	Message    string
}

// classify maps an error onto status codes. Compensation failures are checked
// first because they are joined with the error that caused them.
func classify(err error) apiError {
	switch {
	case errors.Is(err, service.ErrCompensationFailed):
		return apiError{http.StatusInternalServerError, "compensation_failed", codes.Internal, "internal error"}
	case errors.Is(err, service.ErrSlotUnavailable):
		return apiError{http.StatusConflict, "slot_unavailable", codes.Aborted, service.ErrSlotUnavailable.Error()}
	case errors.Is(err, service.ErrInvalidTransition):
		return apiError{http.StatusConflict, "invalid_transition", codes.FailedPrecondition, err.Error()}
	case errors.Is(err, service.ErrConcurrentModification):
		return apiError{http.StatusConflict, "conflict", codes.Aborted, err.Error()}
	case errors.Is(err, database.ErrSlotInUse):
		return apiError{http.StatusConflict, "slot_in_use", codes.FailedPrecondition, err.Error()}
	case errors.Is(err, service.ErrNotFound), errors.Is(err, database.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", codes.NotFound, err.Error()}
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, slots.ErrInvalidPlan),
		errors.Is(err, pricing.ErrUnknownService),
		errors.Is(err, pricing.ErrUnknownSize),
		errors.Is(err, pricing.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "invalid_request", codes.InvalidArgument, err.Error()}
	case errors.Is(err, service.ErrForbidden):
		return apiError{http.StatusForbidden, "forbidden", codes.PermissionDenied, err.Error()}
	case errors.Is(err, service.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, "rate_limited", codes.ResourceExhausted, err.Error()}
	case errors.Is(err, service.ErrStoreUnavailable):
		return apiError{http.StatusServiceUnavailable, "unavailable", codes.Unavailable, "service temporarily unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusGatewayTimeout, "timeout", codes.DeadlineExceeded, "request timed out"}
	case errors.Is(err, context.Canceled):
		return apiError{499, "canceled", codes.Canceled, "request canceled"}
	default:
		return apiError{http.StatusInternalServerError, "internal", codes.Internal, "internal error"}
	}
}

func grpcError(err error) error {
	e := classify(err)
	return status.Error(e.GRPCCode, e.Message)
}
