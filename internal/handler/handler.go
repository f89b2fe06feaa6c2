package handler

import (
	"errors"
	"net/http"

	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/service"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// serviceError maps domain errors to HTTP errors. Anything unknown is
// returned as is and becomes a 500 in echo's error handler.
func serviceError(err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, errorResponse{
			Error:  "validation failed",
			Field:  verr.Field,
			Reason: verr.Reason,
		})
	case errors.Is(err, service.ErrGiftCardNotFound),
		errors.Is(err, service.ErrDiscountNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrDuplicateCode):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrBalanceContention):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrGiftCardNotActive),
		errors.Is(err, service.ErrGiftCardEmpty),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAdjustmentNoEffect),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, service.ErrUsageLimitReached),
		errors.Is(err, service.ErrPerCustomerLimitReached):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrMixedCurrency),
		errors.Is(err, service.ErrMissingSession):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}
