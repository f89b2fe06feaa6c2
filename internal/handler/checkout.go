package handler

import (
	"errors"
	"net/http"

	"checkout-reconciler/internal/dto"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/service"

	"github.com/labstack/echo/v4"
)

type CheckoutHandler struct {
	checkoutService service.CheckoutService
	coordinator     service.CheckoutCoordinator
	discountService service.DiscountService
	giftCardService service.GiftCardService
}

func NewCheckoutHandler(
	checkoutService service.CheckoutService,
	coordinator service.CheckoutCoordinator,
	discountService service.DiscountService,
	giftCardService service.GiftCardService,
) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		coordinator:     coordinator,
		discountService: discountService,
		giftCardService: giftCardService,
	}
}

func (h *CheckoutHandler) Prepare(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.PrepareCheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	resp, err := h.checkoutService.Prepare(ctx, &req)
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, resp)
}

// Success is where the provider redirects the buyer. The order is created
// here when the webhook has not arrived yet.
func (h *CheckoutHandler) Success(c echo.Context) error {
	ctx := c.Request().Context()

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing session_id")
	}

	order, err := h.coordinator.HandleSuccessPage(ctx, sessionID)
	if errors.Is(err, service.ErrSessionIncomplete) {
		return c.JSON(http.StatusAccepted, &dto.ProcessingResponse{
			Status:    "processing",
			SessionID: sessionID,
		})
	}
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}

func (h *CheckoutHandler) ValidateDiscount(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ValidateDiscountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	customer := model.CustomerRef{ID: req.CustomerID, Email: req.CustomerEmail}
	v, err := h.discountService.Validate(ctx, req.Code, req.SubtotalCents, customer)
	if err != nil {
		return err
	}
	if !v.Valid {
		return c.JSON(http.StatusOK, &dto.ValidateDiscountResponse{Reason: v.Reason})
	}

	result := h.discountService.Apply(v.Discount, req.SubtotalCents, req.ShippingCents)
	return c.JSON(http.StatusOK, &dto.ValidateDiscountResponse{
		Valid:         true,
		Code:          v.Discount.Code,
		Type:          v.Discount.Type,
		Value:         v.Discount.Value.String(),
		Description:   v.Discount.Description,
		DiscountCents: result.DiscountAmount,
		NewSubtotal:   result.NewSubtotal,
		NewShipping:   result.NewShipping,
		NewTotal:      result.NewTotal,
	})
}

func (h *CheckoutHandler) ValidateGiftCard(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ValidateGiftCardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	v, err := h.giftCardService.Validate(ctx, req.Code)
	if err != nil {
		return err
	}
	if !v.Valid {
		return c.JSON(http.StatusOK, &dto.ValidateGiftCardResponse{Reason: v.Reason})
	}

	return c.JSON(http.StatusOK, &dto.ValidateGiftCardResponse{
		Valid:        true,
		Code:         v.GiftCard.Code,
		BalanceCents: v.GiftCard.CurrentBalanceCents,
		Balance:      v.GiftCard.CurrentBalanceCents.Format(),
	})
}
