package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"checkout-reconciler/internal/dto"
	"checkout-reconciler/internal/middleware"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/service"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// AdminHandler serves the operator endpoints. Every route sits behind
// middleware.AdminAuth, which supplies the actor.
type AdminHandler struct {
	giftCardService service.GiftCardService
	discountService service.DiscountService
	orderRepo       repository.OrderRepository
}

func NewAdminHandler(
	giftCardService service.GiftCardService,
	discountService service.DiscountService,
	orderRepo repository.OrderRepository,
) *AdminHandler {
	return &AdminHandler{
		giftCardService: giftCardService,
		discountService: discountService,
		orderRepo:       orderRepo,
	}
}

func (h *AdminHandler) IssueGiftCard(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.IssueGiftCardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	amount, err := model.ParseCents(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	card, err := h.giftCardService.Issue(ctx, service.IssueGiftCardRequest{
		InitialBalance: amount,
		Currency:       req.Currency,
		ExpiresAt:      req.ExpiresAt,
		Activate:       req.Activate,
		RecipientName:  req.RecipientName,
		RecipientEmail: req.RecipientEmail,
		SenderName:     req.SenderName,
		Message:        req.Message,
		PurchaserEmail: req.PurchaserEmail,
	})
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusCreated, dto.NewGiftCardResponse(card))
}

func (h *AdminHandler) ActivateGiftCard(c echo.Context) error {
	card, err := h.giftCardService.Activate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, dto.NewGiftCardResponse(card))
}

func (h *AdminHandler) AdjustGiftCard(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.AdjustGiftCardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	amount, err := model.ParseCents(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	entry, err := h.giftCardService.Adjust(ctx, c.Param("id"), amount, req.Reason, middleware.Actor(c))
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, dto.NewGiftCardTransactionResponse(entry))
}

func (h *AdminHandler) TopUpGiftCard(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.TopUpGiftCardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	amount, err := model.ParseCents(req.Amount)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid amount")
	}

	entry, err := h.giftCardService.TopUp(ctx, c.Param("id"), amount, req.OrderID, middleware.Actor(c))
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, dto.NewGiftCardTransactionResponse(entry))
}

func (h *AdminHandler) ReconcileGiftCard(c echo.Context) error {
	rec, err := h.giftCardService.Reconcile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusOK, rec)
}

func (h *AdminHandler) CreateDiscount(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateDiscountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	discount, err := req.ToDiscountCode()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.discountService.Create(ctx, discount); err != nil {
		return serviceError(err)
	}

	return c.JSON(http.StatusCreated, dto.NewDiscountResponse(discount))
}

func (h *AdminHandler) DeleteDiscount(c echo.Context) error {
	if err := h.discountService.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return serviceError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) ListOrderEvents(c echo.Context) error {
	ctx := c.Request().Context()
	orderID := c.Param("id")

	if _, err := h.orderRepo.FindByID(ctx, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, service.ErrOrderNotFound.Error())
		}
		return fmt.Errorf("find order: %w", err)
	}

	events, err := h.orderRepo.ListEvents(ctx, orderID)
	if err != nil {
		return fmt.Errorf("list order events: %w", err)
	}

	resp := make([]*dto.OrderEventResponse, len(events))
	for i, ev := range events {
		resp[i] = dto.NewOrderEventResponse(ev)
	}

	return c.JSON(http.StatusOK, resp)
}
