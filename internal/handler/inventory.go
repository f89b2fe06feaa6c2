package handler

import (
	"net/http"
	"strconv"

	"checkout-reconciler/internal/dto"
	"checkout-reconciler/internal/service"

	"github.com/labstack/echo/v4"
)

type InventoryHandler struct {
	inventoryService service.InventoryService
}

func NewInventoryHandler(inventoryService service.InventoryService) *InventoryHandler {
	return &InventoryHandler{
		inventoryService: inventoryService,
	}
}

// ListInventory supports ?low_stock=N to list products at or below N units.
func (h *InventoryHandler) ListInventory(c echo.Context) error {
	ctx := c.Request().Context()

	lowStock := 0
	if raw := c.QueryParam("low_stock"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "low_stock must be a non-negative integer")
		}
		lowStock = n
	}

	products, err := h.inventoryService.ListStock(ctx, lowStock)
	if err != nil {
		return err
	}

	resp := make([]*dto.StockLevelResponse, len(products))
	for i, p := range products {
		resp[i] = dto.NewStockLevelResponse(p)
	}

	return c.JSON(http.StatusOK, resp)
}
