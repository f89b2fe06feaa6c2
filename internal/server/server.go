package server

import (
	"context"
	"net/http"

	"checkout-reconciler/internal/handler"
	appmiddleware "checkout-reconciler/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo             *echo.Echo
	webhookHandler   *handler.WebhookHandler
	checkoutHandler  *handler.CheckoutHandler
	adminHandler     *handler.AdminHandler
	inventoryHandler *handler.InventoryHandler
	adminSecret      string
}

func NewServer(
	webhookHandler *handler.WebhookHandler,
	checkoutHandler *handler.CheckoutHandler,
	adminHandler *handler.AdminHandler,
	inventoryHandler *handler.InventoryHandler,
	adminSecret string,
) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:             e,
		webhookHandler:   webhookHandler,
		checkoutHandler:  checkoutHandler,
		adminHandler:     adminHandler,
		inventoryHandler: inventoryHandler,
		adminSecret:      adminSecret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- provider webhooks / redirects --------
	api.POST("/webhooks/payments", s.webhookHandler.PaymentWebhook)
	api.GET("/checkout/success", s.checkoutHandler.Success)

	// -------- storefront --------
	api.POST("/checkout/prepare", s.checkoutHandler.Prepare)
	api.POST("/discounts/validate", s.checkoutHandler.ValidateDiscount)
	api.POST("/gift-cards/validate", s.checkoutHandler.ValidateGiftCard)

	// -------- admin --------
	admin := api.Group("/admin", appmiddleware.AdminAuth(s.adminSecret))
	admin.POST("/gift-cards", s.adminHandler.IssueGiftCard)
	admin.POST("/gift-cards/:id/activate", s.adminHandler.ActivateGiftCard)
	admin.POST("/gift-cards/:id/adjust", s.adminHandler.AdjustGiftCard)
	admin.POST("/gift-cards/:id/top-up", s.adminHandler.TopUpGiftCard)
	admin.GET("/gift-cards/:id/reconcile", s.adminHandler.ReconcileGiftCard)
	admin.POST("/discounts", s.adminHandler.CreateDiscount)
	admin.DELETE("/discounts/:id", s.adminHandler.DeleteDiscount)
	admin.GET("/orders/:id/events", s.adminHandler.ListOrderEvents)
	admin.GET("/inventory", s.inventoryHandler.ListInventory)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
