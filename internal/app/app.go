// Package app wires repositories and services from config. Both the HTTP
// server and checkoutctl build on it.
package app

import (
	"fmt"
	"log/slog"

	"checkout-reconciler/internal/client"
	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/service"

	"gorm.io/gorm"
)

type App struct {
	DB     *gorm.DB
	Config *config.Config
	Logger *slog.Logger

	Orders        repository.OrderRepository
	Products      repository.ProductRepository
	Discounts     repository.DiscountRepository
	GiftCards     repository.GiftCardRepository
	Inventory     repository.InventoryRepository
	Outbox        repository.OutboxRepository
	WebhookEvents repository.WebhookEventRepository

	DiscountService  service.DiscountService
	GiftCardService  service.GiftCardService
	CheckoutService  service.CheckoutService
	InventoryService service.InventoryService
	ReconcileService service.ReconcileService
	Coordinator      service.CheckoutCoordinator
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := client.OpenDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	return NewWithDB(db, cfg, logger)
}

// NewWithDB wires everything on top of an open database.
func NewWithDB(db *gorm.DB, cfg *config.Config, logger *slog.Logger) (*App, error) {
	orderNumbers, err := service.NewOrderNumberGenerator(cfg.OrderNodeID)
	if err != nil {
		return nil, fmt.Errorf("create order number generator: %w", err)
	}

	a := &App{
		DB:            db,
		Config:        cfg,
		Logger:        logger,
		Orders:        repository.NewOrderRepository(db),
		Products:      repository.NewProductRepository(db),
		Discounts:     repository.NewDiscountRepository(db),
		GiftCards:     repository.NewGiftCardRepository(db),
		Inventory:     repository.NewInventoryRepository(db),
		Outbox:        repository.NewOutboxRepository(db),
		WebhookEvents: repository.NewWebhookEventRepository(db),
	}

	var retriever service.SessionRetriever
	if cfg.Provider.BaseApiURL != "" {
		retriever = client.NewProviderClient(&cfg.Provider)
	} else {
		logger.Warn("provider api url not configured, sessions cannot be retrieved")
	}

	a.DiscountService = service.NewDiscountService(db, a.Discounts)
	a.GiftCardService = service.NewGiftCardService(db, a.GiftCards, service.NewGiftCodeFormat(cfg.GiftCard.Prefix))
	materializer := service.NewOrderMaterializer(db,
		a.Orders,
		repository.NewCustomerRepository(db),
		a.Inventory,
		a.Outbox,
		a.DiscountService,
		a.GiftCardService,
		orderNumbers,
		logger,
	)
	a.Coordinator = service.NewCheckoutCoordinator(db, a.Orders, materializer, a.GiftCardService, a.DiscountService, retriever, logger)
	a.CheckoutService = service.NewCheckoutService(a.Products, a.DiscountService, a.GiftCardService)
	a.InventoryService = service.NewInventoryService(a.Inventory)
	a.ReconcileService = service.NewReconcileService(a.Orders)

	return a, nil
}

func (a *App) Migrate() error {
	return client.Migrate(a.DB)
}

func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
