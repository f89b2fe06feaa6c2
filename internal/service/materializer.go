package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const TopicOrderCompleted = "order.completed"

var ErrMissingSession = errors.New("payment session id is required")

// OrderCompletedNotification is the outbox payload for a new order.
type OrderCompletedNotification struct {
	OrderID       string                 `json:"order_id"`
	OrderNumber   string                 `json:"order_number"`
	Status        model.OrderStatus      `json:"status"`
	CustomerEmail string                 `json:"customer_email"`
	CustomerName  string                 `json:"customer_name"`
	Currency      string                 `json:"currency"`
	SubtotalCents model.Cents            `json:"subtotal_cents"`
	ShippingCents model.Cents            `json:"shipping_cents"`
	DiscountCents model.Cents            `json:"discount_cents"`
	GiftCardCents model.Cents            `json:"gift_card_cents"`
	TotalCents    model.Cents            `json:"total_cents"`
	Items         []NotificationLineItem `json:"items"`
	CreatedAt     time.Time              `json:"created_at"`
}

type NotificationLineItem struct {
	Name           string      `json:"name"`
	Quantity       int32       `json:"quantity"`
	UnitPriceCents model.Cents `json:"unit_price_cents"`
}

type OrderMaterializer interface {
	// Materialize returns the order for the session, creating it on first
	// sight. created is false when the order already existed. A session
	// without line items yields a nil order and no error.
	Materialize(ctx context.Context, session *model.PaymentSession) (order *model.Order, created bool, err error)
}

type orderMaterializerImpl struct {
	db            *gorm.DB
	orderRepo     repository.OrderRepository
	customerRepo  repository.CustomerRepository
	inventoryRepo repository.InventoryRepository
	outboxRepo    repository.OutboxRepository
	discounts     DiscountService
	giftCards     GiftCardService
	orderNumbers  OrderNumberGenerator
	logger        *slog.Logger
	now           func() time.Time
}

func NewOrderMaterializer(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	customerRepo repository.CustomerRepository,
	inventoryRepo repository.InventoryRepository,
	outboxRepo repository.OutboxRepository,
	discounts DiscountService,
	giftCards GiftCardService,
	orderNumbers OrderNumberGenerator,
	logger *slog.Logger,
) OrderMaterializer {
	return &orderMaterializerImpl{
		db:            db,
		orderRepo:     orderRepo,
		customerRepo:  customerRepo,
		inventoryRepo: inventoryRepo,
		outboxRepo:    outboxRepo,
		discounts:     discounts,
		giftCards:     giftCards,
		orderNumbers:  orderNumbers,
		logger:        logger,
		now:           time.Now,
	}
}

func (m *orderMaterializerImpl) Materialize(ctx context.Context, session *model.PaymentSession) (*model.Order, bool, error) {
	if session == nil || session.ID == "" {
		return nil, false, ErrMissingSession
	}

	existing, err := m.orderRepo.FindBySessionID(ctx, session.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("find order by session: %w", err)
	}

	if len(session.LineItems) == 0 {
		return nil, false, nil
	}

	order, items := m.buildOrder(ctx, session)

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.orderRepo.Create(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range items {
			item.OrderID = order.ID
		}
		if err := m.orderRepo.CreateOrderItems(ctx, tx, items); err != nil {
			return fmt.Errorf("store order items: %w", err)
		}

		created := newOrderEvent(order.ID, model.EventOrderCreated,
			fmt.Sprintf("Order %s created for %s", order.OrderNumber, order.TotalCents.Format()),
			map[string]interface{}{
				"order_number":       order.OrderNumber,
				"payment_session_id": order.PaymentSessionID,
				"total_cents":        int64(order.TotalCents),
			})
		if err := m.orderRepo.AppendEvent(ctx, tx, created); err != nil {
			return fmt.Errorf("append order created event: %w", err)
		}

		if order.Status == model.OrderStatusPaid {
			if err := m.orderRepo.AppendEvent(ctx, tx, paymentReceivedEvent(order.ID, session.PaymentIntentID, order.TotalCents)); err != nil {
				return fmt.Errorf("append payment received event: %w", err)
			}
		}

		for _, marker := range pendingMarkers(order.ID, session.Metadata) {
			if err := m.orderRepo.AppendEvent(ctx, tx, marker); err != nil {
				return fmt.Errorf("append %s event: %w", marker.Type, err)
			}
		}
		return nil
	})

	if errors.Is(err, repository.ErrDuplicateSession) {
		winner, findErr := m.orderRepo.FindBySessionID(ctx, session.ID)
		if findErr != nil {
			return nil, false, fmt.Errorf("re-read order after duplicate insert: %w", findErr)
		}
		return winner, false, nil
	}
	if err != nil {
		// A concurrent creator may have won with an error we did not
		// recognise as a duplicate.
		if winner, findErr := m.orderRepo.FindBySessionID(ctx, session.ID); findErr == nil {
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	m.logger.Info("order created",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("payment_session_id", session.ID),
		slog.String("status", string(order.Status)))

	order.Items = make([]model.OrderItem, len(items))
	for i, item := range items {
		order.Items[i] = *item
	}

	m.applyDiscount(ctx, order, session.Metadata)
	m.redeemGiftCard(ctx, order, session.Metadata)
	m.decrementInventory(ctx, order)
	m.enqueueNotification(ctx, order)

	return order, true, nil
}

// pendingMarkers records, alongside the order, each balance side effect that
// runs after commit. Reconcile flags markers that never got an outcome.
func pendingMarkers(orderID string, meta model.SessionMetadata) []*model.OrderEvent {
	var markers []*model.OrderEvent
	if meta.HasDiscount() {
		markers = append(markers, newOrderEvent(orderID, model.EventDiscountPending,
			fmt.Sprintf("Discount %s to be recorded", meta.DiscountCode),
			map[string]interface{}{
				"discount_code_id": meta.DiscountCodeID,
				"discount_code":    meta.DiscountCode,
				"amount_cents":     int64(meta.DiscountAmount),
			}))
	}
	if meta.HasGiftCard() {
		markers = append(markers, newOrderEvent(orderID, model.EventGiftCardRedemptionPending,
			fmt.Sprintf("%s to be redeemed from gift card %s", meta.GiftCardAmount.Format(), meta.GiftCardCode),
			map[string]interface{}{
				"gift_card_id":    meta.GiftCardID,
				"requested_cents": int64(meta.GiftCardAmount),
			}))
	}
	return markers
}

func (m *orderMaterializerImpl) buildOrder(ctx context.Context, session *model.PaymentSession) (*model.Order, []*model.OrderItem) {
	meta := session.Metadata

	var lineSum model.Cents
	items := make([]*model.OrderItem, len(session.LineItems))
	for i, li := range session.LineItems {
		lineTotal := li.AmountTotal
		if lineTotal == 0 {
			lineTotal = li.UnitPriceCents * model.Cents(li.Quantity)
		}
		lineSum += lineTotal

		items[i] = &model.OrderItem{
			ProductID:      optionalString(li.ProductID),
			ProductName:    li.Name,
			UnitPriceCents: li.UnitPriceCents,
			Quantity:       li.Quantity,
			LineTotalCents: lineTotal,
		}
	}

	subtotal := session.AmountSubtotal
	if subtotal == 0 {
		subtotal = lineSum
	}

	order := &model.Order{
		ID:                 uuid.NewString(),
		OrderNumber:        m.orderNumbers.Next(),
		Status:             model.OrderStatusPending,
		PaymentSessionID:   session.ID,
		PaymentIntentID:    optionalString(session.PaymentIntentID),
		CustomerID:         m.resolveCustomer(ctx, session),
		CustomerEmail:      session.CustomerEmail,
		CustomerName:       session.CustomerName,
		Currency:           session.Currency,
		SubtotalCents:      subtotal,
		ShippingCents:      session.AmountShipping,
		DiscountCents:      meta.DiscountAmount,
		GiftCardCents:      meta.GiftCardAmount,
		TotalCents:         session.AmountTotal,
		DiscountCodeID:     optionalString(meta.DiscountCodeID),
		DiscountCode:       meta.DiscountCode,
		GiftCardID:         optionalString(meta.GiftCardID),
		ShippingName:       session.Shipping.Name,
		ShippingLine1:      session.Shipping.Line1,
		ShippingLine2:      session.Shipping.Line2,
		ShippingCity:       session.Shipping.City,
		ShippingState:      session.Shipping.State,
		ShippingPostalCode: session.Shipping.PostalCode,
		ShippingCountry:    session.Shipping.Country,
	}

	if session.IsPaid() {
		paidAt := m.now()
		order.Status = model.OrderStatusPaid
		order.PaidAt = &paidAt
	}

	return order, items
}

// resolveCustomer prefers the id attached at checkout and falls back to an
// email lookup. Guests stay nil.
func (m *orderMaterializerImpl) resolveCustomer(ctx context.Context, session *model.PaymentSession) *string {
	if session.Metadata.CustomerID != "" {
		return optionalString(session.Metadata.CustomerID)
	}
	if session.CustomerEmail == "" {
		return nil
	}

	customer, err := m.customerRepo.FindByEmail(ctx, session.CustomerEmail)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			m.logger.Warn("customer lookup failed",
				slog.String("payment_session_id", session.ID),
				slog.Any("error", err))
		}
		return nil
	}

	return &customer.ID
}

func customerOf(order *model.Order) model.CustomerRef {
	ref := model.CustomerRef{Email: order.CustomerEmail}
	if order.CustomerID != nil {
		ref.ID = *order.CustomerID
	}
	return ref
}

func (m *orderMaterializerImpl) applyDiscount(ctx context.Context, order *model.Order, meta model.SessionMetadata) {
	if !meta.HasDiscount() {
		return
	}

	err := m.discounts.RecordUsage(ctx, UsageRecord{
		DiscountCodeID: meta.DiscountCodeID,
		OrderID:        order.ID,
		CheckoutRef:    meta.CheckoutRef,
		Customer:       customerOf(order),
		Amount:         meta.DiscountAmount,
	})

	details := map[string]interface{}{
		"discount_code_id": meta.DiscountCodeID,
		"discount_code":    meta.DiscountCode,
		"amount_cents":     int64(meta.DiscountAmount),
	}

	if err != nil {
		details["error"] = err.Error()
		m.sideEffectFailed(ctx, order, model.EventDiscountRecordingFailed,
			fmt.Sprintf("Recording discount %s failed", meta.DiscountCode), details, err)
		return
	}

	m.appendEvent(ctx, newOrderEvent(order.ID, model.EventDiscountApplied,
		fmt.Sprintf("Discount %s applied: -%s", meta.DiscountCode, meta.DiscountAmount.Format()), details))
}

func (m *orderMaterializerImpl) redeemGiftCard(ctx context.Context, order *model.Order, meta model.SessionMetadata) {
	if !meta.HasGiftCard() {
		return
	}

	redemption, err := m.giftCards.Redeem(ctx, meta.GiftCardID, meta.GiftCardAmount, order.ID, customerOf(order))
	if err != nil {
		m.sideEffectFailed(ctx, order, model.EventGiftCardRedemptionFailed,
			fmt.Sprintf("Redeeming %s from gift card %s failed", meta.GiftCardAmount.Format(), meta.GiftCardCode),
			map[string]interface{}{
				"gift_card_id":    meta.GiftCardID,
				"requested_cents": int64(meta.GiftCardAmount),
				"error":           err.Error(),
			}, err)
		return
	}

	details := map[string]interface{}{
		"gift_card_id":        meta.GiftCardID,
		"amount_cents":        int64(redemption.AmountRedeemed),
		"requested_cents":     int64(redemption.Requested),
		"balance_after_cents": int64(redemption.NewBalance),
	}
	desc := fmt.Sprintf("Redeemed %s from gift card %s", redemption.AmountRedeemed.Format(), meta.GiftCardCode)
	if redemption.Shortfall > 0 {
		details["shortfall_cents"] = int64(redemption.Shortfall)
		desc += fmt.Sprintf(", %s short of the amount charged at checkout", redemption.Shortfall.Format())
		m.logger.Error("gift card redemption short",
			slog.String("order_id", order.ID),
			slog.String("gift_card_id", meta.GiftCardID),
			slog.Int64("shortfall_cents", int64(redemption.Shortfall)))
	}

	m.appendEvent(ctx, newOrderEvent(order.ID, model.EventGiftCardRedeemed, desc, details))
}

func (m *orderMaterializerImpl) decrementInventory(ctx context.Context, order *model.Order) {
	for _, item := range order.Items {
		if item.ProductID == nil {
			continue
		}

		err := m.inventoryRepo.Decrement(ctx, nil, *item.ProductID, item.Quantity)
		if err != nil {
			m.sideEffectFailed(ctx, order, model.EventInventoryUpdateFailed,
				fmt.Sprintf("Stock update for %s failed", item.ProductName),
				map[string]interface{}{
					"product_id": *item.ProductID,
					"quantity":   item.Quantity,
					"error":      err.Error(),
				}, err)
		}
	}
}

func (m *orderMaterializerImpl) enqueueNotification(ctx context.Context, order *model.Order) {
	payload := OrderCompletedNotification{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		CustomerEmail: order.CustomerEmail,
		CustomerName:  order.CustomerName,
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		ShippingCents: order.ShippingCents,
		DiscountCents: order.DiscountCents,
		GiftCardCents: order.GiftCardCents,
		TotalCents:    order.TotalCents,
		CreatedAt:     order.CreatedAt,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, NotificationLineItem{
			Name:           item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	body, err := json.Marshal(payload)
	if err == nil {
		err = m.outboxRepo.Enqueue(ctx, nil, &model.OutboxMessage{
			ID:          uuid.NewString(),
			Topic:       TopicOrderCompleted,
			AggregateID: order.ID,
			Payload:     body,
		})
	}

	if err != nil {
		m.sideEffectFailed(ctx, order, model.EventNotificationEnqueueFailed,
			"Queueing the order confirmation failed",
			map[string]interface{}{"error": err.Error()}, err)
	}
}

func (m *orderMaterializerImpl) sideEffectFailed(ctx context.Context, order *model.Order, eventType model.OrderEventType, desc string, details map[string]interface{}, cause error) {
	m.logger.Error("order side effect failed",
		slog.String("order_id", order.ID),
		slog.String("event", string(eventType)),
		slog.Any("error", cause))

	m.appendEvent(ctx, newOrderEvent(order.ID, eventType, desc, details))
}

func (m *orderMaterializerImpl) appendEvent(ctx context.Context, event *model.OrderEvent) {
	if err := m.orderRepo.AppendEvent(ctx, nil, event); err != nil {
		m.logger.Error("append order event failed",
			slog.String("order_id", event.OrderID),
			slog.String("event", string(event.Type)),
			slog.Any("error", err))
	}
}

func newOrderEvent(orderID string, eventType model.OrderEventType, desc string, details map[string]interface{}) *model.OrderEvent {
	return &model.OrderEvent{
		OrderID:     orderID,
		Type:        eventType,
		Description: desc,
		Metadata:    details,
		Actor:       model.ActorSystem,
	}
}

func paymentReceivedEvent(orderID, paymentIntentID string, amount model.Cents) *model.OrderEvent {
	details := map[string]interface{}{"amount_cents": int64(amount)}
	if paymentIntentID != "" {
		details["payment_intent_id"] = paymentIntentID
	}
	return newOrderEvent(orderID, model.EventPaymentReceived,
		fmt.Sprintf("Payment of %s received", amount.Format()), details)
}
