package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrSessionIncomplete    = errors.New("payment session has no line items yet")
	ErrOrderNotFound        = errors.New("order not found")
	ErrRetrieverUnavailable = errors.New("payment session retrieval not configured")
)

// SessionRetriever fetches a full checkout session from the payment provider.
type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (*model.PaymentSession, error)
}

// CheckoutCoordinator is the entry point for every trigger that can finish a
// checkout. Any trigger may arrive first, twice, or concurrently with another;
// all of them resolve to the same order.
type CheckoutCoordinator interface {
	HandleCheckoutCompleted(ctx context.Context, session *model.PaymentSession) (*model.Order, error)
	HandleSuccessPage(ctx context.Context, sessionID string) (*model.Order, error)
	HandlePaymentCaptured(ctx context.Context, capture model.PaymentCapture) (*model.Order, error)
	HandleChargeRefunded(ctx context.Context, refund model.ChargeRefund) (*model.Order, error)
	HandleSessionExpired(ctx context.Context, session *model.PaymentSession) error
}

type checkoutCoordinatorImpl struct {
	db           *gorm.DB
	orderRepo    repository.OrderRepository
	materializer OrderMaterializer
	giftCards    GiftCardService
	discounts    DiscountService
	retriever    SessionRetriever
	logger       *slog.Logger
	now          func() time.Time
}

func NewCheckoutCoordinator(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	materializer OrderMaterializer,
	giftCards GiftCardService,
	discounts DiscountService,
	retriever SessionRetriever,
	logger *slog.Logger,
) CheckoutCoordinator {
	return &checkoutCoordinatorImpl{
		db:           db,
		orderRepo:    orderRepo,
		materializer: materializer,
		giftCards:    giftCards,
		discounts:    discounts,
		retriever:    retriever,
		logger:       logger,
		now:          time.Now,
	}
}

func (c *checkoutCoordinatorImpl) HandleCheckoutCompleted(ctx context.Context, session *model.PaymentSession) (*model.Order, error) {
	if session == nil || session.ID == "" {
		return nil, ErrMissingSession
	}

	// Webhook payloads do not carry line items.
	if len(session.LineItems) == 0 {
		full, err := c.retrieve(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		session = full
	}

	return c.complete(ctx, session)
}

func (c *checkoutCoordinatorImpl) HandleSuccessPage(ctx context.Context, sessionID string) (*model.Order, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	existing, err := c.orderRepo.FindBySessionID(ctx, sessionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find order by session: %w", err)
	}
	if existing != nil && existing.Status != model.OrderStatusPending {
		return existing, nil
	}

	session, err := c.retrieve(ctx, sessionID)
	if err != nil {
		if existing != nil {
			return existing, nil
		}
		return nil, err
	}

	if len(session.LineItems) == 0 && existing == nil {
		return nil, ErrSessionIncomplete
	}

	return c.complete(ctx, session)
}

func (c *checkoutCoordinatorImpl) complete(ctx context.Context, session *model.PaymentSession) (*model.Order, error) {
	order, created, err := c.materializer.Materialize(ctx, session)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrSessionIncomplete
	}

	if !created && order.Status == model.OrderStatusPending && session.IsPaid() {
		return c.markPaid(ctx, order, session.PaymentIntentID)
	}

	return order, nil
}

func (c *checkoutCoordinatorImpl) HandlePaymentCaptured(ctx context.Context, capture model.PaymentCapture) (*model.Order, error) {
	order, err := c.findCapturedOrder(ctx, capture)
	if err != nil {
		return nil, err
	}

	if order == nil {
		if capture.SessionID == "" {
			return nil, ErrOrderNotFound
		}
		session, err := c.retrieve(ctx, capture.SessionID)
		if err != nil {
			return nil, err
		}
		return c.complete(ctx, session)
	}

	if order.Status != model.OrderStatusPending {
		return order, nil
	}

	return c.markPaid(ctx, order, capture.PaymentIntentID)
}

func (c *checkoutCoordinatorImpl) findCapturedOrder(ctx context.Context, capture model.PaymentCapture) (*model.Order, error) {
	if capture.PaymentIntentID != "" {
		order, err := c.orderRepo.FindByPaymentIntentID(ctx, capture.PaymentIntentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find order by payment intent: %w", err)
		}
	}

	if capture.SessionID != "" {
		order, err := c.orderRepo.FindBySessionID(ctx, capture.SessionID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("find order by session: %w", err)
		}
	}

	return nil, nil
}

// markPaid moves a pending order to paid. Losing the race to another trigger
// is not an error; the order is simply re-read.
func (c *checkoutCoordinatorImpl) markPaid(ctx context.Context, order *model.Order, paymentIntentID string) (*model.Order, error) {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := c.orderRepo.MarkPaid(ctx, tx, order.ID, paymentIntentID, c.now())
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if !moved {
			return nil
		}

		if err := c.orderRepo.AppendEvent(ctx, tx, paymentReceivedEvent(order.ID, paymentIntentID, order.TotalCents)); err != nil {
			return fmt.Errorf("append payment received event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return c.reload(ctx, order.ID)
}

func (c *checkoutCoordinatorImpl) HandleChargeRefunded(ctx context.Context, refund model.ChargeRefund) (*model.Order, error) {
	if refund.PaymentIntentID == "" {
		return nil, ErrOrderNotFound
	}

	order, err := c.orderRepo.FindByPaymentIntentID(ctx, refund.PaymentIntentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order by payment intent: %w", err)
	}

	if order.Status == model.OrderStatusRefunded {
		return order, nil
	}

	details := map[string]interface{}{
		"charge_id":             refund.ChargeID,
		"amount_refunded_cents": int64(refund.AmountRefunded),
		"amount_captured_cents": int64(refund.AmountCaptured),
	}

	full := refund.IsFull()
	if full && order.Status != model.OrderStatusPaid {
		// Only a paid order can be refunded; the status and gift card stay
		// as they are until someone looks at it.
		c.logger.Warn("full refund for an order that is not paid",
			slog.String("order_id", order.ID),
			slog.String("status", string(order.Status)),
			slog.String("charge_id", refund.ChargeID))
		details["status"] = string(order.Status)
		c.appendEvent(ctx, newOrderEvent(order.ID, model.EventRefundOnUnpaidOrder,
			fmt.Sprintf("Refund of %s received while the order is %s", refund.AmountRefunded.Format(), order.Status),
			details))
		return c.reload(ctx, order.ID)
	}

	refundedNow := false
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if full {
			moved, err := c.orderRepo.MarkRefunded(ctx, tx, order.ID, c.now())
			if err != nil {
				return fmt.Errorf("mark order refunded: %w", err)
			}
			if !moved {
				// Another delivery refunded it first.
				return nil
			}
			refundedNow = true
		}

		details["full"] = full
		event := newOrderEvent(order.ID, model.EventRefunded,
			fmt.Sprintf("Refunded %s of %s", refund.AmountRefunded.Format(), refund.AmountCaptured.Format()),
			details)
		if err := c.orderRepo.AppendEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("append refunded event: %w", err)
		}

		if refundedNow && order.GiftCardID != nil {
			pending := newOrderEvent(order.ID, model.EventGiftCardRefundPending,
				"Gift card amount to be returned",
				map[string]interface{}{"gift_card_id": *order.GiftCardID})
			if err := c.orderRepo.AppendEvent(ctx, tx, pending); err != nil {
				return fmt.Errorf("append gift card refund pending event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if refundedNow && order.GiftCardID != nil {
		c.refundGiftCard(ctx, order)
	}

	return c.reload(ctx, order.ID)
}

func (c *checkoutCoordinatorImpl) refundGiftCard(ctx context.Context, order *model.Order) {
	giftCardID := *order.GiftCardID

	entry, err := c.giftCards.RefundOrder(ctx, giftCardID, order.ID, "Refund for order "+order.OrderNumber)
	if err != nil {
		c.logger.Error("gift card refund failed",
			slog.String("order_id", order.ID),
			slog.String("gift_card_id", giftCardID),
			slog.Any("error", err))
		c.appendEvent(ctx, newOrderEvent(order.ID, model.EventGiftCardRefundFailed,
			"Returning the gift card amount failed",
			map[string]interface{}{"gift_card_id": giftCardID, "error": err.Error()}))
		return
	}
	if entry == nil {
		c.appendEvent(ctx, newOrderEvent(order.ID, model.EventGiftCardRefunded,
			"Nothing to return to gift card",
			map[string]interface{}{"gift_card_id": giftCardID, "amount_cents": int64(0)}))
		return
	}

	c.appendEvent(ctx, newOrderEvent(order.ID, model.EventGiftCardRefunded,
		fmt.Sprintf("Returned %s to gift card", entry.AmountCents.Format()),
		map[string]interface{}{
			"gift_card_id":        giftCardID,
			"amount_cents":        int64(entry.AmountCents),
			"balance_after_cents": int64(entry.BalanceAfterCents),
		}))
}

func (c *checkoutCoordinatorImpl) HandleSessionExpired(ctx context.Context, session *model.PaymentSession) error {
	if session == nil || session.Metadata.CheckoutRef == "" {
		return nil
	}

	released, err := c.discounts.Release(ctx, session.Metadata.CheckoutRef)
	if err != nil {
		return fmt.Errorf("release discount claim: %w", err)
	}
	if released {
		c.logger.Info("discount claim released",
			slog.String("payment_session_id", session.ID),
			slog.String("checkout_ref", session.Metadata.CheckoutRef))
	}

	return nil
}

func (c *checkoutCoordinatorImpl) retrieve(ctx context.Context, sessionID string) (*model.PaymentSession, error) {
	if c.retriever == nil {
		return nil, ErrRetrieverUnavailable
	}

	session, err := c.retriever.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment session: %w", err)
	}
	return session, nil
}

func (c *checkoutCoordinatorImpl) reload(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := c.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}
	return order, nil
}

func (c *checkoutCoordinatorImpl) appendEvent(ctx context.Context, event *model.OrderEvent) {
	if err := c.orderRepo.AppendEvent(ctx, nil, event); err != nil {
		c.logger.Error("append order event failed",
			slog.String("order_id", event.OrderID),
			slog.String("event", string(event.Type)),
			slog.Any("error", err))
	}
}
