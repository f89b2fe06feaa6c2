package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/service"
	"checkout-reconciler/internal/webhook"

	"github.com/labstack/echo/v4"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	verifier    *webhook.Verifier
	events      repository.WebhookEventRepository
	coordinator service.CheckoutCoordinator
	logger      *slog.Logger
}

func NewWebhookHandler(
	verifier *webhook.Verifier,
	events repository.WebhookEventRepository,
	coordinator service.CheckoutCoordinator,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:    verifier,
		events:      events,
		coordinator: coordinator,
		logger:      logger,
	}
}

// PaymentWebhook authenticates the raw body, skips events already handled,
// and dispatches by type. A non-2xx answer makes the provider redeliver.
func (h *WebhookHandler) PaymentWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	evt, err := h.verifier.Verify(body, c.Request().Header.Get(webhook.SignatureHeader))
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook")
	}

	logger := h.logger.With("event_id", evt.ID, "event_type", evt.Type)

	seen, err := h.events.Exists(ctx, evt.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		logger.Debug("webhook event already processed")
		return c.NoContent(http.StatusOK)
	}

	if err := h.dispatch(ctx, evt, logger); err != nil {
		switch {
		case errors.Is(err, webhook.ErrMalformedEvent), errors.Is(err, service.ErrMissingSession):
			logger.Warn("webhook payload rejected", "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, "malformed event")
		case errors.Is(err, service.ErrSessionIncomplete):
			logger.Info("checkout session not ready, asking for redelivery")
			return echo.NewHTTPError(http.StatusServiceUnavailable, "session not ready")
		}
		logger.Error("webhook processing failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "webhook processing failed")
	}

	// Handlers are idempotent; a missing marker only means a redelivery.
	if err := h.events.MarkProcessed(ctx, evt.ID, evt.Type); err != nil {
		logger.Error("mark webhook event processed", "error", err)
	}

	return c.NoContent(http.StatusOK)
}

func (h *WebhookHandler) dispatch(ctx context.Context, evt *webhook.Event, logger *slog.Logger) error {
	switch evt.Type {
	case webhook.EventCheckoutCompleted, webhook.EventCheckoutAsyncPaymentSucceeded:
		session, err := decodeSession(evt)
		if err != nil {
			return err
		}
		order, err := h.coordinator.HandleCheckoutCompleted(ctx, session)
		if err != nil {
			return fmt.Errorf("handle checkout completed: %w", err)
		}
		logger.Info("checkout completed", "order_id", order.ID, "order_number", order.OrderNumber, "status", order.Status)

	case webhook.EventCheckoutExpired:
		session, err := decodeSession(evt)
		if err != nil {
			return err
		}
		if err := h.coordinator.HandleSessionExpired(ctx, session); err != nil {
			return fmt.Errorf("handle session expired: %w", err)
		}

	case webhook.EventPaymentIntentSucceeded:
		var intent model.ProviderPaymentIntent
		if err := decodeObject(evt, &intent); err != nil {
			return err
		}
		order, err := h.coordinator.HandlePaymentCaptured(ctx, intent.ToPaymentCapture())
		if errors.Is(err, service.ErrOrderNotFound) {
			// Intents created outside a checkout session never become orders.
			logger.Warn("payment captured for unknown order", "payment_intent_id", intent.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("handle payment captured: %w", err)
		}
		logger.Info("payment captured", "order_id", order.ID, "status", order.Status)

	case webhook.EventChargeRefunded:
		var charge model.ProviderCharge
		if err := decodeObject(evt, &charge); err != nil {
			return err
		}
		order, err := h.coordinator.HandleChargeRefunded(ctx, charge.ToChargeRefund())
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Warn("refund for unknown order", "payment_intent_id", charge.PaymentIntent, "charge_id", charge.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("handle charge refunded: %w", err)
		}
		logger.Info("charge refunded", "order_id", order.ID, "status", order.Status)

	default:
		logger.Debug("ignoring webhook event type")
	}

	return nil
}

func decodeObject(evt *webhook.Event, dst any) error {
	if len(evt.Data.Object) == 0 {
		return fmt.Errorf("%w: missing data.object", webhook.ErrMalformedEvent)
	}
	if err := json.Unmarshal(evt.Data.Object, dst); err != nil {
		return fmt.Errorf("%w: %v", webhook.ErrMalformedEvent, err)
	}
	return nil
}

func decodeSession(evt *webhook.Event) (*model.PaymentSession, error) {
	var raw model.ProviderCheckoutSession
	if err := decodeObject(evt, &raw); err != nil {
		return nil, err
	}

	session, err := raw.ToPaymentSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", webhook.ErrMalformedEvent, err)
	}
	return session, nil
}
