package handler_test

import (
	"context"
	"net/http"
	"testing"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/webhook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/webhooks/payments", []byte(`{"id":"evt_1","type":"checkout.session.completed"}`), map[string]string{
		webhook.SignatureHeader: "t=1,v1=deadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/webhooks/payments", []byte(`{"id":"evt_1"}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	seen, err := f.app.WebhookEvents.Exists(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestWebhookCheckoutCompletedCreatesOneOrder(t *testing.T) {
	f := newFixture(t)
	f.provider.put(providerSession("cs_1", true))

	rec := f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, providerSession("cs_1", false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), f.countOrders(t, "cs_1"))
	calls := f.provider.callCount()

	// Redelivery of the same event is skipped before any work.
	rec = f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, providerSession("cs_1", false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, calls, f.provider.callCount())

	// A different event for the same session resolves to the same order.
	rec = f.postEvent(t, "evt_2", webhook.EventCheckoutAsyncPaymentSucceeded, providerSession("cs_1", true))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), f.countOrders(t, "cs_1"))

	order, err := f.app.Orders.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, model.Cents(5500), order.TotalCents)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Lavender Soap", order.Items[0].ProductName)
}

func TestWebhookIncompleteSessionAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	f.provider.put(providerSession("cs_1", false))

	rec := f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, providerSession("cs_1", false))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, f.countOrders(t, "cs_1"))

	seen, err := f.app.WebhookEvents.Exists(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen, "event stays unprocessed so the redelivery is handled")

	f.provider.put(providerSession("cs_1", true))
	rec = f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, providerSession("cs_1", false))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), f.countOrders(t, "cs_1"))
}

func TestWebhookRejectsMalformedMetadata(t *testing.T) {
	f := newFixture(t)

	s := providerSession("cs_1", true)
	s.Metadata["discount_amount"] = "ten dollars"
	rec := f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, s)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.countOrders(t, "cs_1"))
}

func TestWebhookPaymentAndRefundEvents(t *testing.T) {
	f := newFixture(t)

	// Intents that never belonged to a checkout are acknowledged.
	rec := f.postEvent(t, "evt_pi_unknown", webhook.EventPaymentIntentSucceeded, model.ProviderPaymentIntent{
		ID: "pi_unknown", Status: "succeeded", AmountReceived: 100,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// So are refunds of charges that never became orders.
	rec = f.postEvent(t, "evt_ch_unknown", webhook.EventChargeRefunded, model.ProviderCharge{
		ID: "ch_unknown", PaymentIntent: "pi_unknown", Amount: 100, AmountCaptured: 100, AmountRefunded: 100,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	seen, err := f.app.WebhookEvents.Exists(context.Background(), "evt_ch_unknown")
	require.NoError(t, err)
	assert.True(t, seen)

	rec = f.postEvent(t, "evt_1", webhook.EventCheckoutCompleted, providerSession("cs_1", true))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.postEvent(t, "evt_pi_1", webhook.EventPaymentIntentSucceeded, model.ProviderPaymentIntent{
		ID: "pi_cs_1", Status: "succeeded", AmountReceived: 5500,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.postEvent(t, "evt_ch_1", webhook.EventChargeRefunded, model.ProviderCharge{
		ID: "ch_1", PaymentIntent: "pi_cs_1", Amount: 5500, AmountCaptured: 5500, AmountRefunded: 5500,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	order, err := f.app.Orders.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, order.Status)
}

func TestWebhookIgnoresUnknownTypes(t *testing.T) {
	f := newFixture(t)

	rec := f.postEvent(t, "evt_1", "customer.created", map[string]string{"id": "cus_1"})
	assert.Equal(t, http.StatusOK, rec.Code)

	seen, err := f.app.WebhookEvents.Exists(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestWebhookSessionExpiredReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dc := &model.DiscountCode{Code: "ONCE", Type: model.DiscountTypeFixed, Value: decimal.NewFromInt(5), Active: true}
	require.NoError(t, f.app.DiscountService.Create(ctx, dc))

	_, err := f.app.DiscountService.Claim(ctx, dc.ID, model.CustomerRef{Email: "buyer@example.com"}, "ref_cs_1", 500)
	require.NoError(t, err)

	s := providerSession("cs_1", false)
	s.Status = "expired"
	s.PaymentStatus = model.PaymentStatusUnpaid
	rec := f.postEvent(t, "evt_exp", webhook.EventCheckoutExpired, s)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = f.app.Discounts.FindClaim(ctx, nil, dc.ID, "ref_cs_1")
	assert.Error(t, err, "claim is gone")

	stored, err := f.app.Discounts.FindByID(ctx, nil, dc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.UsedCount)
}
