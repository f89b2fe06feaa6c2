package repository

import (
	"context"
	"testing"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newOrder(sessionID string) *model.Order {
	return &model.Order{
		ID:               uuid.NewString(),
		OrderNumber:      "ORD-" + sessionID,
		Status:           model.OrderStatusPending,
		PaymentSessionID: sessionID,
		Currency:         "USD",
		SubtotalCents:    5000,
		ShippingCents:    500,
		TotalCents:       5500,
	}
}

func TestOrderCreateRejectsSecondOrderForSession(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testutil.NewDB(t))

	first := newOrder("cs_1")
	require.NoError(t, orders.Create(ctx, nil, first))
	require.NoError(t, orders.CreateOrderItems(ctx, nil, []*model.OrderItem{
		{OrderID: first.ID, ProductName: "Lavender Soap", UnitPriceCents: 2500, Quantity: 2, LineTotalCents: 5000},
	}))

	second := newOrder("cs_1")
	second.OrderNumber = "ORD-other"
	assert.ErrorIs(t, orders.Create(ctx, nil, second), ErrDuplicateSession)

	found, err := orders.FindBySessionID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	require.Len(t, found.Items, 1)
	assert.Equal(t, int32(2), found.Items[0].Quantity)

	_, err = orders.FindBySessionID(ctx, "cs_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOrderStatusTransitions(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testutil.NewDB(t))

	order := newOrder("cs_2")
	require.NoError(t, orders.Create(ctx, nil, order))

	refunded, err := orders.MarkRefunded(ctx, nil, order.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, refunded, "only paid orders can be refunded")

	paid, err := orders.MarkPaid(ctx, nil, order.ID, "pi_2", time.Now())
	require.NoError(t, err)
	assert.True(t, paid)

	paid, err = orders.MarkPaid(ctx, nil, order.ID, "pi_2", time.Now())
	require.NoError(t, err)
	assert.False(t, paid)

	byIntent, err := orders.FindByPaymentIntentID(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, byIntent.Status)
	assert.NotNil(t, byIntent.PaidAt)

	refunded, err = orders.MarkRefunded(ctx, nil, order.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, refunded)
}

func TestOrderEvents(t *testing.T) {
	ctx := context.Background()
	orders := NewOrderRepository(testutil.NewDB(t))

	order := newOrder("cs_3")
	require.NoError(t, orders.Create(ctx, nil, order))
	require.NoError(t, orders.AppendEvent(ctx, nil, &model.OrderEvent{OrderID: order.ID, Type: model.EventOrderCreated, Actor: model.ActorSystem}))
	require.NoError(t, orders.AppendEvent(ctx, nil, &model.OrderEvent{OrderID: order.ID, Type: model.EventInventoryUpdateFailed, Actor: model.ActorSystem}))

	events, err := orders.ListEvents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventOrderCreated, events[0].Type)

	failed, err := orders.ListEventsByType(ctx, model.FailureEventTypes)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, model.EventInventoryUpdateFailed, failed[0].Type)

	found, err := orders.FindEvent(ctx, failed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.OrderID)

	_, err = orders.FindEvent(ctx, 9999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func newDiscount(code string, maxUses *int) *model.DiscountCode {
	return &model.DiscountCode{
		ID:      uuid.NewString(),
		Code:    code,
		Type:    model.DiscountTypeFixed,
		Value:   decimal.NewFromInt(5),
		MaxUses: maxUses,
		Active:  true,
	}
}

func TestDiscountIncrementUsageHonorsLimit(t *testing.T) {
	ctx := context.Background()
	discounts := NewDiscountRepository(testutil.NewDB(t))

	limit := 1
	dc := newDiscount("once", &limit)
	require.NoError(t, discounts.Create(ctx, dc))

	found, err := discounts.FindByCode(ctx, " Once ")
	require.NoError(t, err)
	assert.Equal(t, "ONCE", found.Code)

	ok, err := discounts.IncrementUsage(ctx, nil, dc.ID, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = discounts.IncrementUsage(ctx, nil, dc.ID, true)
	require.NoError(t, err)
	assert.False(t, ok, "limit reached")

	ok, err = discounts.IncrementUsage(ctx, nil, dc.ID, false)
	require.NoError(t, err)
	assert.True(t, ok, "unenforced increments always count")

	found, err = discounts.FindByID(ctx, nil, dc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, found.UsedCount)

	require.NoError(t, discounts.DecrementUsage(ctx, nil, dc.ID))
	require.NoError(t, discounts.DecrementUsage(ctx, nil, dc.ID))
	require.NoError(t, discounts.DecrementUsage(ctx, nil, dc.ID))
	found, err = discounts.FindByID(ctx, nil, dc.ID)
	require.NoError(t, err)
	assert.Zero(t, found.UsedCount)
}

func TestDiscountCreateRejectsDuplicateCode(t *testing.T) {
	ctx := context.Background()
	discounts := NewDiscountRepository(testutil.NewDB(t))

	require.NoError(t, discounts.Create(ctx, newDiscount("SPRING", nil)))
	assert.ErrorIs(t, discounts.Create(ctx, newDiscount("spring", nil)), ErrDuplicateCode)
}

func TestDiscountDelete(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	discounts := NewDiscountRepository(db)

	unused := newDiscount("UNUSED", nil)
	used := newDiscount("USED", nil)
	require.NoError(t, discounts.Create(ctx, unused))
	require.NoError(t, discounts.Create(ctx, used))

	orderID := uuid.NewString()
	require.NoError(t, discounts.InsertUsage(ctx, nil, &model.DiscountUsage{
		DiscountCodeID: used.ID,
		OrderID:        &orderID,
		CustomerEmail:  "a@example.com",
		CustomerKey:    "email:a@example.com",
		AmountCents:    500,
	}))

	assert.ErrorIs(t, discounts.Delete(ctx, used.ID), ErrDiscountCodeUsed)
	require.NoError(t, discounts.Delete(ctx, unused.ID))
	assert.ErrorIs(t, discounts.Delete(ctx, unused.ID), gorm.ErrRecordNotFound)
}

func TestDiscountClaims(t *testing.T) {
	ctx := context.Background()
	discounts := NewDiscountRepository(testutil.NewDB(t))

	dc := newDiscount("CLAIM", nil)
	require.NoError(t, discounts.Create(ctx, dc))

	ref := "ref_1"
	require.NoError(t, discounts.InsertUsage(ctx, nil, &model.DiscountUsage{
		DiscountCodeID: dc.ID,
		CheckoutRef:    &ref,
		CustomerKey:    "email:a@example.com",
		CustomerEmail:  "a@example.com",
	}))
	assert.ErrorIs(t, discounts.InsertUsage(ctx, nil, &model.DiscountUsage{
		DiscountCodeID: dc.ID,
		CheckoutRef:    &ref,
		CustomerKey:    "email:b@example.com",
	}), ErrDuplicateUsage)

	count, err := discounts.CountCustomerUsages(ctx, nil, dc.ID, model.CustomerRef{Email: "A@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	bound, err := discounts.BindClaim(ctx, nil, dc.ID, ref, "order-1", 500)
	require.NoError(t, err)
	assert.True(t, bound)

	bound, err = discounts.BindClaim(ctx, nil, dc.ID, ref, "order-2", 500)
	require.NoError(t, err)
	assert.False(t, bound, "claim already bound")

	_, err = discounts.DeleteClaim(ctx, nil, ref)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound, "bound claims are not released")

	usage, err := discounts.FindUsageByOrderID(ctx, nil, "order-1")
	require.NoError(t, err)
	assert.Equal(t, model.Cents(500), usage.AmountCents)
}

func TestDiscountTakenSlots(t *testing.T) {
	ctx := context.Background()
	discounts := NewDiscountRepository(testutil.NewDB(t))

	dc := newDiscount("SLOTS", nil)
	require.NoError(t, discounts.Create(ctx, dc))

	for i, slot := range []int{3, 1} {
		ref := "ref-" + string(rune('a'+i))
		n := slot
		require.NoError(t, discounts.InsertUsage(ctx, nil, &model.DiscountUsage{
			DiscountCodeID: dc.ID,
			CheckoutRef:    &ref,
			CustomerKey:    "email:a@example.com",
			Slot:           &n,
		}))
	}
	one := 1
	assert.ErrorIs(t, discounts.InsertUsage(ctx, nil, &model.DiscountUsage{
		DiscountCodeID: dc.ID,
		CustomerKey:    "email:a@example.com",
		Slot:           &one,
	}), ErrDuplicateUsage)

	slots, err := discounts.TakenSlots(ctx, nil, dc.ID, "email:a@example.com")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, slots)

	slots, err = discounts.TakenSlots(ctx, nil, dc.ID, "email:b@example.com")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func newGiftCard(status model.GiftCardStatus, balance model.Cents) *model.GiftCard {
	return &model.GiftCard{
		ID:                  uuid.NewString(),
		Code:                "SOAP-" + uuid.NewString()[:8],
		InitialBalanceCents: balance,
		CurrentBalanceCents: balance,
		Currency:            "USD",
		Status:              status,
	}
}

func TestGiftCardDebitBalance(t *testing.T) {
	ctx := context.Background()
	cards := NewGiftCardRepository(testutil.NewDB(t))

	active := newGiftCard(model.GiftCardStatusActive, 2000)
	pending := newGiftCard(model.GiftCardStatusPending, 2000)
	require.NoError(t, cards.Create(ctx, active))
	require.NoError(t, cards.Create(ctx, pending))

	ok, err := cards.DebitBalance(ctx, nil, pending.ID, 500)
	require.NoError(t, err)
	assert.False(t, ok, "inactive cards cannot be debited")

	ok, err = cards.DebitBalance(ctx, nil, active.ID, 2500)
	require.NoError(t, err)
	assert.False(t, ok, "insufficient balance")

	ok, err = cards.DebitBalance(ctx, nil, active.ID, 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	card, err := cards.FindByID(ctx, nil, active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(500), card.CurrentBalanceCents)

	require.NoError(t, cards.CreditBalance(ctx, nil, active.ID, 250))
	card, err = cards.FindByID(ctx, nil, active.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(750), card.CurrentBalanceCents)

	assert.ErrorIs(t, cards.CreditBalance(ctx, nil, "missing", 100), gorm.ErrRecordNotFound)
	assert.ErrorIs(t, cards.Lock(ctx, nil, "missing"), gorm.ErrRecordNotFound)
}

func TestGiftCardSwapBalanceAndStatus(t *testing.T) {
	ctx := context.Background()
	cards := NewGiftCardRepository(testutil.NewDB(t))

	card := newGiftCard(model.GiftCardStatusPending, 1000)
	require.NoError(t, cards.Create(ctx, card))

	ok, err := cards.SwapBalance(ctx, nil, card.ID, 900, 500)
	require.NoError(t, err)
	assert.False(t, ok, "stale observed balance")

	ok, err = cards.SwapBalance(ctx, nil, card.ID, 1000, 500)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cards.TransitionStatus(ctx, nil, card.ID, []model.GiftCardStatus{model.GiftCardStatusActive}, model.GiftCardStatusDepleted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = cards.TransitionStatus(ctx, nil, card.ID, []model.GiftCardStatus{model.GiftCardStatusPending}, model.GiftCardStatusActive)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := cards.FindByCode(ctx, card.Code)
	require.NoError(t, err)
	assert.Equal(t, model.GiftCardStatusActive, found.Status)
	assert.Equal(t, model.Cents(500), found.CurrentBalanceCents)
}

func TestGiftCardLedger(t *testing.T) {
	ctx := context.Background()
	cards := NewGiftCardRepository(testutil.NewDB(t))

	card := newGiftCard(model.GiftCardStatusActive, 5000)
	require.NoError(t, cards.Create(ctx, card))

	orderID := "order-1"
	entries := []*model.GiftCardTransaction{
		{GiftCardID: card.ID, Type: model.GiftCardTxPurchase, AmountCents: 5000, BalanceAfterCents: 5000},
		{GiftCardID: card.ID, Type: model.GiftCardTxRedemption, AmountCents: -2000, BalanceAfterCents: 3000, OrderID: &orderID},
		{GiftCardID: card.ID, Type: model.GiftCardTxRefund, AmountCents: 500, BalanceAfterCents: 3500, OrderID: &orderID},
	}
	for _, e := range entries {
		require.NoError(t, cards.AppendTransaction(ctx, nil, e))
	}

	listed, err := cards.ListTransactions(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, model.ActorSystem, listed[0].Actor)
	assert.Equal(t, model.GiftCardTxRefund, listed[2].Type)

	sum, err := cards.SumForOrder(ctx, nil, card.ID, orderID)
	require.NoError(t, err)
	assert.Equal(t, model.Cents(-1500), sum)

	sum, err = cards.SumForOrder(ctx, nil, card.ID, "order-2")
	require.NoError(t, err)
	assert.Zero(t, sum)

	ids, err := cards.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{card.ID}, ids)
}

func TestInventoryDecrementFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	products := NewProductRepository(db)
	inventory := NewInventoryRepository(db)

	stock := 3
	require.NoError(t, products.Upsert(ctx, []*model.Product{
		{ID: "soap-lavender", Name: "Lavender Soap", PriceCents: 2500, Currency: "USD", Stock: &stock, Active: true},
		{ID: "soap-oat", Name: "Oat Soap", PriceCents: 1200, Currency: "USD", Active: true},
	}))

	require.NoError(t, inventory.Decrement(ctx, nil, "soap-lavender", 2))
	require.NoError(t, inventory.Decrement(ctx, nil, "soap-lavender", 5))
	require.NoError(t, inventory.Decrement(ctx, nil, "soap-oat", 1))

	lavender, err := products.FindByID(ctx, "soap-lavender")
	require.NoError(t, err)
	require.NotNil(t, lavender.Stock)
	assert.Equal(t, 0, *lavender.Stock)

	oat, err := products.FindByID(ctx, "soap-oat")
	require.NoError(t, err)
	assert.Nil(t, oat.Stock, "untracked stock stays untracked")

	tracked, err := inventory.Get(ctx)
	require.NoError(t, err)
	require.Len(t, tracked, 1)
	assert.Equal(t, "soap-lavender", tracked[0].ID)
}

func TestWebhookEventsAreRecordedOnce(t *testing.T) {
	ctx := context.Background()
	events := NewWebhookEventRepository(testutil.NewDB(t))

	seen, err := events.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, events.MarkProcessed(ctx, "evt_1", "checkout.session.completed"))
	require.NoError(t, events.MarkProcessed(ctx, "evt_1", "checkout.session.completed"))

	seen, err = events.Exists(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestOutboxDueAndRetry(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutboxRepository(testutil.NewDB(t))
	now := time.Now()

	msg := &model.OutboxMessage{ID: uuid.NewString(), Topic: "order.created", AggregateID: "order-1", Payload: []byte(`{"order_id":"order-1"}`)}
	require.NoError(t, outbox.Enqueue(ctx, nil, msg))
	assert.Equal(t, model.OutboxStatusPending, msg.Status)

	due, err := outbox.FetchDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	require.NoError(t, outbox.MarkAttemptFailed(ctx, msg.ID, 1, now.Add(time.Hour), "connection refused", false))
	due, err = outbox.FetchDue(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "retry not due yet")

	due, err = outbox.FetchDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	require.NoError(t, outbox.MarkDelivered(ctx, msg.ID, now))
	due, err = outbox.FetchDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
