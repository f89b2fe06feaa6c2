package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRetriever struct {
	mu       sync.Mutex
	sessions map[string]*model.PaymentSession
	calls    int
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{sessions: map[string]*model.PaymentSession{}}
}

func (f *fakeRetriever) put(s *model.PaymentSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
}

func (f *fakeRetriever) RetrieveSession(_ context.Context, id string) (*model.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	clone := *s
	return &clone, nil
}

type env struct {
	db           *gorm.DB
	orders       repository.OrderRepository
	products     repository.ProductRepository
	discountRepo repository.DiscountRepository
	giftCardRepo repository.GiftCardRepository
	outbox       repository.OutboxRepository
	discounts    DiscountService
	giftCards    GiftCardService
	materializer OrderMaterializer
	coordinator  CheckoutCoordinator
	checkout     CheckoutService
	reconcile    ReconcileService
	retriever    *fakeRetriever
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewDB(t)
	e := &env{
		db:           db,
		orders:       repository.NewOrderRepository(db),
		products:     repository.NewProductRepository(db),
		discountRepo: repository.NewDiscountRepository(db),
		giftCardRepo: repository.NewGiftCardRepository(db),
		outbox:       repository.NewOutboxRepository(db),
		retriever:    newFakeRetriever(),
	}

	numbers, err := NewOrderNumberGenerator(1)
	require.NoError(t, err)

	e.discounts = NewDiscountService(db, e.discountRepo)
	e.giftCards = NewGiftCardService(db, e.giftCardRepo, NewGiftCodeFormat("SOAP"))
	e.materializer = NewOrderMaterializer(db,
		e.orders,
		repository.NewCustomerRepository(db),
		repository.NewInventoryRepository(db),
		e.outbox,
		e.discounts,
		e.giftCards,
		numbers,
		discardLogger(),
	)
	e.coordinator = NewCheckoutCoordinator(db, e.orders, e.materializer, e.giftCards, e.discounts, e.retriever, discardLogger())
	e.checkout = NewCheckoutService(e.products, e.discounts, e.giftCards)
	e.reconcile = NewReconcileService(e.orders)

	return e
}

func ptr[T any](v T) *T {
	return &v
}

func (e *env) createDiscount(t *testing.T, dc *model.DiscountCode) *model.DiscountCode {
	t.Helper()
	dc.Active = true
	require.NoError(t, e.discounts.Create(context.Background(), dc))
	return dc
}

func percentOff(code string, pct int64) *model.DiscountCode {
	return &model.DiscountCode{
		Code:  code,
		Type:  model.DiscountTypePercentage,
		Value: decimal.NewFromInt(pct),
	}
}

func (e *env) issueCard(t *testing.T, balance model.Cents) *model.GiftCard {
	t.Helper()
	card, err := e.giftCards.Issue(context.Background(), IssueGiftCardRequest{
		InitialBalance: balance,
		Activate:       true,
	})
	require.NoError(t, err)
	return card
}

func (e *env) card(t *testing.T, id string) *model.GiftCard {
	t.Helper()
	card, err := e.giftCards.Get(context.Background(), id)
	require.NoError(t, err)
	return card
}

func (e *env) events(t *testing.T, orderID string, eventType model.OrderEventType) []*model.OrderEvent {
	t.Helper()
	all, err := e.orders.ListEvents(context.Background(), orderID)
	require.NoError(t, err)

	var out []*model.OrderEvent
	for _, ev := range all {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (e *env) countOrders(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Order{}).Where("payment_session_id = ?", sessionID).Count(&n).Error)
	return n
}

func (e *env) countEvents(t *testing.T, eventType model.OrderEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.OrderEvent{}).Where("type = ?", eventType).Count(&n).Error)
	return n
}

func paidSession(id string) *model.PaymentSession {
	return &model.PaymentSession{
		ID:              id,
		PaymentIntentID: "pi_" + id,
		PaymentStatus:   model.PaymentStatusPaid,
		Currency:        "USD",
		CustomerEmail:   "buyer@example.com",
		CustomerName:    "Ada Buyer",
		AmountSubtotal:  5000,
		AmountShipping:  500,
		AmountTotal:     5500,
		LineItems: []model.SessionLineItem{
			{ProductID: "soap-lavender", Name: "Lavender Soap", UnitPriceCents: 2500, Quantity: 2, AmountTotal: 5000},
		},
	}
}

func meta(v any) string {
	return fmt.Sprint(v)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
