package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-reconciler/internal/app"
	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/handler"
	"checkout-reconciler/internal/middleware"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/server"
	"checkout-reconciler/internal/testutil"
	"checkout-reconciler/internal/webhook"

	"github.com/stretchr/testify/require"
)

const (
	webhookSecret = "whsec_test"
	adminSecret   = "admin-secret"
)

// fakeProvider serves checkout sessions the way the provider API does.
type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*model.ProviderCheckoutSession
	calls    int
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++

	if r.Header.Get("Authorization") != "Bearer sk_test" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
	s, ok := p.sessions[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (p *fakeProvider) put(s *model.ProviderCheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fixture struct {
	app        *app.App
	router     http.Handler
	provider   *fakeProvider
	adminToken string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := &fakeProvider{sessions: map[string]*model.ProviderCheckoutSession{}}
	providerSrv := httptest.NewServer(provider)
	t.Cleanup(providerSrv.Close)

	cfg := &config.Config{
		OrderNodeID: 1,
		Provider: config.Provider{
			BaseApiURL:    providerSrv.URL,
			SecretKey:     "sk_test",
			WebhookSecret: webhookSecret,
		},
		GiftCard: config.GiftCard{Prefix: "SOAP"},
		Admin:    config.Admin{JWTSecret: adminSecret},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := app.NewWithDB(testutil.NewDB(t), cfg, logger)
	require.NoError(t, err)

	srv := server.NewServer(
		handler.NewWebhookHandler(webhook.NewVerifier(webhookSecret, time.Minute), a.WebhookEvents, a.Coordinator, logger),
		handler.NewCheckoutHandler(a.CheckoutService, a.Coordinator, a.DiscountService, a.GiftCardService),
		handler.NewAdminHandler(a.GiftCardService, a.DiscountService, a.Orders),
		handler.NewInventoryHandler(a.InventoryService),
		adminSecret,
	)

	token, err := middleware.IssueAdminToken(adminSecret, "ops@example.com", middleware.RoleAdmin, time.Hour)
	require.NoError(t, err)

	return &fixture{
		app:        a,
		router:     srv.Handler(),
		provider:   provider,
		adminToken: token,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) admin(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + f.adminToken})
}

// postEvent signs and delivers a provider event.
func (f *fixture) postEvent(t *testing.T, id, eventType string, object any) *httptest.ResponseRecorder {
	t.Helper()

	obj, err := json.Marshal(object)
	require.NoError(t, err)
	body, err := json.Marshal(webhook.Event{
		ID:      id,
		Type:    eventType,
		Created: time.Now().Unix(),
		Data:    webhook.EventData{Object: obj},
	})
	require.NoError(t, err)

	return f.do(t, http.MethodPost, "/api/webhooks/payments", body, map[string]string{
		webhook.SignatureHeader: webhook.SignatureValue(body, webhookSecret, time.Now().Unix()),
	})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func providerSession(id string, withItems bool) *model.ProviderCheckoutSession {
	s := &model.ProviderCheckoutSession{
		ID:             id,
		Object:         "checkout.session",
		Status:         "complete",
		PaymentStatus:  model.PaymentStatusPaid,
		PaymentIntent:  "pi_" + id,
		Currency:       "usd",
		CustomerEmail:  "buyer@example.com",
		AmountSubtotal: 5000,
		AmountTotal:    5500,
		ShippingCost:   &model.ProviderShippingCost{AmountTotal: 500},
		Metadata:       map[string]string{"checkout_ref": "ref_" + id},
	}
	if withItems {
		s.LineItems = &model.ProviderLineItems{Data: []model.ProviderLineItem{{
			Description: "Lavender Soap",
			Quantity:    2,
			AmountTotal: 5000,
			Price:       model.ProviderPrice{UnitAmount: 2500, Product: "soap-lavender"},
		}}}
	}
	return s
}

func (f *fixture) countOrders(t *testing.T, sessionID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.app.DB.Model(&model.Order{}).Where("payment_session_id = ?", sessionID).Count(&n).Error)
	return n
}

func path(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
