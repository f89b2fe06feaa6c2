package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"checkout-reconciler/internal/config"
	"checkout-reconciler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieveSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "line_items", r.URL.Query().Get("expand[]"))

		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "cs_1",
				"payment_status": "paid",
				"payment_intent": "pi_1",
				"currency": "usd",
				"amount_subtotal": 2500,
				"amount_total": 2500,
				"line_items": {"data": [{"description": "Oat Soap", "quantity": 1, "amount_total": 2500, "price": {"unit_amount": 2500, "product": "soap-oat"}}]},
				"metadata": {"checkout_ref": "ref_1"}
			}`))
		case "/v1/checkout/sessions/cs_broken":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewProviderClient(&config.Provider{BaseApiURL: srv.URL, SecretKey: "sk_test"})
	ctx := context.Background()

	session, err := c.RetrieveSession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", session.PaymentIntentID)
	assert.Equal(t, model.Cents(2500), session.AmountTotal)
	require.Len(t, session.LineItems, 1)
	assert.Equal(t, "soap-oat", session.LineItems[0].ProductID)

	_, err = c.RetrieveSession(ctx, "cs_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = c.RetrieveSession(ctx, "cs_broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRetrieveSessionRejectsWrongKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewProviderClient(&config.Provider{BaseApiURL: srv.URL, SecretKey: "wrong"})
	_, err := c.RetrieveSession(context.Background(), "cs_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}
