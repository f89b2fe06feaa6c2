package model

import (
	"fmt"
	"strings"
)

// Payment provider wire types. Only the fields the engine reads are mapped.

type ProviderAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type ProviderShippingDetails struct {
	Name    string          `json:"name"`
	Address ProviderAddress `json:"address"`
}

type ProviderCustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type ProviderShippingCost struct {
	AmountTotal int64 `json:"amount_total"`
}

type ProviderPrice struct {
	UnitAmount int64  `json:"unit_amount"`
	Product    string `json:"product"`
}

type ProviderLineItem struct {
	Description string        `json:"description"`
	Quantity    int32         `json:"quantity"`
	AmountTotal int64         `json:"amount_total"`
	Price       ProviderPrice `json:"price"`
}

type ProviderLineItems struct {
	Data []ProviderLineItem `json:"data"`
}

type ProviderCheckoutSession struct {
	ID              string                   `json:"id"`
	Object          string                   `json:"object"`
	Status          string                   `json:"status"`
	PaymentStatus   string                   `json:"payment_status"`
	PaymentIntent   string                   `json:"payment_intent"`
	Currency        string                   `json:"currency"`
	CustomerEmail   string                   `json:"customer_email"`
	CustomerDetails *ProviderCustomerDetails `json:"customer_details"`
	AmountSubtotal  int64                    `json:"amount_subtotal"`
	AmountTotal     int64                    `json:"amount_total"`
	ShippingCost    *ProviderShippingCost    `json:"shipping_cost"`
	ShippingDetails *ProviderShippingDetails `json:"shipping_details"`
	LineItems       *ProviderLineItems       `json:"line_items"`
	Metadata        map[string]string        `json:"metadata"`
}

// ToPaymentSession converts the wire object and validates its metadata.
func (s *ProviderCheckoutSession) ToPaymentSession() (*PaymentSession, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("checkout session without id")
	}

	meta, err := ParseSessionMetadata(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}

	session := &PaymentSession{
		ID:              s.ID,
		PaymentIntentID: s.PaymentIntent,
		PaymentStatus:   s.PaymentStatus,
		Currency:        strings.ToUpper(s.Currency),
		CustomerEmail:   s.CustomerEmail,
		AmountSubtotal:  Cents(s.AmountSubtotal),
		AmountTotal:     Cents(s.AmountTotal),
		Metadata:        meta,
	}
	if session.Currency == "" {
		session.Currency = "USD"
	}
	if s.CustomerDetails != nil {
		if s.CustomerDetails.Email != "" {
			session.CustomerEmail = s.CustomerDetails.Email
		}
		session.CustomerName = s.CustomerDetails.Name
	}
	if s.ShippingCost != nil {
		session.AmountShipping = Cents(s.ShippingCost.AmountTotal)
	}
	if s.ShippingDetails != nil {
		a := s.ShippingDetails.Address
		session.Shipping = ShippingAddress{
			Name:       s.ShippingDetails.Name,
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}
	if s.LineItems != nil {
		for _, li := range s.LineItems.Data {
			session.LineItems = append(session.LineItems, SessionLineItem{
				ProductID:      li.Price.Product,
				Name:           li.Description,
				UnitPriceCents: Cents(li.Price.UnitAmount),
				Quantity:       li.Quantity,
				AmountTotal:    Cents(li.AmountTotal),
			})
		}
	}

	return session, nil
}

type ProviderPaymentIntent struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Metadata       map[string]string `json:"metadata"`
}

type ProviderCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountCaptured int64  `json:"amount_captured"`
	AmountRefunded int64  `json:"amount_refunded"`
	Refunded       bool   `json:"refunded"`
}

// PaymentCapture is a confirmed capture for a payment intent.
type PaymentCapture struct {
	PaymentIntentID string
	SessionID       string
	Amount          Cents
}

// ChargeRefund carries cumulative refund totals for a charge.
type ChargeRefund struct {
	ChargeID        string
	PaymentIntentID string
	AmountCaptured  Cents
	AmountRefunded  Cents
}

func (r ChargeRefund) IsFull() bool {
	return r.AmountCaptured > 0 && r.AmountRefunded >= r.AmountCaptured
}

func (c *ProviderCharge) ToChargeRefund() ChargeRefund {
	captured := c.AmountCaptured
	if captured == 0 {
		captured = c.Amount
	}
	return ChargeRefund{
		ChargeID:        c.ID,
		PaymentIntentID: c.PaymentIntent,
		AmountCaptured:  Cents(captured),
		AmountRefunded:  Cents(c.AmountRefunded),
	}
}

func (p *ProviderPaymentIntent) ToPaymentCapture() PaymentCapture {
	return PaymentCapture{
		PaymentIntentID: p.ID,
		SessionID:       p.Metadata["checkout_session_id"],
		Amount:          Cents(p.AmountReceived),
	}
}
