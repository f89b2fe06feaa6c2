package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusUnpaid = "unpaid"
)

// PaymentSession is a finalized checkout session as reported by the payment
// provider. Amounts are authoritative.
type PaymentSession struct {
	ID              string
	PaymentIntentID string
	PaymentStatus   string
	Currency        string
	CustomerEmail   string
	CustomerName    string
	AmountSubtotal  Cents
	AmountShipping  Cents
	AmountTotal     Cents
	Shipping        ShippingAddress
	LineItems       []SessionLineItem
	Metadata        SessionMetadata
}

func (s *PaymentSession) IsPaid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}

type SessionLineItem struct {
	ProductID      string
	Name           string
	UnitPriceCents Cents
	Quantity       int32
	AmountTotal    Cents
}

type ShippingAddress struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

const (
	metaCheckoutRef    = "checkout_ref"
	metaCustomerID     = "customer_id"
	metaDiscountCodeID = "discount_code_id"
	metaDiscountCode   = "discount_code"
	metaDiscountAmount = "discount_amount"
	metaGiftCardID     = "gift_card_id"
	metaGiftCardCode   = "gift_card_code"
	metaGiftCardAmount = "gift_card_amount"
)

var ErrInvalidMetadata = errors.New("invalid session metadata")

// SessionMetadata is attached to the provider session when checkout starts.
// The amounts were validated at that point and are trusted afterwards.
type SessionMetadata struct {
	CheckoutRef    string
	CustomerID     string
	DiscountCodeID string
	DiscountCode   string
	DiscountAmount Cents
	GiftCardID     string
	GiftCardCode   string
	GiftCardAmount Cents
}

func (m SessionMetadata) HasDiscount() bool {
	return m.DiscountCodeID != ""
}

func (m SessionMetadata) HasGiftCard() bool {
	return m.GiftCardID != "" && m.GiftCardAmount > 0
}

// ToMap encodes the metadata into the provider's string map.
func (m SessionMetadata) ToMap() map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put(metaCheckoutRef, m.CheckoutRef)
	put(metaCustomerID, m.CustomerID)
	if m.HasDiscount() {
		put(metaDiscountCodeID, m.DiscountCodeID)
		put(metaDiscountCode, m.DiscountCode)
		out[metaDiscountAmount] = strconv.FormatInt(int64(m.DiscountAmount), 10)
	}
	if m.GiftCardID != "" {
		put(metaGiftCardID, m.GiftCardID)
		put(metaGiftCardCode, m.GiftCardCode)
		out[metaGiftCardAmount] = strconv.FormatInt(int64(m.GiftCardAmount), 10)
	}
	return out
}

// ParseSessionMetadata decodes the provider's string map. Unknown keys are
// ignored; malformed or inconsistent values are rejected.
func ParseSessionMetadata(raw map[string]string) (SessionMetadata, error) {
	m := SessionMetadata{
		CheckoutRef:    strings.TrimSpace(raw[metaCheckoutRef]),
		CustomerID:     strings.TrimSpace(raw[metaCustomerID]),
		DiscountCodeID: strings.TrimSpace(raw[metaDiscountCodeID]),
		DiscountCode:   strings.TrimSpace(raw[metaDiscountCode]),
		GiftCardID:     strings.TrimSpace(raw[metaGiftCardID]),
		GiftCardCode:   strings.TrimSpace(raw[metaGiftCardCode]),
	}

	var err error
	if m.DiscountAmount, err = parseMetaCents(raw, metaDiscountAmount); err != nil {
		return SessionMetadata{}, err
	}
	if m.GiftCardAmount, err = parseMetaCents(raw, metaGiftCardAmount); err != nil {
		return SessionMetadata{}, err
	}

	if m.DiscountAmount > 0 && m.DiscountCodeID == "" {
		return SessionMetadata{}, fmt.Errorf("%w: %s without %s", ErrInvalidMetadata, metaDiscountAmount, metaDiscountCodeID)
	}
	if m.GiftCardAmount > 0 && m.GiftCardID == "" {
		return SessionMetadata{}, fmt.Errorf("%w: %s without %s", ErrInvalidMetadata, metaGiftCardAmount, metaGiftCardID)
	}

	return m, nil
}

func parseMetaCents(raw map[string]string, key string) (Cents, error) {
	v := strings.TrimSpace(raw[key])
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidMetadata, key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative %s", ErrInvalidMetadata, key)
	}
	return Cents(n), nil
}
