package dto

import (
	"fmt"
	"strings"
	"time"

	"checkout-reconciler/internal/model"

	"github.com/shopspring/decimal"
)

type Item struct {
	Sku      string `json:"sku"`
	Quantity int32  `json:"quantity"`
}

type PrepareCheckoutRequest struct {
	Items         []*Item     `json:"items"`
	ShippingCents model.Cents `json:"shipping_cents"`
	CustomerID    string      `json:"customer_id"`
	CustomerEmail string      `json:"customer_email"`
	DiscountCode  string      `json:"discount_code"`
	GiftCardCode  string      `json:"gift_card_code"`
}

type LineItem struct {
	Sku            string      `json:"sku"`
	Name           string      `json:"name"`
	Quantity       int32       `json:"quantity"`
	UnitPriceCents model.Cents `json:"unit_price_cents"`
	LineTotalCents model.Cents `json:"line_total_cents"`
}

// PrepareCheckoutResponse carries the priced cart and the metadata to attach
// to the provider checkout session.
type PrepareCheckoutResponse struct {
	CheckoutRef   string            `json:"checkout_ref"`
	Currency      string            `json:"currency"`
	Items         []*LineItem       `json:"items"`
	SubtotalCents model.Cents       `json:"subtotal_cents"`
	ShippingCents model.Cents       `json:"shipping_cents"`
	DiscountCents model.Cents       `json:"discount_cents"`
	GiftCardCents model.Cents       `json:"gift_card_cents"`
	TotalCents    model.Cents       `json:"total_cents"`
	Metadata      map[string]string `json:"metadata"`
}

type ValidateDiscountRequest struct {
	Code          string      `json:"code"`
	SubtotalCents model.Cents `json:"subtotal_cents"`
	ShippingCents model.Cents `json:"shipping_cents"`
	CustomerID    string      `json:"customer_id"`
	CustomerEmail string      `json:"customer_email"`
}

type ValidateDiscountResponse struct {
	Valid         bool               `json:"valid"`
	Reason        string             `json:"reason,omitempty"`
	Code          string             `json:"code,omitempty"`
	Type          model.DiscountType `json:"type,omitempty"`
	Value         string             `json:"value,omitempty"`
	Description   string             `json:"description,omitempty"`
	DiscountCents model.Cents        `json:"discount_cents"`
	NewSubtotal   model.Cents        `json:"new_subtotal_cents"`
	NewShipping   model.Cents        `json:"new_shipping_cents"`
	NewTotal      model.Cents        `json:"new_total_cents"`
}

type ValidateGiftCardRequest struct {
	Code string `json:"code"`
}

type ValidateGiftCardResponse struct {
	Valid        bool        `json:"valid"`
	Reason       string      `json:"reason,omitempty"`
	Code         string      `json:"code,omitempty"`
	BalanceCents model.Cents `json:"balance_cents"`
	Balance      string      `json:"balance,omitempty"`
}

type IssueGiftCardRequest struct {
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Activate       bool       `json:"activate"`
	RecipientName  string     `json:"recipient_name"`
	RecipientEmail string     `json:"recipient_email"`
	SenderName     string     `json:"sender_name"`
	Message        string     `json:"message"`
	PurchaserEmail string     `json:"purchaser_email"`
}

type AdjustGiftCardRequest struct {
	// Amount is a signed decimal such as "-5.00".
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

type TopUpGiftCardRequest struct {
	Amount  string `json:"amount"`
	OrderID string `json:"order_id"`
}

type GiftCardResponse struct {
	ID             string               `json:"id"`
	Code           string               `json:"code"`
	Status         model.GiftCardStatus `json:"status"`
	Currency       string               `json:"currency"`
	InitialBalance string               `json:"initial_balance"`
	CurrentBalance string               `json:"current_balance"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty"`
}

type GiftCardTransactionResponse struct {
	ID           uint                          `json:"id"`
	GiftCardID   string                        `json:"gift_card_id"`
	Type         model.GiftCardTransactionType `json:"type"`
	Amount       string                        `json:"amount"`
	BalanceAfter string                        `json:"balance_after"`
	Description  string                        `json:"description"`
	Actor        string                        `json:"actor"`
	CreatedAt    time.Time                     `json:"created_at"`
}

type CreateDiscountRequest struct {
	Code               string             `json:"code" yaml:"code"`
	Type               model.DiscountType `json:"type" yaml:"type"`
	Value              string             `json:"value" yaml:"value"`
	Description        string             `json:"description" yaml:"description"`
	MinOrder           string             `json:"min_order" yaml:"min_order"`
	MaxDiscount        string             `json:"max_discount" yaml:"max_discount"`
	MaxUses            *int               `json:"max_uses" yaml:"max_uses"`
	MaxUsesPerCustomer *int               `json:"max_uses_per_customer" yaml:"max_uses_per_customer"`
	StartsAt           *time.Time         `json:"starts_at" yaml:"starts_at"`
	ExpiresAt          *time.Time         `json:"expires_at" yaml:"expires_at"`
	Active             *bool              `json:"active" yaml:"active"`
}

// ToDiscountCode parses the money fields. Active defaults to true.
func (r *CreateDiscountRequest) ToDiscountCode() (*model.DiscountCode, error) {
	value, err := decimal.NewFromString(r.Value)
	if err != nil && r.Type != model.DiscountTypeFreeShipping {
		return nil, fmt.Errorf("invalid value %q", r.Value)
	}

	minOrder, err := optionalCents(r.MinOrder)
	if err != nil {
		return nil, fmt.Errorf("invalid min_order: %w", err)
	}
	maxDiscount, err := optionalCents(r.MaxDiscount)
	if err != nil {
		return nil, fmt.Errorf("invalid max_discount: %w", err)
	}

	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return &model.DiscountCode{
		Code:               r.Code,
		Type:               r.Type,
		Value:              value,
		Description:        r.Description,
		MinOrderCents:      minOrder,
		MaxDiscountCents:   maxDiscount,
		MaxUses:            r.MaxUses,
		MaxUsesPerCustomer: r.MaxUsesPerCustomer,
		StartsAt:           r.StartsAt,
		ExpiresAt:          r.ExpiresAt,
		Active:             active,
	}, nil
}

func optionalCents(s string) (*model.Cents, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := model.ParseCents(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type DiscountResponse struct {
	ID                 string             `json:"id"`
	Code               string             `json:"code"`
	Type               model.DiscountType `json:"type"`
	Value              string             `json:"value"`
	Description        string             `json:"description"`
	MaxUses            *int               `json:"max_uses,omitempty"`
	MaxUsesPerCustomer *int               `json:"max_uses_per_customer,omitempty"`
	UsedCount          int                `json:"used_count"`
	Active             bool               `json:"active"`
}

type OrderItemResponse struct {
	ProductID      *string     `json:"product_id,omitempty"`
	Name           string      `json:"name"`
	Quantity       int32       `json:"quantity"`
	UnitPriceCents model.Cents `json:"unit_price_cents"`
	LineTotalCents model.Cents `json:"line_total_cents"`
}

type OrderResponse struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"order_number"`
	Status        model.OrderStatus    `json:"status"`
	Currency      string               `json:"currency"`
	CustomerEmail string               `json:"customer_email"`
	SubtotalCents model.Cents          `json:"subtotal_cents"`
	ShippingCents model.Cents          `json:"shipping_cents"`
	DiscountCents model.Cents          `json:"discount_cents"`
	GiftCardCents model.Cents          `json:"gift_card_cents"`
	TotalCents    model.Cents          `json:"total_cents"`
	Total         string               `json:"total"`
	Items         []*OrderItemResponse `json:"items"`
	PaidAt        *time.Time           `json:"paid_at,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

type OrderEventResponse struct {
	ID          uint                   `json:"id"`
	Type        model.OrderEventType   `json:"type"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Actor       string                 `json:"actor"`
	CreatedAt   time.Time              `json:"created_at"`
}

type ProcessingResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

func NewOrderResponse(order *model.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		SubtotalCents: order.SubtotalCents,
		ShippingCents: order.ShippingCents,
		DiscountCents: order.DiscountCents,
		GiftCardCents: order.GiftCardCents,
		TotalCents:    order.TotalCents,
		Total:         order.TotalCents.Format(),
		Items:         make([]*OrderItemResponse, len(order.Items)),
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
	}
	for i, item := range order.Items {
		resp.Items[i] = &OrderItemResponse{
			ProductID:      item.ProductID,
			Name:           item.ProductName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		}
	}
	return resp
}

func NewGiftCardResponse(card *model.GiftCard) *GiftCardResponse {
	return &GiftCardResponse{
		ID:             card.ID,
		Code:           card.Code,
		Status:         card.Status,
		Currency:       card.Currency,
		InitialBalance: card.InitialBalanceCents.String(),
		CurrentBalance: card.CurrentBalanceCents.String(),
		ExpiresAt:      card.ExpiresAt,
	}
}

func NewGiftCardTransactionResponse(entry *model.GiftCardTransaction) *GiftCardTransactionResponse {
	return &GiftCardTransactionResponse{
		ID:           entry.ID,
		GiftCardID:   entry.GiftCardID,
		Type:         entry.Type,
		Amount:       entry.AmountCents.String(),
		BalanceAfter: entry.BalanceAfterCents.String(),
		Description:  entry.Description,
		Actor:        entry.Actor,
		CreatedAt:    entry.CreatedAt,
	}
}

func NewDiscountResponse(dc *model.DiscountCode) *DiscountResponse {
	return &DiscountResponse{
		ID:                 dc.ID,
		Code:               dc.Code,
		Type:               dc.Type,
		Value:              dc.Value.String(),
		Description:        dc.Description,
		MaxUses:            dc.MaxUses,
		MaxUsesPerCustomer: dc.MaxUsesPerCustomer,
		UsedCount:          dc.UsedCount,
		Active:             dc.Active,
	}
}

func NewOrderEventResponse(ev *model.OrderEvent) *OrderEventResponse {
	return &OrderEventResponse{
		ID:          ev.ID,
		Type:        ev.Type,
		Description: ev.Description,
		Metadata:    ev.Metadata,
		Actor:       ev.Actor,
		CreatedAt:   ev.CreatedAt,
	}
}

type StockLevelResponse struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Active    bool   `json:"active"`
}

func NewStockLevelResponse(p *model.Product) *StockLevelResponse {
	resp := &StockLevelResponse{
		ProductID: p.ID,
		Name:      p.Name,
		Active:    p.Active,
	}
	if p.Stock != nil {
		resp.Stock = *p.Stock
	}
	return resp
}
