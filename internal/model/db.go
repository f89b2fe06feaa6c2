package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusRefunded OrderStatus = "refunded"
)

type Product struct {
	ID         string `gorm:"primaryKey;size:64;not null"` // product sku
	Name       string `gorm:"size:255;not null"`
	PriceCents Cents  `gorm:"not null"`
	Currency   string `gorm:"size:8;not null"`
	Stock      *int   // nil means stock is not tracked
	Active     bool   `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Customer struct {
	ID        string `gorm:"primaryKey;size:64"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	Name      string `gorm:"size:255"`
	CreatedAt time.Time
}

type Order struct {
	ID               string      `gorm:"primaryKey;size:36"`
	OrderNumber      string      `gorm:"size:32;uniqueIndex;not null"`
	Status           OrderStatus `gorm:"size:16;index;not null"`
	PaymentSessionID string      `gorm:"size:255;uniqueIndex;not null"` // idempotency key
	PaymentIntentID  *string     `gorm:"size:255;index"`

	CustomerID    *string `gorm:"size:64;index"`
	CustomerEmail string  `gorm:"size:255;index"`
	CustomerName  string  `gorm:"size:255"`

	Currency      string `gorm:"size:8;not null"`
	SubtotalCents Cents  `gorm:"not null"`
	ShippingCents Cents  `gorm:"not null"`
	DiscountCents Cents  `gorm:"not null;default:0"`
	GiftCardCents Cents  `gorm:"not null;default:0"`
	TotalCents    Cents  `gorm:"not null"`

	DiscountCodeID *string `gorm:"size:36;index"`
	DiscountCode   string  `gorm:"size:64"`
	GiftCardID     *string `gorm:"size:36;index"`

	ShippingName       string `gorm:"size:255"`
	ShippingLine1      string `gorm:"size:255"`
	ShippingLine2      string `gorm:"size:255"`
	ShippingCity       string `gorm:"size:128"`
	ShippingState      string `gorm:"size:128"`
	ShippingPostalCode string `gorm:"size:32"`
	ShippingCountry    string `gorm:"size:8"`

	PaidAt     *time.Time
	RefundedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// OrderItem is a snapshot of the catalog at purchase time.
type OrderItem struct {
	ID             uint    `gorm:"primaryKey"`
	OrderID        string  `gorm:"size:36;index;not null"`
	ProductID      *string `gorm:"size:64;index"`
	ProductName    string  `gorm:"size:255;not null"`
	UnitPriceCents Cents   `gorm:"not null"`
	Quantity       int32   `gorm:"not null"`
	LineTotalCents Cents   `gorm:"not null"`
	CreatedAt      time.Time
}

type OrderEventType string

const (
	EventOrderCreated              OrderEventType = "order_created"
	EventPaymentReceived           OrderEventType = "payment_received"
	EventDiscountApplied           OrderEventType = "discount_applied"
	EventDiscountRecordingFailed   OrderEventType = "discount_recording_failed"
	EventGiftCardRedeemed          OrderEventType = "gift_card_redeemed"
	EventGiftCardRedemptionFailed  OrderEventType = "gift_card_redemption_failed"
	EventGiftCardRefunded          OrderEventType = "gift_card_refunded"
	EventGiftCardRefundFailed      OrderEventType = "gift_card_refund_failed"
	EventInventoryUpdateFailed     OrderEventType = "inventory_update_failed"
	EventNotificationEnqueueFailed OrderEventType = "notification_enqueue_failed"
	EventRefunded                  OrderEventType = "refunded"
	EventRefundOnUnpaidOrder       OrderEventType = "refund_on_unpaid_order"

	EventDiscountPending           OrderEventType = "discount_pending"
	EventGiftCardRedemptionPending OrderEventType = "gift_card_redemption_pending"
	EventGiftCardRefundPending     OrderEventType = "gift_card_refund_pending"

	EventSideEffectResolved OrderEventType = "side_effect_resolved"
)

// FailureEventTypes are side effects that need a human to reconcile.
var FailureEventTypes = []OrderEventType{
	EventDiscountRecordingFailed,
	EventGiftCardRedemptionFailed,
	EventGiftCardRefundFailed,
	EventInventoryUpdateFailed,
	EventNotificationEnqueueFailed,
	EventRefundOnUnpaidOrder,
}

// PendingOutcomes maps each pending marker, written in the same transaction
// as the state change that calls for the side effect, to the events that
// settle it. A marker with no outcome means the process stopped in between.
var PendingOutcomes = map[OrderEventType][]OrderEventType{
	EventDiscountPending:           {EventDiscountApplied, EventDiscountRecordingFailed},
	EventGiftCardRedemptionPending: {EventGiftCardRedeemed, EventGiftCardRedemptionFailed},
	EventGiftCardRefundPending:     {EventGiftCardRefunded, EventGiftCardRefundFailed},
}

func PendingEventTypes() []OrderEventType {
	return []OrderEventType{EventDiscountPending, EventGiftCardRedemptionPending, EventGiftCardRefundPending}
}

const ActorSystem = "system"

// OrderEvent is append-only.
type OrderEvent struct {
	ID          uint              `gorm:"primaryKey"`
	OrderID     string            `gorm:"size:36;index;not null"`
	Type        OrderEventType    `gorm:"size:48;index;not null"`
	Description string            `gorm:"type:text"`
	Metadata    datatypes.JSONMap `gorm:"type:json"`
	Actor       string            `gorm:"size:128;not null"`
	CreatedAt   time.Time
}

type DiscountType string

const (
	DiscountTypePercentage   DiscountType = "percentage"
	DiscountTypeFixed        DiscountType = "fixed"
	DiscountTypeFreeShipping DiscountType = "free_shipping"
)

type DiscountCode struct {
	ID                 string          `gorm:"primaryKey;size:36"`
	Code               string          `gorm:"size:64;uniqueIndex;not null"` // stored upper-case
	Type               DiscountType    `gorm:"size:16;not null"`
	Value              decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Description        string          `gorm:"size:255"`
	MinOrderCents      *Cents
	MaxDiscountCents   *Cents // percentage only
	MaxUses            *int
	MaxUsesPerCustomer *int
	StartsAt           *time.Time
	ExpiresAt          *time.Time
	Active             bool `gorm:"not null"`
	UsedCount          int  `gorm:"not null;default:0"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DiscountUsage is one application of a code. A row without OrderID is a
// claim taken at checkout that has not been bound to an order yet.
type DiscountUsage struct {
	ID             uint    `gorm:"primaryKey"`
	DiscountCodeID string  `gorm:"size:36;not null;index;uniqueIndex:ux_discount_usage_ref,priority:1;uniqueIndex:ux_discount_usage_slot,priority:1"`
	OrderID        *string `gorm:"size:36;uniqueIndex"`
	CheckoutRef    *string `gorm:"size:64;uniqueIndex:ux_discount_usage_ref,priority:2"`
	CustomerID     *string `gorm:"size:64;index"`
	CustomerEmail  string  `gorm:"size:255;index"`
	CustomerKey    string  `gorm:"size:300;not null;uniqueIndex:ux_discount_usage_slot,priority:2"`
	Slot           *int    `gorm:"uniqueIndex:ux_discount_usage_slot,priority:3"`
	AmountCents    Cents   `gorm:"not null"`
	CreatedAt      time.Time
}

type GiftCardStatus string

const (
	GiftCardStatusPending  GiftCardStatus = "pending"
	GiftCardStatusActive   GiftCardStatus = "active"
	GiftCardStatusDepleted GiftCardStatus = "depleted"
	GiftCardStatusExpired  GiftCardStatus = "expired"
	GiftCardStatusDisabled GiftCardStatus = "disabled"
)

type GiftCard struct {
	ID                  string         `gorm:"primaryKey;size:36"`
	Code                string         `gorm:"size:32;uniqueIndex;not null"`
	InitialBalanceCents Cents          `gorm:"not null"`
	CurrentBalanceCents Cents          `gorm:"not null"`
	Currency            string         `gorm:"size:8;not null"`
	Status              GiftCardStatus `gorm:"size:16;index;not null"`
	ExpiresAt           *time.Time     `gorm:"index"`
	RecipientName       string         `gorm:"size:255"`
	RecipientEmail      string         `gorm:"size:255"`
	SenderName          string         `gorm:"size:255"`
	Message             string         `gorm:"type:text"`
	PurchaserEmail      string         `gorm:"size:255"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type GiftCardTransactionType string

const (
	GiftCardTxPurchase   GiftCardTransactionType = "purchase"
	GiftCardTxRedemption GiftCardTransactionType = "redemption"
	GiftCardTxRefund     GiftCardTransactionType = "refund"
	GiftCardTxAdjustment GiftCardTransactionType = "adjustment"
)

// GiftCardTransaction is the ledger row. ID order is ledger order.
type GiftCardTransaction struct {
	ID                uint                    `gorm:"primaryKey"`
	GiftCardID        string                  `gorm:"size:36;index;not null"`
	Type              GiftCardTransactionType `gorm:"size:16;not null"`
	AmountCents       Cents                   `gorm:"not null"` // positive credit, negative debit
	BalanceAfterCents Cents                   `gorm:"not null"`
	OrderID           *string                 `gorm:"size:36;index"`
	Description       string                  `gorm:"size:255"`
	Actor             string                  `gorm:"size:128;not null"`
	CreatedAt         time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusFailed    OutboxStatus = "failed"
)

type OutboxMessage struct {
	ID            string         `gorm:"primaryKey;size:36"`
	Topic         string         `gorm:"size:64;index;not null"`
	AggregateID   string         `gorm:"size:64;index;not null"`
	Payload       datatypes.JSON `gorm:"type:json;not null"`
	Status        OutboxStatus   `gorm:"size:16;index;not null"`
	Attempts      int            `gorm:"not null;default:0"`
	NextAttemptAt time.Time      `gorm:"index"`
	LastError     string         `gorm:"type:text"`
	DeliveredAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// All lists the tables for AutoMigrate.
func All() []any {
	return []any{
		&Product{},
		&Customer{},
		&Order{},
		&OrderItem{},
		&OrderEvent{},
		&DiscountCode{},
		&DiscountUsage{},
		&GiftCard{},
		&GiftCardTransaction{},
		&WebhookEvent{},
		&OutboxMessage{},
	}
}
