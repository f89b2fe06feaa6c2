package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-reconciler/internal/dto"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"

	"github.com/google/uuid"
)

var (
	ErrEmptyCart       = errors.New("cart is empty")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
	ErrProductNotFound = errors.New("some products not found")
	ErrMixedCurrency   = errors.New("cart mixes currencies")
)

// ValidationError carries a reason meant for the customer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// CheckoutService prices a cart and prepares the metadata the caller attaches
// to the provider checkout session. Discount and gift card rules are checked
// here and trusted after payment.
type CheckoutService interface {
	Prepare(ctx context.Context, req *dto.PrepareCheckoutRequest) (*dto.PrepareCheckoutResponse, error)
}

type checkoutServiceImpl struct {
	productRepo repository.ProductRepository
	discounts   DiscountService
	giftCards   GiftCardService
}

func NewCheckoutService(
	productRepo repository.ProductRepository,
	discounts DiscountService,
	giftCards GiftCardService,
) CheckoutService {
	return &checkoutServiceImpl{
		productRepo: productRepo,
		discounts:   discounts,
		giftCards:   giftCards,
	}
}

func (s *checkoutServiceImpl) Prepare(ctx context.Context, req *dto.PrepareCheckoutRequest) (*dto.PrepareCheckoutResponse, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if req.ShippingCents < 0 {
		return nil, ErrInvalidAmount
	}

	productIDs := make([]string, 0, len(req.Items))
	itemQuantityMap := make(map[string]int32)
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if _, seen := itemQuantityMap[item.Sku]; !seen {
			productIDs = append(productIDs, item.Sku)
		}
		itemQuantityMap[item.Sku] += item.Quantity
	}

	products, err := s.productRepo.FindMany(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("get many products by item ids: %w", err)
	}
	if len(products) != len(productIDs) {
		return nil, ErrProductNotFound
	}

	resp := &dto.PrepareCheckoutResponse{
		CheckoutRef:   uuid.NewString(),
		Currency:      strings.ToUpper(products[0].Currency),
		Items:         make([]*dto.LineItem, len(products)),
		ShippingCents: req.ShippingCents,
	}

	for i, product := range products {
		if !strings.EqualFold(product.Currency, resp.Currency) {
			return nil, ErrMixedCurrency
		}
		quantity := itemQuantityMap[product.ID]
		lineTotal := product.PriceCents * model.Cents(quantity)
		resp.SubtotalCents += lineTotal

		resp.Items[i] = &dto.LineItem{
			Sku:            product.ID,
			Name:           product.Name,
			Quantity:       quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: lineTotal,
		}
	}

	customer := model.CustomerRef{ID: req.CustomerID, Email: req.CustomerEmail}
	meta := model.SessionMetadata{
		CheckoutRef: resp.CheckoutRef,
		CustomerID:  req.CustomerID,
	}

	var card *model.GiftCard
	if strings.TrimSpace(req.GiftCardCode) != "" {
		validation, err := s.giftCards.Validate(ctx, req.GiftCardCode)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return nil, &ValidationError{Field: "gift_card_code", Reason: validation.Reason}
		}
		card = validation.GiftCard
	}

	total := resp.SubtotalCents + resp.ShippingCents
	if strings.TrimSpace(req.DiscountCode) != "" {
		validation, err := s.discounts.Validate(ctx, req.DiscountCode, resp.SubtotalCents, customer)
		if err != nil {
			return nil, err
		}
		if !validation.Valid {
			return nil, &ValidationError{Field: "discount_code", Reason: validation.Reason}
		}

		result := s.discounts.Apply(validation.Discount, resp.SubtotalCents, resp.ShippingCents)
		_, err = s.discounts.Claim(ctx, validation.Discount.ID, customer, resp.CheckoutRef, result.DiscountAmount)
		switch {
		case errors.Is(err, ErrPerCustomerLimitReached):
			return nil, &ValidationError{Field: "discount_code", Reason: ReasonDiscountAlreadyUsed}
		case errors.Is(err, ErrUsageLimitReached):
			return nil, &ValidationError{Field: "discount_code", Reason: ReasonDiscountLimitReached}
		case err != nil:
			return nil, fmt.Errorf("claim discount: %w", err)
		}

		resp.DiscountCents = result.DiscountAmount
		total = result.NewTotal
		meta.DiscountCodeID = validation.Discount.ID
		meta.DiscountCode = validation.Discount.Code
		meta.DiscountAmount = result.DiscountAmount
	}

	if card != nil {
		resp.GiftCardCents = model.MinCents(card.CurrentBalanceCents, total)
		total -= resp.GiftCardCents
		meta.GiftCardID = card.ID
		meta.GiftCardCode = card.Code
		meta.GiftCardAmount = resp.GiftCardCents
	}

	resp.TotalCents = total
	resp.Metadata = meta.ToMap()

	return resp, nil
}
