package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrDiscountNotFound        = errors.New("discount code not found")
	ErrInvalidDiscount         = errors.New("invalid discount code definition")
	ErrUsageLimitReached       = errors.New("discount code usage limit reached")
	ErrPerCustomerLimitReached = errors.New("discount code already used by customer")
	ErrUsageAlreadyRecorded    = errors.New("discount usage already recorded for order")
)

const (
	ReasonDiscountInvalid      = "Invalid discount code"
	ReasonDiscountInactive     = "This discount code is no longer active"
	ReasonDiscountNotYetValid  = "This discount code is not yet valid"
	ReasonDiscountExpired      = "This discount code has expired"
	ReasonDiscountLimitReached = "This discount code has reached its usage limit"
	ReasonDiscountAlreadyUsed  = "You have already used this discount code"
)

var hundred = decimal.NewFromInt(100)

func reasonMinimumOrder(min model.Cents) string {
	return fmt.Sprintf("Minimum order of %s required for this discount", min.Format())
}

type DiscountValidation struct {
	Valid    bool
	Reason   string
	Discount *model.DiscountCode
}

// DiscountResult is the effect of a code on an order. NewTotal is
// NewSubtotal plus NewShipping.
type DiscountResult struct {
	DiscountAmount model.Cents
	NewSubtotal    model.Cents
	NewShipping    model.Cents
	NewTotal       model.Cents
}

type UsageRecord struct {
	DiscountCodeID string
	OrderID        string
	CheckoutRef    string
	Customer       model.CustomerRef
	Amount         model.Cents
}

type DiscountService interface {
	Validate(ctx context.Context, code string, subtotal model.Cents, customer model.CustomerRef) (*DiscountValidation, error)
	Apply(discount *model.DiscountCode, subtotal, shipping model.Cents) DiscountResult
	// Claim reserves one use of the code for a checkout before payment, so
	// concurrent checkouts cannot exceed the per-customer or total limits.
	Claim(ctx context.Context, discountCodeID string, customer model.CustomerRef, checkoutRef string, amount model.Cents) (*model.DiscountUsage, error)
	// Release returns a claim that never became an order.
	Release(ctx context.Context, checkoutRef string) (bool, error)
	// RecordUsage binds the checkout's claim to the order, or records a new
	// usage when there is no claim.
	RecordUsage(ctx context.Context, rec UsageRecord) error
	Create(ctx context.Context, discount *model.DiscountCode) error
	Delete(ctx context.Context, id string) error
}

type discountServiceImpl struct {
	db   *gorm.DB
	repo repository.DiscountRepository
	now  func() time.Time
}

func NewDiscountService(db *gorm.DB, repo repository.DiscountRepository) DiscountService {
	return &discountServiceImpl{
		db:   db,
		repo: repo,
		now:  time.Now,
	}
}

func (s *discountServiceImpl) Validate(ctx context.Context, code string, subtotal model.Cents, customer model.CustomerRef) (*DiscountValidation, error) {
	if strings.TrimSpace(code) == "" {
		return &DiscountValidation{Reason: ReasonDiscountInvalid}, nil
	}

	dc, err := s.repo.FindByCode(ctx, code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DiscountValidation{Reason: ReasonDiscountInvalid}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find discount code: %w", err)
	}

	now := s.now()
	switch {
	case !dc.Active:
		return &DiscountValidation{Reason: ReasonDiscountInactive}, nil
	case dc.StartsAt != nil && now.Before(*dc.StartsAt):
		return &DiscountValidation{Reason: ReasonDiscountNotYetValid}, nil
	case dc.ExpiresAt != nil && now.After(*dc.ExpiresAt):
		return &DiscountValidation{Reason: ReasonDiscountExpired}, nil
	case dc.MaxUses != nil && dc.UsedCount >= *dc.MaxUses:
		return &DiscountValidation{Reason: ReasonDiscountLimitReached}, nil
	}

	if dc.MaxUsesPerCustomer != nil && !customer.IsAnonymous() {
		used, err := s.repo.CountCustomerUsages(ctx, nil, dc.ID, customer)
		if err != nil {
			return nil, fmt.Errorf("count customer usages: %w", err)
		}
		if used >= int64(*dc.MaxUsesPerCustomer) {
			return &DiscountValidation{Reason: ReasonDiscountAlreadyUsed}, nil
		}
	}

	if dc.MinOrderCents != nil && subtotal < *dc.MinOrderCents {
		return &DiscountValidation{Reason: reasonMinimumOrder(*dc.MinOrderCents)}, nil
	}

	return &DiscountValidation{Valid: true, Discount: dc}, nil
}

func (s *discountServiceImpl) Apply(discount *model.DiscountCode, subtotal, shipping model.Cents) DiscountResult {
	return ApplyDiscount(discount, subtotal, shipping)
}

// ApplyDiscount computes the discount without touching storage. The result
// never takes the subtotal or shipping below zero.
func ApplyDiscount(discount *model.DiscountCode, subtotal, shipping model.Cents) DiscountResult {
	res := DiscountResult{NewSubtotal: subtotal, NewShipping: shipping}

	switch discount.Type {
	case model.DiscountTypePercentage:
		amount := model.CentsFromDecimal(subtotal.Decimal().Mul(discount.Value).Div(hundred))
		if discount.MaxDiscountCents != nil {
			amount = model.MinCents(amount, *discount.MaxDiscountCents)
		}
		amount = clampCents(amount, subtotal)
		res.DiscountAmount = amount
		res.NewSubtotal = subtotal - amount
	case model.DiscountTypeFixed:
		amount := clampCents(model.CentsFromDecimal(discount.Value), subtotal)
		res.DiscountAmount = amount
		res.NewSubtotal = subtotal - amount
	case model.DiscountTypeFreeShipping:
		res.DiscountAmount = clampCents(shipping, shipping)
		res.NewShipping = shipping - res.DiscountAmount
	}

	res.NewTotal = res.NewSubtotal + res.NewShipping
	return res
}

func clampCents(amount, ceiling model.Cents) model.Cents {
	if amount < 0 {
		return 0
	}
	return model.MinCents(amount, ceiling)
}

func (s *discountServiceImpl) Claim(ctx context.Context, discountCodeID string, customer model.CustomerRef, checkoutRef string, amount model.Cents) (*model.DiscountUsage, error) {
	var usage *model.DiscountUsage

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindClaim(ctx, tx, discountCodeID, checkoutRef)
		if err == nil {
			usage = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find discount claim: %w", err)
		}

		dc, err := s.findDiscount(ctx, tx, discountCodeID)
		if err != nil {
			return err
		}

		usage, err = s.checkAndRecord(ctx, tx, dc, customer, amount, "", checkoutRef)
		return err
	})
	if err != nil {
		return nil, err
	}

	return usage, nil
}

// checkAndRecord takes the lowest free per-customer slot and a unit of the
// total limit in the caller's transaction. A concurrent writer that loses
// every slot race gets a limit error and its transaction rolls back.
func (s *discountServiceImpl) checkAndRecord(ctx context.Context, tx *gorm.DB, dc *model.DiscountCode, customer model.CustomerRef, amount model.Cents, orderID, checkoutRef string) (*model.DiscountUsage, error) {
	perCustomer := dc.MaxUsesPerCustomer != nil && !customer.IsAnonymous()

	var free []int
	if perCustomer {
		used, err := s.repo.CountCustomerUsages(ctx, tx, dc.ID, customer)
		if err != nil {
			return nil, fmt.Errorf("count customer usages: %w", err)
		}
		if used >= int64(*dc.MaxUsesPerCustomer) {
			return nil, ErrPerCustomerLimitReached
		}

		taken, err := s.repo.TakenSlots(ctx, tx, dc.ID, customer.Key())
		if err != nil {
			return nil, fmt.Errorf("list customer slots: %w", err)
		}
		free = freeSlots(*dc.MaxUsesPerCustomer, taken)
		if len(free) == 0 {
			return nil, ErrPerCustomerLimitReached
		}
	}

	incremented, err := s.repo.IncrementUsage(ctx, tx, dc.ID, true)
	if err != nil {
		return nil, fmt.Errorf("increment discount usage: %w", err)
	}
	if !incremented {
		return nil, ErrUsageLimitReached
	}

	if !perCustomer {
		usage := newUsage(dc.ID, customer, amount, orderID, checkoutRef)
		if err := s.repo.InsertUsage(ctx, tx, usage); err != nil {
			if errors.Is(err, repository.ErrDuplicateUsage) {
				return nil, ErrPerCustomerLimitReached
			}
			return nil, fmt.Errorf("insert discount usage: %w", err)
		}
		return usage, nil
	}

	// A slot seen free may be taken by a concurrent claim; move on to the next.
	for _, slot := range free {
		usage := newUsage(dc.ID, customer, amount, orderID, checkoutRef)
		usage.Slot = &slot
		err := s.repo.InsertUsage(ctx, tx, usage)
		if errors.Is(err, repository.ErrDuplicateUsage) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert discount usage: %w", err)
		}
		return usage, nil
	}

	return nil, ErrPerCustomerLimitReached
}

// freeSlots returns the numbers in 1..limit not present in taken.
func freeSlots(limit int, taken []int) []int {
	held := make(map[int]bool, len(taken))
	for _, n := range taken {
		held[n] = true
	}

	free := make([]int, 0, limit)
	for n := 1; n <= limit; n++ {
		if !held[n] {
			free = append(free, n)
		}
	}
	return free
}

func newUsage(discountCodeID string, customer model.CustomerRef, amount model.Cents, orderID, checkoutRef string) *model.DiscountUsage {
	return &model.DiscountUsage{
		DiscountCodeID: discountCodeID,
		OrderID:        optionalString(orderID),
		CheckoutRef:    optionalString(checkoutRef),
		CustomerID:     optionalString(customer.ID),
		CustomerEmail:  customer.NormalizedEmail(),
		CustomerKey:    customer.Key(),
		AmountCents:    amount,
	}
}

func (s *discountServiceImpl) Release(ctx context.Context, checkoutRef string) (bool, error) {
	if checkoutRef == "" {
		return false, nil
	}

	released := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		usage, err := s.repo.DeleteClaim(ctx, tx, checkoutRef)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete discount claim: %w", err)
		}

		if err := s.repo.DecrementUsage(ctx, tx, usage.DiscountCodeID); err != nil {
			return fmt.Errorf("decrement discount usage: %w", err)
		}
		released = true
		return nil
	})

	return released, err
}

// RecordUsage does not re-validate the code. The order has been paid with
// the discount applied, so the total limit is not enforced here.
func (s *discountServiceImpl) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.DiscountCodeID == "" || rec.OrderID == "" {
		return fmt.Errorf("record discount usage: missing code or order id")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.repo.FindUsageByOrderID(ctx, tx, rec.OrderID)
		if err == nil {
			return ErrUsageAlreadyRecorded
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("find discount usage: %w", err)
		}

		if rec.CheckoutRef != "" {
			bound, err := s.repo.BindClaim(ctx, tx, rec.DiscountCodeID, rec.CheckoutRef, rec.OrderID, rec.Amount)
			if err != nil {
				return fmt.Errorf("bind discount claim: %w", err)
			}
			if bound {
				return nil
			}
		}

		if _, err := s.findDiscount(ctx, tx, rec.DiscountCodeID); err != nil {
			return err
		}

		usage := newUsage(rec.DiscountCodeID, rec.Customer, rec.Amount, rec.OrderID, rec.CheckoutRef)
		if err := s.repo.InsertUsage(ctx, tx, usage); err != nil {
			if errors.Is(err, repository.ErrDuplicateUsage) {
				return ErrUsageAlreadyRecorded
			}
			return fmt.Errorf("insert discount usage: %w", err)
		}

		if _, err := s.repo.IncrementUsage(ctx, tx, rec.DiscountCodeID, false); err != nil {
			return fmt.Errorf("increment discount usage: %w", err)
		}
		return nil
	})
}

func (s *discountServiceImpl) Create(ctx context.Context, discount *model.DiscountCode) error {
	if err := validateDefinition(discount); err != nil {
		return err
	}
	if discount.ID == "" {
		discount.ID = uuid.NewString()
	}

	if err := s.repo.Create(ctx, discount); err != nil {
		return fmt.Errorf("store discount code: %w", err)
	}
	return nil
}

func validateDefinition(dc *model.DiscountCode) error {
	if repository.NormalizeDiscountCode(dc.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidDiscount)
	}

	switch dc.Type {
	case model.DiscountTypePercentage:
		if !dc.Value.IsPositive() || dc.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", ErrInvalidDiscount)
		}
	case model.DiscountTypeFixed:
		if !dc.Value.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive", ErrInvalidDiscount)
		}
		if dc.MaxDiscountCents != nil {
			return fmt.Errorf("%w: max discount applies to percentage codes only", ErrInvalidDiscount)
		}
	case model.DiscountTypeFreeShipping:
		if dc.MaxDiscountCents != nil {
			return fmt.Errorf("%w: max discount applies to percentage codes only", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, dc.Type)
	}

	if dc.MaxUses != nil && *dc.MaxUses <= 0 {
		return fmt.Errorf("%w: max uses must be positive", ErrInvalidDiscount)
	}
	if dc.MaxUsesPerCustomer != nil && *dc.MaxUsesPerCustomer <= 0 {
		return fmt.Errorf("%w: max uses per customer must be positive", ErrInvalidDiscount)
	}
	if dc.StartsAt != nil && dc.ExpiresAt != nil && !dc.ExpiresAt.After(*dc.StartsAt) {
		return fmt.Errorf("%w: expiry must be after start", ErrInvalidDiscount)
	}

	return nil
}

func (s *discountServiceImpl) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDiscountNotFound
	}
	return err
}

func (s *discountServiceImpl) findDiscount(ctx context.Context, tx *gorm.DB, id string) (*model.DiscountCode, error) {
	dc, err := s.repo.FindByID(ctx, tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDiscountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find discount code: %w", err)
	}
	return dc, nil
}
