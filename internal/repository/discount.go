package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkout-reconciler/internal/model"

	"gorm.io/gorm"
)

var (
	ErrDuplicateUsage   = errors.New("discount usage already recorded")
	ErrDiscountCodeUsed = errors.New("discount code has been used")
	ErrDuplicateCode    = errors.New("discount code already exists")
)

type DiscountRepository interface {
	Create(ctx context.Context, code *model.DiscountCode) error
	FindByCode(ctx context.Context, code string) (*model.DiscountCode, error)
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.DiscountCode, error)
	// Delete refuses codes that have been used.
	Delete(ctx context.Context, id string) error

	CountCustomerUsages(ctx context.Context, tx *gorm.DB, codeID string, customer model.CustomerRef) (int64, error)
	// TakenSlots lists the per-customer slots held for a code, lowest first.
	TakenSlots(ctx context.Context, tx *gorm.DB, codeID, customerKey string) ([]int, error)
	FindUsageByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.DiscountUsage, error)
	FindClaim(ctx context.Context, tx *gorm.DB, codeID, checkoutRef string) (*model.DiscountUsage, error)
	// InsertUsage fails with ErrDuplicateUsage when the order, the checkout
	// ref or the customer's slot is already taken.
	InsertUsage(ctx context.Context, tx *gorm.DB, usage *model.DiscountUsage) error
	// BindClaim attaches an order to an unbound claim.
	BindClaim(ctx context.Context, tx *gorm.DB, codeID, checkoutRef, orderID string, amount model.Cents) (bool, error)
	DeleteClaim(ctx context.Context, tx *gorm.DB, checkoutRef string) (*model.DiscountUsage, error)

	// IncrementUsage bumps used_count in a single statement. With enforceLimit
	// it only does so while used_count is below max_uses, and reports false
	// when the limit was already reached.
	IncrementUsage(ctx context.Context, tx *gorm.DB, codeID string, enforceLimit bool) (bool, error)
	DecrementUsage(ctx context.Context, tx *gorm.DB, codeID string) error
}

type discountRepoImpl struct {
	db *gorm.DB
}

func NewDiscountRepository(db *gorm.DB) DiscountRepository {
	return &discountRepoImpl{
		db: db,
	}
}

func NormalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *discountRepoImpl) Create(ctx context.Context, code *model.DiscountCode) error {
	code.Code = NormalizeDiscountCode(code.Code)
	err := r.db.WithContext(ctx).Create(code).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateCode
	}
	return err
}

func (r *discountRepoImpl) FindByCode(ctx context.Context, code string) (*model.DiscountCode, error) {
	var dc model.DiscountCode
	err := r.db.WithContext(ctx).
		Where("code = ?", NormalizeDiscountCode(code)).
		First(&dc).Error

	if err != nil {
		return nil, err
	}

	return &dc, nil
}

func (r *discountRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.DiscountCode, error) {
	var dc model.DiscountCode
	err := conn(r.db, tx).WithContext(ctx).
		Where("id = ?", id).
		First(&dc).Error

	if err != nil {
		return nil, err
	}

	return &dc, nil
}

func (r *discountRepoImpl) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var usages int64
		if err := tx.Model(&model.DiscountUsage{}).Where("discount_code_id = ?", id).Count(&usages).Error; err != nil {
			return err
		}
		if usages > 0 {
			return ErrDiscountCodeUsed
		}

		result := tx.Where("id = ? AND used_count = 0", id).Delete(&model.DiscountCode{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if _, err := r.FindByID(ctx, tx, id); err != nil {
				return err
			}
			return ErrDiscountCodeUsed
		}
		return nil
	})
}

func (r *discountRepoImpl) CountCustomerUsages(ctx context.Context, tx *gorm.DB, codeID string, customer model.CustomerRef) (int64, error) {
	q := conn(r.db, tx).WithContext(ctx).Model(&model.DiscountUsage{}).
		Where("discount_code_id = ?", codeID)

	if customer.IsGuest() {
		q = q.Where("customer_email = ?", customer.NormalizedEmail())
	} else {
		q = q.Where("customer_id = ?", customer.ID)
	}

	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (r *discountRepoImpl) TakenSlots(ctx context.Context, tx *gorm.DB, codeID, customerKey string) ([]int, error) {
	var slots []int
	err := conn(r.db, tx).WithContext(ctx).Model(&model.DiscountUsage{}).
		Where("discount_code_id = ? AND customer_key = ? AND slot IS NOT NULL", codeID, customerKey).
		Order("slot").
		Pluck("slot", &slots).Error
	if err != nil {
		return nil, err
	}

	return slots, nil
}

func (r *discountRepoImpl) FindUsageByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.DiscountUsage, error) {
	var usage model.DiscountUsage
	err := conn(r.db, tx).WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *discountRepoImpl) FindClaim(ctx context.Context, tx *gorm.DB, codeID, checkoutRef string) (*model.DiscountUsage, error) {
	var usage model.DiscountUsage
	err := conn(r.db, tx).WithContext(ctx).
		Where("discount_code_id = ? AND checkout_ref = ?", codeID, checkoutRef).
		First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *discountRepoImpl) InsertUsage(ctx context.Context, tx *gorm.DB, usage *model.DiscountUsage) error {
	err := conn(r.db, tx).WithContext(ctx).Create(usage).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateUsage
	}
	return err
}

func (r *discountRepoImpl) BindClaim(ctx context.Context, tx *gorm.DB, codeID, checkoutRef, orderID string, amount model.Cents) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.DiscountUsage{}).
		Where("discount_code_id = ? AND checkout_ref = ? AND order_id IS NULL", codeID, checkoutRef).
		Updates(map[string]interface{}{
			"order_id":     orderID,
			"amount_cents": amount,
		})

	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return false, ErrDuplicateUsage
	}
	return result.RowsAffected > 0, result.Error
}

func (r *discountRepoImpl) DeleteClaim(ctx context.Context, tx *gorm.DB, checkoutRef string) (*model.DiscountUsage, error) {
	db := conn(r.db, tx).WithContext(ctx)

	var usage model.DiscountUsage
	err := db.Where("checkout_ref = ? AND order_id IS NULL", checkoutRef).First(&usage).Error
	if err != nil {
		return nil, err
	}

	result := db.Where("id = ? AND order_id IS NULL", usage.ID).Delete(&model.DiscountUsage{})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return &usage, nil
}

func (r *discountRepoImpl) IncrementUsage(ctx context.Context, tx *gorm.DB, codeID string, enforceLimit bool) (bool, error) {
	q := conn(r.db, tx).WithContext(ctx).Model(&model.DiscountCode{}).
		Where("id = ?", codeID)
	if enforceLimit {
		q = q.Where("max_uses IS NULL OR used_count < max_uses")
	}

	result := q.Updates(map[string]interface{}{
		"used_count": gorm.Expr("used_count + ?", 1),
		"updated_at": time.Now(),
	})

	return result.RowsAffected > 0, result.Error
}

func (r *discountRepoImpl) DecrementUsage(ctx context.Context, tx *gorm.DB, codeID string) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.DiscountCode{}).
		Where("id = ? AND used_count > 0", codeID).
		Updates(map[string]interface{}{
			"used_count": gorm.Expr("used_count - ?", 1),
			"updated_at": time.Now(),
		}).Error
}
