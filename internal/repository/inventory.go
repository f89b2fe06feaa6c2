package repository

import (
	"context"
	"time"

	"checkout-reconciler/internal/model"

	"gorm.io/gorm"
)

type InventoryRepository interface {
	// Decrement lowers tracked stock, flooring at zero. Products without
	// tracked stock are left untouched.
	Decrement(ctx context.Context, tx *gorm.DB, productID string, quantity int32) error
	Get(ctx context.Context) ([]*model.Product, error)
}

type inventoryRepoImpl struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepoImpl{
		db: db,
	}
}

func (r *inventoryRepoImpl) Decrement(ctx context.Context, tx *gorm.DB, productID string, quantity int32) error {
	return conn(r.db, tx).WithContext(ctx).Model(&model.Product{}).
		Where("id = ? AND stock IS NOT NULL", productID).
		Updates(map[string]interface{}{
			"stock":      gorm.Expr("CASE WHEN stock >= ? THEN stock - ? ELSE 0 END", quantity, quantity),
			"updated_at": time.Now(),
		}).Error
}

func (r *inventoryRepoImpl) Get(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product

	err := r.db.WithContext(ctx).Where("stock IS NOT NULL").Order("id").Find(&products).Error
	if err != nil {
		return nil, err
	}

	return products, nil
}
