package service

import (
	"context"
	"fmt"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
)

type InventoryService interface {
	// ListStock returns tracked products. With lowStock > 0 only products
	// at or below that level are returned.
	ListStock(ctx context.Context, lowStock int) ([]*model.Product, error)
}

type inventoryServiceImpl struct {
	inventoryRepo repository.InventoryRepository
}

func NewInventoryService(
	inventoryRepo repository.InventoryRepository,
) InventoryService {
	return &inventoryServiceImpl{
		inventoryRepo: inventoryRepo,
	}
}

func (s *inventoryServiceImpl) ListStock(ctx context.Context, lowStock int) ([]*model.Product, error) {
	products, err := s.inventoryRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	if lowStock <= 0 {
		return products, nil
	}

	low := make([]*model.Product, 0, len(products))
	for _, p := range products {
		if *p.Stock <= lowStock {
			low = append(low, p)
		}
	}
	return low, nil
}
