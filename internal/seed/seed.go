// Package seed loads catalog, discount and gift card fixtures from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"checkout-reconciler/internal/dto"
	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"
	"checkout-reconciler/internal/service"

	"gopkg.in/yaml.v3"
)

type Product struct {
	Sku      string `yaml:"sku"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Currency string `yaml:"currency"`
	Stock    *int   `yaml:"stock"`
	Active   *bool  `yaml:"active"`
}

type GiftCard struct {
	Amount         string     `yaml:"amount"`
	Currency       string     `yaml:"currency"`
	Activate       bool       `yaml:"activate"`
	ExpiresAt      *time.Time `yaml:"expires_at"`
	RecipientName  string     `yaml:"recipient_name"`
	RecipientEmail string     `yaml:"recipient_email"`
}

type File struct {
	Products  []Product                   `yaml:"products"`
	Discounts []dto.CreateDiscountRequest `yaml:"discounts"`
	GiftCards []GiftCard                  `yaml:"gift_cards"`
}

// Result reports what Apply changed. Discount codes that already exist are
// skipped so a file can be applied repeatedly.
type Result struct {
	Products         int
	Discounts        int
	DiscountsSkipped int
	GiftCards        []*model.GiftCard
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}

	for i, p := range f.Products {
		if p.Sku == "" || p.Name == "" {
			return nil, fmt.Errorf("product %d: sku and name are required", i)
		}
	}

	return &f, nil
}

func Apply(
	ctx context.Context,
	f *File,
	products repository.ProductRepository,
	discounts service.DiscountService,
	giftCards service.GiftCardService,
) (*Result, error) {
	res := &Result{}

	catalog := make([]*model.Product, 0, len(f.Products))
	for _, p := range f.Products {
		price, err := model.ParseCents(p.Price)
		if err != nil {
			return nil, fmt.Errorf("product %s: %w", p.Sku, err)
		}
		currency := p.Currency
		if currency == "" {
			currency = "USD"
		}
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		catalog = append(catalog, &model.Product{
			ID:         p.Sku,
			Name:       p.Name,
			PriceCents: price,
			Currency:   currency,
			Stock:      p.Stock,
			Active:     active,
		})
	}
	if err := products.Upsert(ctx, catalog); err != nil {
		return nil, fmt.Errorf("upsert products: %w", err)
	}
	res.Products = len(catalog)

	for i := range f.Discounts {
		dc, err := f.Discounts[i].ToDiscountCode()
		if err != nil {
			return nil, fmt.Errorf("discount %s: %w", f.Discounts[i].Code, err)
		}
		err = discounts.Create(ctx, dc)
		if errors.Is(err, repository.ErrDuplicateCode) {
			res.DiscountsSkipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("discount %s: %w", f.Discounts[i].Code, err)
		}
		res.Discounts++
	}

	for i, g := range f.GiftCards {
		amount, err := model.ParseCents(g.Amount)
		if err != nil {
			return nil, fmt.Errorf("gift card %d: %w", i, err)
		}
		card, err := giftCards.Issue(ctx, service.IssueGiftCardRequest{
			InitialBalance: amount,
			Currency:       g.Currency,
			ExpiresAt:      g.ExpiresAt,
			Activate:       g.Activate,
			RecipientName:  g.RecipientName,
			RecipientEmail: g.RecipientEmail,
		})
		if err != nil {
			return nil, fmt.Errorf("gift card %d: %w", i, err)
		}
		res.GiftCards = append(res.GiftCards, card)
	}

	return res, nil
}
