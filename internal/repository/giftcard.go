package repository

import (
	"context"
	"errors"
	"time"

	"checkout-reconciler/internal/model"

	"gorm.io/gorm"
)

var ErrDuplicateGiftCardCode = errors.New("gift card code already exists")

// GiftCardRepository exposes balance changes only as conditional single
// statement updates, so concurrent writers cannot overspend a card.
type GiftCardRepository interface {
	Create(ctx context.Context, card *model.GiftCard) error
	FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.GiftCard, error)
	FindByCode(ctx context.Context, code string) (*model.GiftCard, error)
	ListIDs(ctx context.Context) ([]string, error)

	// DebitBalance subtracts amount when the card is active and holds at
	// least amount.
	DebitBalance(ctx context.Context, tx *gorm.DB, id string, amount model.Cents) (bool, error)
	CreditBalance(ctx context.Context, tx *gorm.DB, id string, amount model.Cents) error
	// SwapBalance sets the balance only if it still equals observed.
	SwapBalance(ctx context.Context, tx *gorm.DB, id string, observed, next model.Cents) (bool, error)
	// TransitionStatus moves the card to `to` when its status is one of from.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from []model.GiftCardStatus, to model.GiftCardStatus) (bool, error)

	AppendTransaction(ctx context.Context, tx *gorm.DB, entry *model.GiftCardTransaction) error
	ListTransactions(ctx context.Context, giftCardID string) ([]*model.GiftCardTransaction, error)
	// Lock takes the card's row lock for the rest of the transaction.
	Lock(ctx context.Context, tx *gorm.DB, id string) error
	// SumForOrder totals the signed ledger amounts an order left on a card.
	SumForOrder(ctx context.Context, tx *gorm.DB, giftCardID, orderID string) (model.Cents, error)
}

type giftCardRepoImpl struct {
	db *gorm.DB
}

func NewGiftCardRepository(db *gorm.DB) GiftCardRepository {
	return &giftCardRepoImpl{
		db: db,
	}
}

func (r *giftCardRepoImpl) Create(ctx context.Context, card *model.GiftCard) error {
	err := r.db.WithContext(ctx).Create(card).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateGiftCardCode
	}
	return err
}

func (r *giftCardRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, id string) (*model.GiftCard, error) {
	var card model.GiftCard
	err := conn(r.db, tx).WithContext(ctx).
		Where("id = ?", id).
		First(&card).Error
	if err != nil {
		return nil, err
	}

	return &card, nil
}

func (r *giftCardRepoImpl) FindByCode(ctx context.Context, code string) (*model.GiftCard, error) {
	var card model.GiftCard
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&card).Error
	if err != nil {
		return nil, err
	}

	return &card, nil
}

func (r *giftCardRepoImpl) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.GiftCard{}).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *giftCardRepoImpl) DebitBalance(ctx context.Context, tx *gorm.DB, id string, amount model.Cents) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("id = ? AND status = ? AND current_balance_cents >= ?", id, model.GiftCardStatusActive, amount).
		Updates(map[string]interface{}{
			"current_balance_cents": gorm.Expr("current_balance_cents - ?", amount),
			"updated_at":            time.Now(),
		})

	return result.RowsAffected > 0, result.Error
}

func (r *giftCardRepoImpl) CreditBalance(ctx context.Context, tx *gorm.DB, id string, amount model.Cents) error {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_balance_cents": gorm.Expr("current_balance_cents + ?", amount),
			"updated_at":            time.Now(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *giftCardRepoImpl) SwapBalance(ctx context.Context, tx *gorm.DB, id string, observed, next model.Cents) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("id = ? AND current_balance_cents = ?", id, observed).
		Updates(map[string]interface{}{
			"current_balance_cents": next,
			"updated_at":            time.Now(),
		})

	return result.RowsAffected > 0, result.Error
}

func (r *giftCardRepoImpl) TransitionStatus(ctx context.Context, tx *gorm.DB, id string, from []model.GiftCardStatus, to model.GiftCardStatus) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})

	return result.RowsAffected > 0, result.Error
}

func (r *giftCardRepoImpl) AppendTransaction(ctx context.Context, tx *gorm.DB, entry *model.GiftCardTransaction) error {
	if entry.Actor == "" {
		entry.Actor = model.ActorSystem
	}
	return conn(r.db, tx).WithContext(ctx).Create(entry).Error
}

func (r *giftCardRepoImpl) ListTransactions(ctx context.Context, giftCardID string) ([]*model.GiftCardTransaction, error) {
	var entries []*model.GiftCardTransaction
	err := r.db.WithContext(ctx).
		Where("gift_card_id = ?", giftCardID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *giftCardRepoImpl) SumForOrder(ctx context.Context, tx *gorm.DB, giftCardID, orderID string) (model.Cents, error) {
	var sum int64
	err := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCardTransaction{}).
		Where("gift_card_id = ? AND order_id = ?", giftCardID, orderID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, err
	}

	return model.Cents(sum), nil
}

func (r *giftCardRepoImpl) Lock(ctx context.Context, tx *gorm.DB, id string) error {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.GiftCard{}).
		Where("id = ?", id).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}
