package repository

import (
	"context"
	"errors"
	"time"

	"checkout-reconciler/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDuplicateSession = errors.New("order already exists for payment session")

type OrderRepository interface {
	// Create inserts the order row. A second order for the same payment
	// session fails with ErrDuplicateSession, enforced by a unique index.
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error
	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.Order, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Order, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID, paymentIntentID string, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string, at time.Time) (bool, error)
	AppendEvent(ctx context.Context, tx *gorm.DB, event *model.OrderEvent) error
	FindEvent(ctx context.Context, eventID uint) (*model.OrderEvent, error)
	ListEvents(ctx context.Context, orderID string) ([]*model.OrderEvent, error)
	ListEventsByType(ctx context.Context, types []model.OrderEventType) ([]*model.OrderEvent, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	err := conn(r.db, tx).WithContext(ctx).Omit(clause.Associations).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateSession
	}
	return err
}

func (r *orderRepoImpl) CreateOrderItems(ctx context.Context, tx *gorm.DB, items []*model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return conn(r.db, tx).WithContext(ctx).Create(&items).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	return r.findOne(ctx, "id = ?", orderID)
}

func (r *orderRepoImpl) FindBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	return r.findOne(ctx, "payment_session_id = ?", sessionID)
}

func (r *orderRepoImpl) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*model.Order, error) {
	return r.findOne(ctx, "payment_intent_id = ?", paymentIntentID)
}

func (r *orderRepoImpl) findOne(ctx context.Context, query string, arg any) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where(query, arg).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, orderID, paymentIntentID string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     model.OrderStatusPaid,
		"paid_at":    at,
		"updated_at": time.Now(),
	}
	if paymentIntentID != "" {
		updates["payment_intent_id"] = paymentIntentID
	}

	result := conn(r.db, tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusPending).
		Updates(updates)

	return result.RowsAffected > 0, result.Error
}

func (r *orderRepoImpl) MarkRefunded(ctx context.Context, tx *gorm.DB, orderID string, at time.Time) (bool, error) {
	result := conn(r.db, tx).WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", orderID, model.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":      model.OrderStatusRefunded,
			"refunded_at": at,
			"updated_at":  time.Now(),
		})

	return result.RowsAffected > 0, result.Error
}

func (r *orderRepoImpl) AppendEvent(ctx context.Context, tx *gorm.DB, event *model.OrderEvent) error {
	if event.Actor == "" {
		event.Actor = model.ActorSystem
	}
	return conn(r.db, tx).WithContext(ctx).Create(event).Error
}

func (r *orderRepoImpl) FindEvent(ctx context.Context, eventID uint) (*model.OrderEvent, error) {
	var event model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("id = ?", eventID).
		First(&event).Error

	if err != nil {
		return nil, err
	}

	return &event, nil
}

func (r *orderRepoImpl) ListEvents(ctx context.Context, orderID string) ([]*model.OrderEvent, error) {
	var events []*model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id").
		Find(&events).Error

	if err != nil {
		return nil, err
	}

	return events, nil
}

func (r *orderRepoImpl) ListEventsByType(ctx context.Context, types []model.OrderEventType) ([]*model.OrderEvent, error) {
	var events []*model.OrderEvent
	err := r.db.WithContext(ctx).
		Where("type IN ?", types).
		Order("id").
		Find(&events).Error

	if err != nil {
		return nil, err
	}

	return events, nil
}
