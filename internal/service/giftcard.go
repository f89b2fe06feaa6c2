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
	"gorm.io/gorm"
)

var (
	ErrGiftCardNotFound   = errors.New("gift card not found")
	ErrGiftCardNotActive  = errors.New("gift card is not active")
	ErrGiftCardEmpty      = errors.New("gift card has no remaining balance")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrAdjustmentNoEffect = errors.New("adjustment would not change the balance")
	ErrBalanceContention  = errors.New("gift card balance kept changing, giving up")
)

const (
	ReasonGiftCardNotFound = "Gift card not found"
	ReasonGiftCardPending  = "This gift card has not been activated yet"
	ReasonGiftCardDisabled = "This gift card has been disabled"
	ReasonGiftCardDepleted = "This gift card has been fully redeemed"
	ReasonGiftCardExpired  = "This gift card has expired"
	ReasonGiftCardNoFunds  = "This gift card has no remaining balance"
)

const (
	// balanceAttempts bounds the optimistic retry loops on a contended card.
	balanceAttempts = 5
	// codeAttempts bounds retries when a generated gift card code collides.
	codeAttempts = 5
)

var errBalanceMoved = errors.New("balance moved")

type GiftCardValidation struct {
	Valid    bool
	Reason   string
	GiftCard *model.GiftCard
}

type Redemption struct {
	GiftCardID     string
	Requested      model.Cents
	AmountRedeemed model.Cents
	NewBalance     model.Cents
	// Shortfall is what the card could not cover.
	Shortfall model.Cents
	Entry     *model.GiftCardTransaction
}

type IssueGiftCardRequest struct {
	InitialBalance model.Cents
	Currency       string
	ExpiresAt      *time.Time
	Activate       bool
	RecipientName  string
	RecipientEmail string
	SenderName     string
	Message        string
	PurchaserEmail string
}

type LedgerMismatch struct {
	TransactionID uint        `json:"transaction_id"`
	Expected      model.Cents `json:"expected_balance_cents"`
	Recorded      model.Cents `json:"recorded_balance_cents"`
}

// Reconciliation compares a card's stored balance against its ledger.
type Reconciliation struct {
	GiftCardID      string           `json:"gift_card_id"`
	InitialBalance  model.Cents      `json:"initial_balance_cents"`
	CurrentBalance  model.Cents      `json:"current_balance_cents"`
	LedgerSum       model.Cents      `json:"ledger_sum_cents"`
	ExpectedBalance model.Cents      `json:"expected_balance_cents"`
	Entries         int              `json:"entries"`
	Consistent      bool             `json:"consistent"`
	Mismatches      []LedgerMismatch `json:"mismatches,omitempty"`
}

type GiftCardService interface {
	Validate(ctx context.Context, code string) (*GiftCardValidation, error)
	// Redeem takes min(requested, balance) from an active card.
	Redeem(ctx context.Context, giftCardID string, requested model.Cents, orderID string, customer model.CustomerRef) (*Redemption, error)
	Refund(ctx context.Context, giftCardID string, amount model.Cents, orderID, reason string) (*model.GiftCardTransaction, error)
	// RefundOrder credits back whatever the order still holds from the card.
	// It returns nil when nothing is outstanding, so it is safe to repeat.
	RefundOrder(ctx context.Context, giftCardID, orderID, reason string) (*model.GiftCardTransaction, error)
	// Adjust applies a signed correction, clamped so the balance stays >= 0.
	Adjust(ctx context.Context, giftCardID string, amount model.Cents, reason, actor string) (*model.GiftCardTransaction, error)
	Issue(ctx context.Context, req IssueGiftCardRequest) (*model.GiftCard, error)
	Activate(ctx context.Context, giftCardID string) (*model.GiftCard, error)
	TopUp(ctx context.Context, giftCardID string, amount model.Cents, orderID, actor string) (*model.GiftCardTransaction, error)
	Reconcile(ctx context.Context, giftCardID string) (*Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]*Reconciliation, error)
	Get(ctx context.Context, giftCardID string) (*model.GiftCard, error)
}

type giftCardServiceImpl struct {
	db     *gorm.DB
	repo   repository.GiftCardRepository
	format GiftCodeFormat
	now    func() time.Time
}

func NewGiftCardService(db *gorm.DB, repo repository.GiftCardRepository, format GiftCodeFormat) GiftCardService {
	return &giftCardServiceImpl{
		db:     db,
		repo:   repo,
		format: format,
		now:    time.Now,
	}
}

func (s *giftCardServiceImpl) Validate(ctx context.Context, code string) (*GiftCardValidation, error) {
	normalized, ok := s.format.Normalize(code)
	if !ok {
		return &GiftCardValidation{Reason: ReasonGiftCardNotFound}, nil
	}

	card, err := s.repo.FindByCode(ctx, normalized)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &GiftCardValidation{Reason: ReasonGiftCardNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find gift card by code: %w", err)
	}

	switch card.Status {
	case model.GiftCardStatusPending:
		return &GiftCardValidation{Reason: ReasonGiftCardPending}, nil
	case model.GiftCardStatusDisabled:
		return &GiftCardValidation{Reason: ReasonGiftCardDisabled}, nil
	case model.GiftCardStatusDepleted:
		return &GiftCardValidation{Reason: ReasonGiftCardDepleted}, nil
	case model.GiftCardStatusExpired:
		return &GiftCardValidation{Reason: ReasonGiftCardExpired}, nil
	}

	if s.isPastExpiry(card) {
		_, err := s.repo.TransitionStatus(ctx, nil, card.ID,
			[]model.GiftCardStatus{model.GiftCardStatusActive}, model.GiftCardStatusExpired)
		if err != nil {
			return nil, fmt.Errorf("expire gift card: %w", err)
		}
		return &GiftCardValidation{Reason: ReasonGiftCardExpired}, nil
	}

	if card.CurrentBalanceCents <= 0 {
		return &GiftCardValidation{Reason: ReasonGiftCardNoFunds}, nil
	}

	return &GiftCardValidation{Valid: true, GiftCard: card}, nil
}

func (s *giftCardServiceImpl) isPastExpiry(card *model.GiftCard) bool {
	return card.ExpiresAt != nil && s.now().After(*card.ExpiresAt)
}

func (s *giftCardServiceImpl) Redeem(ctx context.Context, giftCardID string, requested model.Cents, orderID string, customer model.CustomerRef) (*Redemption, error) {
	if requested <= 0 {
		return nil, ErrInvalidAmount
	}

	for attempt := 0; attempt < balanceAttempts; attempt++ {
		var redemption *Redemption

		// One transaction per attempt so each retry reads the latest balance.
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			card, err := s.findCard(ctx, tx, giftCardID)
			if err != nil {
				return err
			}
			if card.Status != model.GiftCardStatusActive || s.isPastExpiry(card) {
				return ErrGiftCardNotActive
			}

			amount := model.MinCents(requested, card.CurrentBalanceCents)
			if amount <= 0 {
				return ErrGiftCardEmpty
			}

			debited, err := s.repo.DebitBalance(ctx, tx, giftCardID, amount)
			if err != nil {
				return fmt.Errorf("debit gift card: %w", err)
			}
			if !debited {
				return errBalanceMoved
			}

			updated, err := s.findCard(ctx, tx, giftCardID)
			if err != nil {
				return err
			}
			if updated.CurrentBalanceCents == 0 {
				_, err := s.repo.TransitionStatus(ctx, tx, giftCardID,
					[]model.GiftCardStatus{model.GiftCardStatusActive}, model.GiftCardStatusDepleted)
				if err != nil {
					return fmt.Errorf("mark gift card depleted: %w", err)
				}
			}

			entry := &model.GiftCardTransaction{
				GiftCardID:        giftCardID,
				Type:              model.GiftCardTxRedemption,
				AmountCents:       -amount,
				BalanceAfterCents: updated.CurrentBalanceCents,
				OrderID:           optionalString(orderID),
				Description:       redemptionDescription(orderID, customer),
			}
			if err := s.repo.AppendTransaction(ctx, tx, entry); err != nil {
				return fmt.Errorf("append redemption: %w", err)
			}

			redemption = &Redemption{
				GiftCardID:     giftCardID,
				Requested:      requested,
				AmountRedeemed: amount,
				NewBalance:     updated.CurrentBalanceCents,
				Shortfall:      requested - amount,
				Entry:          entry,
			}
			return nil
		})

		if errors.Is(err, errBalanceMoved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return redemption, nil
	}

	return nil, ErrBalanceContention
}

func redemptionDescription(orderID string, customer model.CustomerRef) string {
	desc := "Redeemed"
	if orderID != "" {
		desc += " on order " + orderID
	}
	if who := customer.String(); who != "" {
		desc += " by " + who
	}
	return desc
}

func (s *giftCardServiceImpl) Refund(ctx context.Context, giftCardID string, amount model.Cents, orderID, reason string) (*model.GiftCardTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		reason = "Refund"
		if orderID != "" {
			reason += " for order " + orderID
		}
	}

	return s.credit(ctx, giftCardID, amount, model.GiftCardTxRefund, orderID, reason, model.ActorSystem)
}

func (s *giftCardServiceImpl) RefundOrder(ctx context.Context, giftCardID, orderID, reason string) (*model.GiftCardTransaction, error) {
	if orderID == "" {
		return nil, fmt.Errorf("refund gift card: missing order id")
	}
	if reason == "" {
		reason = "Refund for order " + orderID
	}

	var entry *model.GiftCardTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := s.repo.Lock(ctx, tx, giftCardID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrGiftCardNotFound
		}
		if err != nil {
			return fmt.Errorf("lock gift card: %w", err)
		}

		net, err := s.repo.SumForOrder(ctx, tx, giftCardID, orderID)
		if err != nil {
			return fmt.Errorf("sum order ledger: %w", err)
		}
		if net >= 0 {
			return nil
		}

		entry, err = s.creditTx(ctx, tx, giftCardID, -net, model.GiftCardTxRefund, orderID, reason, model.ActorSystem)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *giftCardServiceImpl) TopUp(ctx context.Context, giftCardID string, amount model.Cents, orderID, actor string) (*model.GiftCardTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	card, err := s.findCard(ctx, nil, giftCardID)
	if err != nil {
		return nil, err
	}
	if card.Status != model.GiftCardStatusActive && card.Status != model.GiftCardStatusDepleted {
		return nil, ErrGiftCardNotActive
	}

	return s.credit(ctx, giftCardID, amount, model.GiftCardTxPurchase, orderID, "Balance top-up", actor)
}

// credit adds amount to the card and reactivates it if it was depleted.
func (s *giftCardServiceImpl) credit(ctx context.Context, giftCardID string, amount model.Cents, txType model.GiftCardTransactionType, orderID, description, actor string) (*model.GiftCardTransaction, error) {
	var entry *model.GiftCardTransaction

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.creditTx(ctx, tx, giftCardID, amount, txType, orderID, description, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (s *giftCardServiceImpl) creditTx(ctx context.Context, tx *gorm.DB, giftCardID string, amount model.Cents, txType model.GiftCardTransactionType, orderID, description, actor string) (*model.GiftCardTransaction, error) {
	err := s.repo.CreditBalance(ctx, tx, giftCardID, amount)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGiftCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credit gift card: %w", err)
	}

	card, err := s.findCard(ctx, tx, giftCardID)
	if err != nil {
		return nil, err
	}
	if card.CurrentBalanceCents > 0 {
		_, err := s.repo.TransitionStatus(ctx, tx, giftCardID,
			[]model.GiftCardStatus{model.GiftCardStatusDepleted}, model.GiftCardStatusActive)
		if err != nil {
			return nil, fmt.Errorf("reactivate gift card: %w", err)
		}
	}

	entry := &model.GiftCardTransaction{
		GiftCardID:        giftCardID,
		Type:              txType,
		AmountCents:       amount,
		BalanceAfterCents: card.CurrentBalanceCents,
		OrderID:           optionalString(orderID),
		Description:       description,
		Actor:             actor,
	}
	if err := s.repo.AppendTransaction(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append %s: %w", txType, err)
	}

	return entry, nil
}

func (s *giftCardServiceImpl) Adjust(ctx context.Context, giftCardID string, amount model.Cents, reason, actor string) (*model.GiftCardTransaction, error) {
	if amount == 0 {
		return nil, ErrAdjustmentNoEffect
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Manual adjustment"
	}

	for attempt := 0; attempt < balanceAttempts; attempt++ {
		var entry *model.GiftCardTransaction

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			card, err := s.findCard(ctx, tx, giftCardID)
			if err != nil {
				return err
			}

			delta := amount
			if card.CurrentBalanceCents+delta < 0 {
				delta = -card.CurrentBalanceCents
			}
			if delta == 0 {
				return ErrAdjustmentNoEffect
			}
			next := card.CurrentBalanceCents + delta

			swapped, err := s.repo.SwapBalance(ctx, tx, giftCardID, card.CurrentBalanceCents, next)
			if err != nil {
				return fmt.Errorf("adjust gift card balance: %w", err)
			}
			if !swapped {
				return errBalanceMoved
			}

			if next == 0 {
				_, err = s.repo.TransitionStatus(ctx, tx, giftCardID,
					[]model.GiftCardStatus{model.GiftCardStatusActive}, model.GiftCardStatusDepleted)
			} else {
				_, err = s.repo.TransitionStatus(ctx, tx, giftCardID,
					[]model.GiftCardStatus{model.GiftCardStatusDepleted}, model.GiftCardStatusActive)
			}
			if err != nil {
				return fmt.Errorf("update gift card status: %w", err)
			}

			entry = &model.GiftCardTransaction{
				GiftCardID:        giftCardID,
				Type:              model.GiftCardTxAdjustment,
				AmountCents:       delta,
				BalanceAfterCents: next,
				Description:       reason,
				Actor:             actor,
			}
			if err := s.repo.AppendTransaction(ctx, tx, entry); err != nil {
				return fmt.Errorf("append adjustment: %w", err)
			}
			return nil
		})

		if errors.Is(err, errBalanceMoved) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}

	return nil, ErrBalanceContention
}

func (s *giftCardServiceImpl) Issue(ctx context.Context, req IssueGiftCardRequest) (*model.GiftCard, error) {
	if req.InitialBalance <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}
	status := model.GiftCardStatusPending
	if req.Activate {
		status = model.GiftCardStatusActive
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := s.format.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate gift card code: %w", err)
		}

		card := &model.GiftCard{
			ID:                  uuid.NewString(),
			Code:                code,
			InitialBalanceCents: req.InitialBalance,
			CurrentBalanceCents: req.InitialBalance,
			Currency:            currency,
			Status:              status,
			ExpiresAt:           req.ExpiresAt,
			RecipientName:       req.RecipientName,
			RecipientEmail:      strings.ToLower(strings.TrimSpace(req.RecipientEmail)),
			SenderName:          req.SenderName,
			Message:             req.Message,
			PurchaserEmail:      strings.ToLower(strings.TrimSpace(req.PurchaserEmail)),
		}

		err = s.repo.Create(ctx, card)
		if errors.Is(err, repository.ErrDuplicateGiftCardCode) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store gift card: %w", err)
		}
		return card, nil
	}

	return nil, fmt.Errorf("issue gift card: %w", repository.ErrDuplicateGiftCardCode)
}

func (s *giftCardServiceImpl) Activate(ctx context.Context, giftCardID string) (*model.GiftCard, error) {
	moved, err := s.repo.TransitionStatus(ctx, nil, giftCardID,
		[]model.GiftCardStatus{model.GiftCardStatusPending}, model.GiftCardStatusActive)
	if err != nil {
		return nil, fmt.Errorf("activate gift card: %w", err)
	}

	card, err := s.findCard(ctx, nil, giftCardID)
	if err != nil {
		return nil, err
	}
	if !moved && card.Status != model.GiftCardStatusActive {
		return nil, ErrGiftCardNotActive
	}

	return card, nil
}

func (s *giftCardServiceImpl) Get(ctx context.Context, giftCardID string) (*model.GiftCard, error) {
	return s.findCard(ctx, nil, giftCardID)
}

func (s *giftCardServiceImpl) Reconcile(ctx context.Context, giftCardID string) (*Reconciliation, error) {
	card, err := s.findCard(ctx, nil, giftCardID)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListTransactions(ctx, giftCardID)
	if err != nil {
		return nil, fmt.Errorf("list gift card transactions: %w", err)
	}

	rec := &Reconciliation{
		GiftCardID:     card.ID,
		InitialBalance: card.InitialBalanceCents,
		CurrentBalance: card.CurrentBalanceCents,
		Entries:        len(entries),
	}

	running := card.InitialBalanceCents
	for _, entry := range entries {
		rec.LedgerSum += entry.AmountCents
		running += entry.AmountCents
		if entry.BalanceAfterCents != running {
			rec.Mismatches = append(rec.Mismatches, LedgerMismatch{
				TransactionID: entry.ID,
				Expected:      running,
				Recorded:      entry.BalanceAfterCents,
			})
		}
	}

	rec.ExpectedBalance = card.InitialBalanceCents + rec.LedgerSum
	rec.Consistent = rec.ExpectedBalance == card.CurrentBalanceCents && len(rec.Mismatches) == 0

	return rec, nil
}

func (s *giftCardServiceImpl) ReconcileAll(ctx context.Context) ([]*Reconciliation, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list gift cards: %w", err)
	}

	recs := make([]*Reconciliation, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Reconcile(ctx, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func (s *giftCardServiceImpl) findCard(ctx context.Context, tx *gorm.DB, giftCardID string) (*model.GiftCard, error) {
	card, err := s.repo.FindByID(ctx, tx, giftCardID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGiftCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find gift card: %w", err)
	}
	return card, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
