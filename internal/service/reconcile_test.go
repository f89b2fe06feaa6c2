package service

import (
	"context"
	"testing"
	"time"

	"checkout-reconciler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenIssuesFlagsStalledSideEffects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	dc := e.createDiscount(t, percentOff("STALL10", 10))
	card := e.issueCard(t, 3000)
	_, err := e.discounts.Claim(ctx, dc.ID, model.CustomerRef{Email: "buyer@example.com"}, "ref-stall", 500)
	require.NoError(t, err)

	session := paidSession("sess_stalled")
	session.AmountTotal = 4000
	session.Metadata = model.SessionMetadata{
		CheckoutRef:    "ref-stall",
		DiscountCodeID: dc.ID,
		DiscountCode:   dc.Code,
		DiscountAmount: 500,
		GiftCardID:     card.ID,
		GiftCardCode:   card.Code,
		GiftCardAmount: 1000,
	}
	order, _, err := e.materializer.Materialize(ctx, session)
	require.NoError(t, err)

	assert.Len(t, e.events(t, order.ID, model.EventDiscountPending), 1)
	assert.Len(t, e.events(t, order.ID, model.EventGiftCardRedemptionPending), 1)

	later := time.Now().Add(time.Minute)
	issues, err := e.reconcile.OpenIssues(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, issues)

	// Lose the outcomes, as if the process stopped right after the order commit.
	require.NoError(t, e.db.
		Where("order_id = ? AND type IN ?", order.ID, []model.OrderEventType{model.EventDiscountApplied, model.EventGiftCardRedeemed}).
		Delete(&model.OrderEvent{}).Error)

	issues, err = e.reconcile.OpenIssues(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, issues, "markers inside the grace period are not stalled yet")

	issues, err = e.reconcile.OpenIssues(ctx, later)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, IssueStalled, issues[0].Kind)
	assert.Equal(t, model.EventDiscountPending, issues[0].Event.Type)
	assert.Equal(t, IssueStalled, issues[1].Kind)
	assert.Equal(t, model.EventGiftCardRedemptionPending, issues[1].Event.Type)

	_, err = e.reconcile.Resolve(ctx, issues[0].Event.ID, "ops@example.com", "usage recorded by hand")
	require.NoError(t, err)

	issues, err = e.reconcile.OpenIssues(ctx, later)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, model.EventGiftCardRedemptionPending, issues[0].Event.Type)
}

func TestResolveAcknowledgesFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	card, err := e.giftCards.Issue(ctx, IssueGiftCardRequest{InitialBalance: 1000})
	require.NoError(t, err)

	session := paidSession("sess_resolve")
	session.Metadata = model.SessionMetadata{GiftCardID: card.ID, GiftCardCode: card.Code, GiftCardAmount: 1000}
	order, _, err := e.materializer.Materialize(ctx, session)
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	issues, err := e.reconcile.OpenIssues(ctx, later)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueFailed, issues[0].Kind)
	failed := issues[0].Event
	assert.Equal(t, model.EventGiftCardRedemptionFailed, failed.Type)

	_, err = e.reconcile.Resolve(ctx, failed.ID, "ops@example.com", "  ")
	assert.ErrorIs(t, err, ErrResolutionNoteRequired)

	resolution, err := e.reconcile.Resolve(ctx, failed.ID, "ops@example.com", "customer paid the difference")
	require.NoError(t, err)
	assert.Equal(t, model.EventSideEffectResolved, resolution.Type)
	assert.Equal(t, "ops@example.com", resolution.Actor)
	assert.Equal(t, order.ID, resolution.OrderID)

	stored := e.events(t, order.ID, model.EventSideEffectResolved)
	require.Len(t, stored, 1)
	assert.Equal(t, string(model.EventGiftCardRedemptionFailed), meta(stored[0].Metadata["resolves_event_type"]))
	assert.Equal(t, "customer paid the difference", meta(stored[0].Metadata["note"]))

	issues, err = e.reconcile.OpenIssues(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, issues)

	_, err = e.reconcile.Resolve(ctx, failed.ID, "ops@example.com", "again")
	assert.ErrorIs(t, err, ErrEventAlreadyResolved)

	created := e.events(t, order.ID, model.EventOrderCreated)
	require.Len(t, created, 1)
	_, err = e.reconcile.Resolve(ctx, created[0].ID, "ops@example.com", "not a side effect")
	assert.ErrorIs(t, err, ErrEventNotResolvable)

	_, err = e.reconcile.Resolve(ctx, 999999, "ops@example.com", "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}
