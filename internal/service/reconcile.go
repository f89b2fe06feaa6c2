package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"checkout-reconciler/internal/model"
	"checkout-reconciler/internal/repository"

	"gorm.io/gorm"
)

var (
	ErrEventNotFound          = errors.New("order event not found")
	ErrEventNotResolvable     = errors.New("event does not record a side effect awaiting follow-up")
	ErrEventAlreadyResolved   = errors.New("event already resolved")
	ErrResolutionNoteRequired = errors.New("resolution note is required")
)

type IssueKind string

const (
	// IssueFailed is a side effect that ran and failed.
	IssueFailed IssueKind = "failed"
	// IssueStalled is a pending marker with no outcome, left behind when the
	// process stopped between the order commit and the side effect.
	IssueStalled IssueKind = "stalled"
)

type SideEffectIssue struct {
	Kind  IssueKind         `json:"kind"`
	Event *model.OrderEvent `json:"event"`
}

// ReconcileService finds side effects that need a human and records when
// someone has dealt with one.
type ReconcileService interface {
	// OpenIssues lists unresolved failures and pending markers created
	// before stalledBefore that never got an outcome.
	OpenIssues(ctx context.Context, stalledBefore time.Time) ([]*SideEffectIssue, error)
	// Resolve appends a side_effect_resolved event pointing at eventID so it
	// drops out of OpenIssues.
	Resolve(ctx context.Context, eventID uint, actor, note string) (*model.OrderEvent, error)
}

type reconcileServiceImpl struct {
	orderRepo repository.OrderRepository
}

func NewReconcileService(orderRepo repository.OrderRepository) ReconcileService {
	return &reconcileServiceImpl{
		orderRepo: orderRepo,
	}
}

func (s *reconcileServiceImpl) OpenIssues(ctx context.Context, stalledBefore time.Time) ([]*SideEffectIssue, error) {
	resolved, err := s.resolvedEventIDs(ctx)
	if err != nil {
		return nil, err
	}

	failed, err := s.orderRepo.ListEventsByType(ctx, model.FailureEventTypes)
	if err != nil {
		return nil, fmt.Errorf("list failed side effects: %w", err)
	}

	var issues []*SideEffectIssue
	for _, ev := range failed {
		if !resolved[ev.ID] {
			issues = append(issues, &SideEffectIssue{Kind: IssueFailed, Event: ev})
		}
	}

	pending, err := s.orderRepo.ListEventsByType(ctx, model.PendingEventTypes())
	if err != nil {
		return nil, fmt.Errorf("list pending side effects: %w", err)
	}

	settled, err := s.outcomesByOrder(ctx)
	if err != nil {
		return nil, err
	}

	for _, ev := range pending {
		if resolved[ev.ID] || !ev.CreatedAt.Before(stalledBefore) {
			continue
		}
		if hasOutcome(settled[ev.OrderID], model.PendingOutcomes[ev.Type]) {
			continue
		}
		issues = append(issues, &SideEffectIssue{Kind: IssueStalled, Event: ev})
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].Event.ID < issues[j].Event.ID
	})

	return issues, nil
}

func (s *reconcileServiceImpl) Resolve(ctx context.Context, eventID uint, actor, note string) (*model.OrderEvent, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, ErrResolutionNoteRequired
	}

	target, err := s.orderRepo.FindEvent(ctx, eventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order event: %w", err)
	}

	if !resolvable(target.Type) {
		return nil, ErrEventNotResolvable
	}

	events, err := s.orderRepo.ListEvents(ctx, target.OrderID)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	for _, ev := range events {
		if id, ok := resolvedEventID(ev); ok && id == target.ID {
			return nil, ErrEventAlreadyResolved
		}
	}

	resolution := newOrderEvent(target.OrderID, model.EventSideEffectResolved,
		fmt.Sprintf("Resolved %s: %s", target.Type, note),
		map[string]interface{}{
			"resolves_event_id":   strconv.FormatUint(uint64(target.ID), 10),
			"resolves_event_type": string(target.Type),
			"note":                note,
		})
	resolution.Actor = actor
	if resolution.Actor == "" {
		resolution.Actor = model.ActorSystem
	}

	if err := s.orderRepo.AppendEvent(ctx, nil, resolution); err != nil {
		return nil, fmt.Errorf("append resolution event: %w", err)
	}

	return resolution, nil
}

func (s *reconcileServiceImpl) resolvedEventIDs(ctx context.Context) (map[uint]bool, error) {
	resolutions, err := s.orderRepo.ListEventsByType(ctx, []model.OrderEventType{model.EventSideEffectResolved})
	if err != nil {
		return nil, fmt.Errorf("list resolutions: %w", err)
	}

	ids := make(map[uint]bool, len(resolutions))
	for _, ev := range resolutions {
		if id, ok := resolvedEventID(ev); ok {
			ids[id] = true
		}
	}
	return ids, nil
}

// outcomesByOrder returns, per order, the event types that settle a marker.
func (s *reconcileServiceImpl) outcomesByOrder(ctx context.Context) (map[string]map[model.OrderEventType]bool, error) {
	var types []model.OrderEventType
	for _, outcomes := range model.PendingOutcomes {
		types = append(types, outcomes...)
	}

	events, err := s.orderRepo.ListEventsByType(ctx, types)
	if err != nil {
		return nil, fmt.Errorf("list side effect outcomes: %w", err)
	}

	byOrder := make(map[string]map[model.OrderEventType]bool)
	for _, ev := range events {
		if byOrder[ev.OrderID] == nil {
			byOrder[ev.OrderID] = make(map[model.OrderEventType]bool)
		}
		byOrder[ev.OrderID][ev.Type] = true
	}
	return byOrder, nil
}

func hasOutcome(seen map[model.OrderEventType]bool, outcomes []model.OrderEventType) bool {
	for _, t := range outcomes {
		if seen[t] {
			return true
		}
	}
	return false
}

func resolvable(t model.OrderEventType) bool {
	if _, ok := model.PendingOutcomes[t]; ok {
		return true
	}
	for _, f := range model.FailureEventTypes {
		if f == t {
			return true
		}
	}
	return false
}

func resolvedEventID(ev *model.OrderEvent) (uint, bool) {
	if ev.Type != model.EventSideEffectResolved {
		return 0, false
	}
	raw, ok := ev.Metadata["resolves_event_id"].(string)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
