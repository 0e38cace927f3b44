package usecase

import (
	"context"
	"strings"

	"github.com/arex/position_tracker/internal/domain"
	"go.uber.org/zap"
)

// SubscriptionService is CRUD over per-strategy subscriber entries.
type SubscriptionService struct {
	store  domain.SubscriptionStore
	logger *zap.Logger
}

func NewSubscriptionService(store domain.SubscriptionStore, logger *zap.Logger) *SubscriptionService {
	return &SubscriptionService{store: store, logger: logger}
}

// Subscribe registers id under the strategy for coin. The strategy document
// is created on first use. For an existing entry the amount is last-write-
// wins and the coin joins the whitelist as a set union; otherwise a fresh
// entry {id, [coin], amount} is appended.
func (s *SubscriptionService) Subscribe(ctx context.Context, strategy string, id int, coin string, amount float64) error {
	if strings.TrimSpace(strategy) == "" || strings.TrimSpace(coin) == "" {
		return domain.Validationf("strategy and coin are required")
	}
	if amount <= 0 {
		return domain.Validationf("amount must be positive, got %v", amount)
	}

	if err := s.store.EnsureStrategy(ctx, strategy); err != nil {
		return err
	}

	entry, err := s.store.FindEntry(ctx, strategy, id)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &domain.SubscriptionEntry{ID: id, Whitelist: []string{coin}, Amount: amount}
	} else {
		entry.Amount = amount
		if !contains(entry.Whitelist, coin) {
			entry.Whitelist = append(entry.Whitelist, coin)
		}
	}

	if err := s.store.SaveEntry(ctx, strategy, entry); err != nil {
		return err
	}
	s.logger.Info("subscribed",
		zap.String("strategy", strategy), zap.Int("subscriber", id),
		zap.String("coin", coin), zap.Float64("amount", amount))
	return nil
}

// Unsubscribe removes coin from the entry's whitelist. The entry itself is
// kept even when its whitelist empties; removing a coin that was never there
// is a no-op.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, strategy string, id int, coin string) error {
	if strings.TrimSpace(strategy) == "" || strings.TrimSpace(coin) == "" {
		return domain.Validationf("strategy and coin are required")
	}
	if err := s.store.RemoveCoin(ctx, strategy, id, coin); err != nil {
		return err
	}
	s.logger.Info("unsubscribed",
		zap.String("strategy", strategy), zap.Int("subscriber", id), zap.String("coin", coin))
	return nil
}

// ListSubscriptions returns strategy documents, all of them or one by name,
// optionally narrowing each document's entries to a single subscriber id.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, strategy string, id *int) ([]*domain.Strategy, error) {
	strategies, err := s.store.List(ctx, strategy)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return strategies, nil
	}
	for _, st := range strategies {
		filtered := make([]*domain.SubscriptionEntry, 0, 1)
		for _, e := range st.Entries {
			if e.ID == *id {
				filtered = append(filtered, e)
			}
		}
		st.Entries = filtered
	}
	return strategies, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
