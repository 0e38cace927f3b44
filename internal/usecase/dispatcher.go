package usecase

import (
	"context"
	"sync"

	"github.com/arex/position_tracker/internal/domain"
	"go.uber.org/zap"
)

// DispatchSummary aggregates per-subscriber outcomes of one fan-out. It is
// surfaced to the caller for observability but never fails the parent
// lifecycle operation.
type DispatchSummary struct {
	Matched   int `json:"matched"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (s *DispatchSummary) Add(other DispatchSummary) {
	s.Matched += other.Matched
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// FanOut propagates a lifecycle transition to subscriber accounts.
type FanOut interface {
	Dispatch(ctx context.Context, book, coin string, action domain.Action) DispatchSummary
}

// Dispatcher mirrors every lifecycle transition of a strategy book to the
// subscriber entries whose whitelist covers the traded coin. Subscribers are
// dispatched in parallel and independently: one subscriber failing, timing
// out or being skipped never blocks the others.
type Dispatcher struct {
	subs   domain.SubscriptionStore
	client domain.SubscriberClient
	logger *zap.Logger

	// Open actions without the Extra flag check the subscriber's current
	// state first; the check-then-dispatch sequence holds this per-subscriber
	// lock so two concurrent transitions cannot both pass the guard.
	// Best-effort only: an externally-initiated position change can still
	// race the guard.
	mu       sync.Mutex
	subLocks map[int]*sync.Mutex

	extraMultiplier float64
}

func NewDispatcher(subs domain.SubscriptionStore, client domain.SubscriberClient, extraMultiplier float64, logger *zap.Logger) *Dispatcher {
	if extraMultiplier <= 0 {
		extraMultiplier = 1.0
	}
	return &Dispatcher{
		subs:            subs,
		client:          client,
		logger:          logger,
		subLocks:        make(map[int]*sync.Mutex),
		extraMultiplier: extraMultiplier,
	}
}

func (d *Dispatcher) lockFor(subscriberID int) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.subLocks[subscriberID]
	if !ok {
		l = &sync.Mutex{}
		d.subLocks[subscriberID] = l
	}
	return l
}

type dispatchOutcome int

const (
	outcomeSucceeded dispatchOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// Dispatch fans the action out to all matching entries of the book's
// strategy. The registry read or a subscriber call failing is logged and
// counted, never propagated.
func (d *Dispatcher) Dispatch(ctx context.Context, book, coin string, action domain.Action) DispatchSummary {
	var summary DispatchSummary

	strategies, err := d.subs.List(ctx, book)
	if err != nil {
		d.logger.Error("fan-out: failed to load subscriptions",
			zap.String("strategy", book), zap.Error(err))
		return summary
	}
	if len(strategies) == 0 {
		return summary
	}

	var matched []*domain.SubscriptionEntry
	for _, entry := range strategies[0].Entries {
		if entry.WhitelistContains(coin) {
			matched = append(matched, entry)
		} else {
			d.logger.Debug("fan-out: entry not whitelisted",
				zap.Int("subscriber", entry.ID), zap.String("coin", coin))
		}
	}
	summary.Matched = len(matched)

	var (
		wg       sync.WaitGroup
		outcomes = make([]dispatchOutcome, len(matched))
	)
	for i, entry := range matched {
		wg.Add(1)
		go func(i int, entry *domain.SubscriptionEntry) {
			defer wg.Done()
			outcomes[i] = d.dispatchOne(ctx, entry, coin, action)
		}(i, entry)
	}
	wg.Wait()

	for _, o := range outcomes {
		switch o {
		case outcomeSucceeded:
			summary.Succeeded++
		case outcomeFailed:
			summary.Failed++
		case outcomeSkipped:
			summary.Skipped++
		}
	}

	d.logger.Info("fan-out dispatched",
		zap.String("strategy", book),
		zap.String("coin", coin),
		zap.String("action", action.String()),
		zap.Int("matched", summary.Matched),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary
}

func (d *Dispatcher) dispatchOne(ctx context.Context, entry *domain.SubscriptionEntry, coin string, action domain.Action) dispatchOutcome {
	if action == domain.ActionClose {
		// Close both sides unconditionally; downstream no-op on a missing
		// position is tolerated.
		ok := true
		for _, side := range [2]domain.Side{domain.SideLong, domain.SideShort} {
			if err := d.client.ClosePosition(ctx, entry.ID, side, coin); err != nil {
				d.logger.Error("fan-out: close failed",
					zap.Int("subscriber", entry.ID), zap.String("coin", coin),
					zap.String("side", string(side)), zap.Error(err))
				ok = false
			}
		}
		if !ok {
			return outcomeFailed
		}
		return outcomeSucceeded
	}

	side, _ := action.Side()

	if !action.IsOpen() {
		if err := d.client.ClosePosition(ctx, entry.ID, side, coin); err != nil {
			d.logger.Error("fan-out: close failed",
				zap.Int("subscriber", entry.ID), zap.String("coin", coin),
				zap.String("side", string(side)), zap.Error(err))
			return outcomeFailed
		}
		return outcomeSucceeded
	}

	amount := entry.Amount
	if action.IsExtra() {
		amount *= d.extraMultiplier
	} else {
		// Collision guard: a plain open is suppressed when the subscriber
		// already holds that side. Extra* actions are additive and bypass it.
		lock := d.lockFor(entry.ID)
		lock.Lock()
		defer lock.Unlock()

		sides, err := d.client.ListOpenSides(ctx, entry.ID, coin)
		if err != nil {
			d.logger.Error("fan-out: position check failed",
				zap.Int("subscriber", entry.ID), zap.String("coin", coin), zap.Error(err))
			return outcomeFailed
		}
		if sides[side] {
			d.logger.Info("fan-out: open skipped, side already held",
				zap.Int("subscriber", entry.ID), zap.String("coin", coin),
				zap.String("side", string(side)))
			return outcomeSkipped
		}
	}

	if err := d.client.OpenPosition(ctx, entry.ID, side, coin, amount); err != nil {
		d.logger.Error("fan-out: open failed",
			zap.Int("subscriber", entry.ID), zap.String("coin", coin),
			zap.String("side", string(side)), zap.Error(err))
		return outcomeFailed
	}
	return outcomeSucceeded
}
