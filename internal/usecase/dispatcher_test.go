package usecase

import (
	"context"
	"testing"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dispatcherFixture(t *testing.T) (*Dispatcher, *mockSubStore, *mockSubscriber) {
	t.Helper()
	store := newMockSubStore()
	client := newMockSubscriber()
	d := NewDispatcher(store, client, 1.0, zap.NewNop())
	return d, store, client
}

func addEntry(t *testing.T, store *mockSubStore, strategy string, entry *domain.SubscriptionEntry) {
	t.Helper()
	require.NoError(t, store.EnsureStrategy(context.Background(), strategy))
	require.NoError(t, store.SaveEntry(context.Background(), strategy, entry))
}

func TestDispatch_WhitelistFiltersEntries(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 2, Whitelist: []string{"ETH"}, Amount: 30})

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionLong)
	require.Equal(t, 1, summary.Matched)
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.Failed)

	calls := client.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, 1, calls[0].id)
	require.Equal(t, domain.SideLong, calls[0].side)
	require.Equal(t, 20.0, calls[0].amount)
	require.Equal(t, "open", calls[0].kind)
}

func TestDispatch_WildcardWhitelistMatchesEveryCoin(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{domain.WhitelistAll}, Amount: 25})

	summary := d.Dispatch(context.Background(), "S1", "XRP", domain.ActionShort)
	require.Equal(t, 1, summary.Matched)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, domain.SideShort, client.recorded()[0].side)
}

func TestDispatch_SkipsOpenWhenSideAlreadyHeld(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})
	client.setOpen(1, domain.SideLong)

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionLong)
	require.Equal(t, 1, summary.Matched)
	require.Zero(t, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)
	require.Empty(t, client.recorded())

	// Held side does not suppress the other direction.
	summary = d.Dispatch(context.Background(), "S1", "BTC", domain.ActionShort)
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.Skipped)
}

func TestDispatch_ExtraBypassesGuardAndScalesAmount(t *testing.T) {
	store := newMockSubStore()
	client := newMockSubscriber()
	d := NewDispatcher(store, client, 0.5, zap.NewNop())
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})
	client.setOpen(1, domain.SideLong)

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionExtraLong)
	require.Equal(t, 1, summary.Succeeded)
	require.Zero(t, summary.Skipped)

	calls := client.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, "open", calls[0].kind)
	require.Equal(t, 10.0, calls[0].amount)
}

func TestDispatch_CloseActionClosesBothSides(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionClose)
	require.Equal(t, 1, summary.Succeeded)

	calls := client.recorded()
	require.Len(t, calls, 2)
	sides := map[domain.Side]bool{}
	for _, c := range calls {
		require.Equal(t, "close", c.kind)
		sides[c.side] = true
	}
	require.True(t, sides[domain.SideLong])
	require.True(t, sides[domain.SideShort])
}

func TestDispatch_CloseSideIsUnconditional(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})

	// No open position on the subscriber; the close is still mirrored.
	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionCloseLong)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, "close", client.recorded()[0].kind)
}

func TestDispatch_FailuresAreIsolated(t *testing.T) {
	d, store, client := dispatcherFixture(t)
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 1, Whitelist: []string{"BTC"}, Amount: 20})
	addEntry(t, store, "S1", &domain.SubscriptionEntry{ID: 2, Whitelist: []string{"BTC"}, Amount: 30})
	client.listErr = domain.Upstreamf("subscriber unreachable")

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionLong)
	require.Equal(t, 2, summary.Matched)
	require.Equal(t, 2, summary.Failed)
	require.Zero(t, summary.Succeeded)
}

func TestDispatch_RegistryFailureYieldsEmptySummary(t *testing.T) {
	d, store, _ := dispatcherFixture(t)
	store.listErr = domain.Storef("db closed")

	summary := d.Dispatch(context.Background(), "S1", "BTC", domain.ActionLong)
	require.Equal(t, DispatchSummary{}, summary)
}

func TestDispatch_UnknownStrategyMatchesNothing(t *testing.T) {
	d, _, client := dispatcherFixture(t)

	summary := d.Dispatch(context.Background(), "no-such-strategy", "BTC", domain.ActionLong)
	require.Equal(t, DispatchSummary{}, summary)
	require.Empty(t, client.recorded())
}
