package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAction_RoundTrip(t *testing.T) {
	for _, tag := range []string{"Long", "Short", "ExtraLong", "ExtraShort", "CloseLong", "CloseShort", "Close"} {
		a, err := ParseAction(tag)
		require.NoError(t, err, tag)
		require.Equal(t, tag, a.String())
	}
}

func TestParseAction_RejectsUnknownTag(t *testing.T) {
	for _, tag := range []string{"", "long", "CLOSE", "Hold", "CloseAll"} {
		_, err := ParseAction(tag)
		require.ErrorIs(t, err, ErrValidation, tag)
	}
}

func TestAction_Classification(t *testing.T) {
	require.True(t, ActionLong.IsOpen())
	require.True(t, ActionExtraShort.IsOpen())
	require.False(t, ActionCloseLong.IsOpen())
	require.False(t, ActionClose.IsOpen())

	require.True(t, ActionExtraLong.IsExtra())
	require.False(t, ActionLong.IsExtra())

	side, ok := ActionCloseShort.Side()
	require.True(t, ok)
	require.Equal(t, SideShort, side)

	_, ok = ActionClose.Side()
	require.False(t, ok)
}

func TestSide_Opposite(t *testing.T) {
	require.Equal(t, SideShort, SideLong.Opposite())
	require.Equal(t, SideLong, SideShort.Opposite())
	require.True(t, SideLong.Valid())
	require.False(t, Side("Sideways").Valid())
}

func TestWhitelistContains(t *testing.T) {
	e := &SubscriptionEntry{ID: 1, Whitelist: []string{"BTC", "ETH"}}
	require.True(t, e.WhitelistContains("BTC"))
	require.False(t, e.WhitelistContains("XRP"))

	all := &SubscriptionEntry{ID: 2, Whitelist: []string{WhitelistAll}}
	require.True(t, all.WhitelistContains("XRP"))
}
