package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRouteRoundTrip(t *testing.T) {
	cases := []string{
		"room.game.enter",
		"connector.session.bind",
		"metagame.friends.list",
	}
	for _, s := range cases {
		r, err := ParseRoute(s)
		require.NoError(t, err)
		require.Equal(t, s, r.String())
	}
}

func TestParseRouteSegments(t *testing.T) {
	r, err := ParseRoute("room.game.enter")
	require.NoError(t, err)
	require.Equal(t, "room", r.Kind)
	require.Equal(t, "game", r.Service)
	require.Equal(t, "enter", r.Method)
}

func TestParseRouteMalformed(t *testing.T) {
	cases := []string{
		"",
		"room.game",
		"room.game.enter.extra",
		"room..enter",
		".game.enter",
		"room.game.",
	}
	for _, s := range cases {
		_, err := ParseRoute(s)
		require.Errorf(t, err, "expected parse failure for %q", s)
	}
}
