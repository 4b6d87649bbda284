package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutByID(t *testing.T) {
	r := New(NewFilter(nil))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room", Hostname: "h1"})
	d, err := r.ByID("room", "room-1")
	require.NoError(t, err)
	require.Equal(t, "h1", d.Hostname)
}

func TestByIDNotFound(t *testing.T) {
	r := New(NewFilter(nil))
	_, err := r.ByID("room", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesFromBothIndices(t *testing.T) {
	r := New(NewFilter(nil))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room"})
	r.Delete("room", "room-1")
	_, err := r.ByID("room", "room-1")
	require.ErrorIs(t, err, ErrNotFound)
	require.Empty(t, r.ByKind("room"))
}

func TestPickNeverReturnsDeleted(t *testing.T) {
	r := New(NewFilter(nil))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room"})
	r.Delete("room", "room-1")
	_, err := r.Pick("room")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPickUniformAmongEntries(t *testing.T) {
	r := New(NewFilter(nil))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room"})
	r.Put(ServerDescriptor{ID: "room-2", Kind: "room"})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		d, err := r.Pick("room")
		require.NoError(t, err)
		seen[d.ID] = true
	}
	require.Len(t, seen, 2)
}

func TestFilterRejectsNonMatchingKind(t *testing.T) {
	r := New(NewFilter([]string{"room*"}))
	r.Put(ServerDescriptor{ID: "c-1", Kind: "connector"})
	_, err := r.ByID("connector", "c-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilterAllowsMatchingGlob(t *testing.T) {
	r := New(NewFilter([]string{"room*"}))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room-eu"})
	d, err := r.ByID("room-eu", "room-1")
	require.NoError(t, err)
	require.Equal(t, "room-1", d.ID)
}

func TestPutReplacesWholesale(t *testing.T) {
	r := New(NewFilter(nil))
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room", Hostname: "h1"})
	r.Put(ServerDescriptor{ID: "room-1", Kind: "room", Hostname: "h2"})
	d, err := r.ByID("room", "room-1")
	require.NoError(t, err)
	require.Equal(t, "h2", d.Hostname)
}
