package discovery

import (
	"context"
	"testing"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/stretchr/testify/require"

	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
)

func TestSplitKey(t *testing.T) {
	kind, id, ok := splitKey("/pitaya/servers", "/pitaya/servers/room/room-1")
	require.True(t, ok)
	require.Equal(t, "room", kind)
	require.Equal(t, "room-1", id)
}

func TestSplitKeyRejectsForeignPrefix(t *testing.T) {
	_, _, ok := splitKey("/pitaya/servers", "/other/room/room-1")
	require.False(t, ok)
}

func TestDescriptorJSONRoundTrip(t *testing.T) {
	d := registry.ServerDescriptor{ID: "room-1", Kind: "room", Hostname: "h1", Frontend: true, Metadata: `{"zone":"us"}`}
	p := descriptorJSON(d)
	require.Equal(t, d, p.toDescriptor())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "active", StateActive.String())
	require.Equal(t, "degraded", StateDegraded.String())
	require.Equal(t, "unknown", State(99).String())
}

// TestResyncLoopDisabledByZeroInterval exercises the opts.SyncServersInterval
// config path end to end without a live etcd: a zero interval must return
// immediately rather than block on a nil client.
func TestResyncLoopDisabledByZeroInterval(t *testing.T) {
	cache, err := lru.New(4)
	require.NoError(t, err)
	a := &Agent{opts: Options{SyncServersInterval: 0}, lastModRev: cache}
	a.wg.Add(1)

	done := make(chan struct{})
	go func() {
		a.resyncLoop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("resyncLoop with zero interval did not return promptly")
	}
}

// TestSupersedesGatesOutOfOrderModRevisions locks in the guard resync()
// shares with the watch path: a modRevision no newer than what's cached is
// dropped, not reapplied.
func TestSupersedesGatesOutOfOrderModRevisions(t *testing.T) {
	cache, err := lru.New(4)
	require.NoError(t, err)
	a := &Agent{lastModRev: cache}

	require.True(t, a.supersedes("k", 5))
	require.False(t, a.supersedes("k", 5))
	require.False(t, a.supersedes("k", 3))
	require.True(t, a.supersedes("k", 6))
}
