package pitaya

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/topfreegames/pitaya-cluster-core/internal/config"
	"github.com/topfreegames/pitaya-cluster-core/internal/dispatch"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	v := viper.New()
	require.NoError(t, v.BindPFlags(fs))
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestNewCoreNotReadyBeforeStart(t *testing.T) {
	cfg := testConfig(t)
	local := LocalServer{ID: "room-1", Kind: "room"}
	c := New(cfg, local, dispatch.NewTable())
	require.False(t, c.Ready())
	require.NotNil(t, c.Registry())
	require.NotNil(t, c.Router())
}

func TestShutdownBeforeStartIsSafe(t *testing.T) {
	cfg := testConfig(t)
	local := LocalServer{ID: "room-1", Kind: "room"}
	c := New(cfg, local, dispatch.NewTable())
	done := make(chan struct{})
	go func() {
		_ = c.Shutdown(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}
