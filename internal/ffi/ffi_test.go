package ffi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/topfreegames/pitaya-cluster-core/internal/dispatch"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
	"github.com/topfreegames/pitaya-cluster-core/internal/router"
	"github.com/topfreegames/pitaya-cluster-core/internal/transport"
)

func TestRpcRespondExactlyOnce(t *testing.T) {
	ch := make(chan []byte, 1)
	r := &Rpc{rpc: dispatch.InboundRPC{}, replyCh: ch}

	r.Respond([]byte("first"))
	r.Respond([]byte("second")) // must be a silent no-op

	require.Equal(t, []byte("first"), <-ch)
	require.Empty(t, ch)
}

func TestErrorDropIsIdempotent(t *testing.T) {
	e := &Error{Code: "PIT-500", Message: "boom"}
	require.NotPanics(t, func() {
		e.Drop()
		e.Drop()
	})
}

func TestSendPushToUserSurfacesTransportError(t *testing.T) {
	reg := registry.New(registry.NewFilter(nil))
	p := NewPitaya(router.New(reg, disconnectedTransport{}, time.Second))
	err := p.SendPushToUser("user-1", []byte("push"))
	require.NotNil(t, err)
	require.Equal(t, "PIT-CLUSTER", err.Code)
	require.Equal(t, transport.ErrDisconnected.Error(), err.Message)
}

// disconnectedTransport fails every call the way a transport whose
// connection is down does.
type disconnectedTransport struct{}

func (disconnectedTransport) Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error) {
	return nil, transport.ErrDisconnected
}

func (disconnectedTransport) Publish(subject string, payload []byte) error {
	return transport.ErrDisconnected
}
