package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/topfreegames/pitaya-cluster-core/internal/protocol"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol/pb"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
	"github.com/topfreegames/pitaya-cluster-core/internal/transport"
)

type fakeTransport struct {
	lastSubject string
	lastPayload []byte
	respond     func(subject string, payload []byte) ([]byte, error)
	published   []string
}

func (f *fakeTransport) Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error) {
	f.lastSubject = subject
	f.lastPayload = payload
	return f.respond(subject, payload)
}

func (f *fakeTransport) Publish(subject string, payload []byte) error {
	f.published = append(f.published, subject)
	return nil
}

func newRegistryWithOneRoom() *registry.Registry {
	reg := registry.New(registry.NewFilter(nil))
	reg.Put(registry.ServerDescriptor{ID: "room-1", Kind: "room"})
	return reg
}

func TestSendByIDNotFound(t *testing.T) {
	reg := registry.New(registry.NewFilter(nil))
	ft := &fakeTransport{}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	_, pbErr := r.SendByID(context.Background(), "room", "missing", route, nil, nil)
	require.NotNil(t, pbErr)
	require.Equal(t, "PIT-404", pbErr.Code)
}

func TestSendByIDSubjectAddressing(t *testing.T) {
	reg := newRegistryWithOneRoom()
	ft := &fakeTransport{respond: func(subject string, payload []byte) ([]byte, error) {
		return (&pb.Response{Data: []byte("ok")}).Marshal(), nil
	}}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	data, pbErr := r.SendByID(context.Background(), "room", "room-1", route, []byte("hi"), nil)
	require.Nil(t, pbErr)
	require.Equal(t, []byte("ok"), data)
	require.Equal(t, "pitaya/servers/room/room-1/rpc", ft.lastSubject)
}

func TestSendByKindNoServersAvailable(t *testing.T) {
	reg := registry.New(registry.NewFilter(nil))
	ft := &fakeTransport{}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	_, pbErr := r.SendByKind(context.Background(), "room", route, nil, nil)
	require.NotNil(t, pbErr)
	require.Equal(t, "PIT-404", pbErr.Code)
}

func TestSendPropagatesStructuredError(t *testing.T) {
	reg := newRegistryWithOneRoom()
	ft := &fakeTransport{respond: func(subject string, payload []byte) ([]byte, error) {
		return (&pb.Response{Error: &pb.Error{Code: "PIT-500", Msg: "boom"}}).Marshal(), nil
	}}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	_, pbErr := r.SendByID(context.Background(), "room", "room-1", route, nil, nil)
	require.NotNil(t, pbErr)
	require.Equal(t, "PIT-500", pbErr.Code)
	require.Equal(t, "boom", pbErr.Msg)
}

func TestSendPushPublishesOnly(t *testing.T) {
	ft := &fakeTransport{}
	r := New(registry.New(registry.NewFilter(nil)), ft, time.Second)
	err := r.SendPush("user-1", []byte("push"))
	require.NoError(t, err)
	require.Equal(t, []string{"pitaya/user/user-1/push"}, ft.published)
}

func TestSendBackpressureIsClusterNotServerBusy(t *testing.T) {
	reg := newRegistryWithOneRoom()
	ft := &fakeTransport{respond: func(subject string, payload []byte) ([]byte, error) {
		return nil, transport.ErrBackpressure
	}}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	_, pbErr := r.SendByID(context.Background(), "room", "room-1", route, nil, nil)
	require.NotNil(t, pbErr)
	require.Equal(t, "PIT-CLUSTER", pbErr.Code)
	require.Equal(t, "Backpressure", pbErr.Msg)
}

func TestSendDisconnectedIsClusterNotServerBusy(t *testing.T) {
	reg := newRegistryWithOneRoom()
	ft := &fakeTransport{respond: func(subject string, payload []byte) ([]byte, error) {
		return nil, transport.ErrDisconnected
	}}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	_, pbErr := r.SendByID(context.Background(), "room", "room-1", route, nil, nil)
	require.NotNil(t, pbErr)
	require.Equal(t, "PIT-CLUSTER", pbErr.Code)
	require.Equal(t, "TransportDisconnected", pbErr.Msg)
}

func TestRequestIDsAreMonotonic(t *testing.T) {
	reg := newRegistryWithOneRoom()
	var ids []uint64
	ft := &fakeTransport{respond: func(subject string, payload []byte) ([]byte, error) {
		req, err := pb.UnmarshalRequest(payload)
		require.NoError(t, err)
		ids = append(ids, req.Msg.ID)
		return (&pb.Response{Data: []byte("ok")}).Marshal(), nil
	}}
	r := New(reg, ft, time.Second)
	route, _ := protocol.ParseRoute("room.game.enter")
	for i := 0; i < 3; i++ {
		_, pbErr := r.SendByID(context.Background(), "room", "room-1", route, nil, nil)
		require.Nil(t, pbErr)
	}
	require.Len(t, ids, 3)
	require.True(t, ids[0] < ids[1] && ids[1] < ids[2])
}
