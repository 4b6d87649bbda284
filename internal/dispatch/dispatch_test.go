package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/topfreegames/pitaya-cluster-core/internal/protocol/pb"
)

func marshalRequest(t *testing.T, rpcType pb.RPCType, route string, data []byte, session *pb.Session) []byte {
	t.Helper()
	req := &pb.Request{
		Type:    rpcType,
		Session: session,
		Msg:     &pb.Message{Route: route, Data: data, Reply: "_INBOX.x"},
	}
	return req.Marshal()
}

func decodeResponse(t *testing.T, b []byte) *pb.Response {
	t.Helper()
	resp, err := pb.UnmarshalResponse(b)
	require.NoError(t, err)
	return resp
}

func TestHandleMalformedRequest(t *testing.T) {
	d := New(NewTable(), time.Second)
	resp := decodeResponse(t, d.Handle(context.Background(), []byte{0xff, 0xff, 0xff}))
	require.Equal(t, "PIT-400", resp.Error.Code)
}

func TestHandleMalformedRoute(t *testing.T) {
	d := New(NewTable(), time.Second)
	payload := marshalRequest(t, pb.RPCTypeUser, "only.two", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Equal(t, "PIT-400", resp.Error.Code)
}

func TestHandleRemoteNotFound(t *testing.T) {
	d := New(NewTable(), time.Second)
	payload := marshalRequest(t, pb.RPCTypeUser, "game.room.enter", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Equal(t, "PIT-404", resp.Error.Code)
	require.Equal(t, "remote/handler not found! remote/handler name: room.enter", resp.Error.Msg)
}

func TestHandleSysRoutesToHandlersTable(t *testing.T) {
	table := NewTable()
	var gotSession *pb.Session
	table.RegisterHandler("game.enter", func(ctx context.Context, rpc InboundRPC) ([]byte, error) {
		gotSession = rpc.Session
		return []byte("welcome"), nil
	})
	d := New(table, time.Second)
	sess := &pb.Session{UID: "u1"}
	payload := marshalRequest(t, pb.RPCTypeSys, "room.game.enter", []byte("in"), sess)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Nil(t, resp.Error)
	require.Equal(t, []byte("welcome"), resp.Data)
	require.Equal(t, "u1", gotSession.UID)
}

func TestHandleUserRoutesToRemotesTable(t *testing.T) {
	table := NewTable()
	table.RegisterRemote("game.enter", func(ctx context.Context, rpc InboundRPC) ([]byte, error) {
		return []byte("ok"), nil
	})
	d := New(table, time.Second)
	payload := marshalRequest(t, pb.RPCTypeUser, "room.game.enter", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Nil(t, resp.Error)
	require.Equal(t, []byte("ok"), resp.Data)
}

func TestHandleHandlerErrorBecomesPIT500(t *testing.T) {
	table := NewTable()
	table.RegisterRemote("game.enter", func(ctx context.Context, rpc InboundRPC) ([]byte, error) {
		return nil, errors.New("db unavailable")
	})
	d := New(table, time.Second)
	payload := marshalRequest(t, pb.RPCTypeUser, "room.game.enter", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Equal(t, "PIT-500", resp.Error.Code)
	require.Equal(t, "db unavailable", resp.Error.Msg)
}

func TestHandlePanicBecomesPIT500WithoutCrashing(t *testing.T) {
	table := NewTable()
	table.RegisterRemote("game.enter", func(ctx context.Context, rpc InboundRPC) ([]byte, error) {
		panic("boom")
	})
	d := New(table, time.Second)
	payload := marshalRequest(t, pb.RPCTypeUser, "room.game.enter", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Equal(t, "PIT-500", resp.Error.Code)
}

func TestHandleTimeoutBecomesPIT504(t *testing.T) {
	table := NewTable()
	table.RegisterRemote("game.enter", func(ctx context.Context, rpc InboundRPC) ([]byte, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond) // late reply must be discarded
		return []byte("too late"), nil
	})
	d := New(table, 10*time.Millisecond)
	payload := marshalRequest(t, pb.RPCTypeUser, "room.game.enter", nil, nil)
	resp := decodeResponse(t, d.Handle(context.Background(), payload))
	require.Equal(t, "PIT-504", resp.Error.Code)
}

func TestServerBusyResponseCode(t *testing.T) {
	resp := decodeResponse(t, ServerBusyResponse())
	require.Equal(t, "PIT-503", resp.Error.Code)
}
