// Package router implements the RPC Router: subject addressing and request
// ID allocation. The Router keeps no pending-reply table of its own: each
// outbound request waits on the transport's per-request inbox against a
// deadline, modeled on the teacher's Connection.send
// timeout-goroutine-racing-a-timer shape in pilot/pkg/xds/ads.go.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/topfreegames/pitaya-cluster-core/internal/metrics"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol/pb"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
	"github.com/topfreegames/pitaya-cluster-core/internal/transport"
)

// Transport is the subset of internal/transport.Transport the Router needs,
// narrowed to an interface so it can be faked in tests.
type Transport interface {
	Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error)
	Publish(subject string, payload []byte) error
}

// Router resolves application-level routes and selectors to transport
// subjects and owns request ID allocation.
type Router struct {
	reg            *registry.Registry
	transport      Transport
	requestTimeout time.Duration
	nextID         atomic.Uint64
	metrics        *metrics.Collectors
}

// New builds a Router over reg, sending via transport with the given
// default per-RPC timeout.
func New(reg *registry.Registry, transport Transport, requestTimeout time.Duration) *Router {
	return &Router{reg: reg, transport: transport, requestTimeout: requestTimeout}
}

// SetMetrics attaches the observability hooks; nil-safe when unset.
func (r *Router) SetMetrics(c *metrics.Collectors) { r.metrics = c }

// ServerRPCSubject is the inbound RPC subject for a given kind/id, bit-exact
// so Go/C++ peers agree on the wire.
func ServerRPCSubject(kind, id string) string {
	return fmt.Sprintf("pitaya/servers/%s/%s/rpc", kind, id)
}

// UserPushSubject is the inbound push subject for a user.
func UserPushSubject(userID string) string {
	return fmt.Sprintf("pitaya/user/%s/push", userID)
}

// UserKickSubject is the inbound kick subject for a server-owned session.
func UserKickSubject(serverID string) string {
	return fmt.Sprintf("pitaya/user/%s/kick", serverID)
}

// nextRequestID returns a process-unique monotonic counter value.
func (r *Router) nextRequestID() uint64 {
	return r.nextID.Inc()
}

func (r *Router) inboxSubject() string {
	return "_INBOX." + uuid.NewString()
}

// SendByID sends route/data to the server identified by (kind, id).
func (r *Router) SendByID(ctx context.Context, kind, id string, route protocol.Route, data []byte, session *pb.Session) ([]byte, *pb.Error) {
	desc, err := r.reg.ByID(kind, id)
	if err != nil {
		return nil, &pb.Error{Code: "PIT-404", Msg: "no servers available for " + kind + "/" + id}
	}
	return r.send(ctx, desc, route, data, session)
}

// SendByKind picks one peer of kind uniformly at random and sends to it.
// No automatic retry on a different peer if the picked peer has since been
// removed from the Registry — the caller decides whether to retry.
func (r *Router) SendByKind(ctx context.Context, kind string, route protocol.Route, data []byte, session *pb.Session) ([]byte, *pb.Error) {
	desc, err := r.reg.Pick(kind)
	if err != nil {
		return nil, &pb.Error{Code: "PIT-404", Msg: "no servers available for kind " + kind}
	}
	return r.send(ctx, desc, route, data, session)
}

// SendKick sends a session kick to serverID and waits for the ack reply.
func (r *Router) SendKick(ctx context.Context, kind, serverID string, data []byte) *pb.Error {
	_, pbErr := r.SendByID(ctx, kind, serverID, protocol.Route{Kind: kind, Service: "session", Method: "kick"}, data, nil)
	return pbErr
}

// SendPush publishes a user push; fire-and-forget, caller only learns of a
// synchronous transport failure, never a reply.
func (r *Router) SendPush(userID string, data []byte) error {
	if r.transport == nil {
		return transport.ErrDisconnected
	}
	return r.transport.Publish(UserPushSubject(userID), data)
}

func (r *Router) send(ctx context.Context, desc registry.ServerDescriptor, route protocol.Route, data []byte, session *pb.Session) ([]byte, *pb.Error) {
	if r.transport == nil {
		return nil, &pb.Error{Code: "PIT-CLUSTER", Msg: "TransportDisconnected"}
	}
	rpcType := pb.RPCTypeUser
	if session != nil {
		rpcType = pb.RPCTypeSys
	}
	req := &pb.Request{
		Type:    rpcType,
		Session: session,
		Msg: &pb.Message{
			ID:    r.nextRequestID(),
			Route: route.String(),
			Data:  data,
			Reply: r.inboxSubject(),
		},
	}

	payload := req.Marshal()
	subject := ServerRPCSubject(desc.Kind, desc.ID)

	start := time.Now()
	respBytes, err := r.transport.Request(ctx, subject, payload, r.requestTimeout)
	if r.metrics != nil {
		r.metrics.OutboundLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, transportErrToPB(err)
	}

	resp, err := pb.UnmarshalResponse(respBytes)
	if err != nil {
		return nil, &pb.Error{Code: "PIT-400", Msg: "malformed response: " + err.Error()}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Data, nil
}

// transportErrToPB classifies a transport-level failure. PIT-504 is the
// outbound timeout; everything else is a PIT-CLUSTER condition (§7), never
// PIT-503 ServerBusy, which is reserved for the inbound
// server_max_number_of_rpcs cap enforced by the dispatcher side.
func transportErrToPB(err error) *pb.Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, transport.ErrTimedOut):
		return &pb.Error{Code: "PIT-504", Msg: "request timed out"}
	case errors.Is(err, transport.ErrBackpressure):
		return &pb.Error{Code: "PIT-CLUSTER", Msg: "Backpressure"}
	case errors.Is(err, transport.ErrDisconnected):
		return &pb.Error{Code: "PIT-CLUSTER", Msg: "TransportDisconnected"}
	default:
		return &pb.Error{Code: "PIT-CLUSTER", Msg: "TransportDisconnected", Metadata: map[string]string{"cause": err.Error()}}
	}
}

// Stats exposes the request-id counter for observability/debugging.
func (r *Router) Stats() uint64 { return r.nextID.Load() }
