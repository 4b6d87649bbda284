// Package ffi is the foreign-binding-shaped adapter over the core: opaque
// handles with explicit release and callback-style async operations, the
// one hard-compatibility surface for hosts embedding the core from another
// runtime. It is expressed as a plain Go API (no cgo build in this repo);
// a cgo shim would marshal these same handles across the boundary.
package ffi

import (
	"context"
	"sync"

	"github.com/topfreegames/pitaya-cluster-core/internal/dispatch"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol/pb"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
	"github.com/topfreegames/pitaya-cluster-core/internal/router"
)

// Error mirrors PitayaError: a code/message pair that remains valid until
// Drop is called.
type Error struct {
	Code    string
	Message string
	dropped bool
}

// Drop releases the handle. Safe to call once; a second call is a no-op,
// matching "each has an explicit drop that releases the underlying
// resource exactly once."
func (e *Error) Drop() { e.dropped = true }

func errorFromPB(pe *pb.Error) *Error {
	if pe == nil {
		return nil
	}
	return &Error{Code: pe.Code, Message: pe.Msg}
}

// Rpc mirrors PitayaRpc: one delivered InboundRpc plus its reply slot.
// Respond must be called exactly once; calling it a second time is a no-op
// so a careless host cannot double-reply.
type Rpc struct {
	mu       sync.Mutex
	responded bool
	rpc      dispatch.InboundRPC
	replyCh  chan<- []byte
}

// Route exposes the parsed route the callback was invoked for.
func (r *Rpc) Route() protocol.Route { return r.rpc.Route }

// Data exposes the request payload.
func (r *Rpc) Data() []byte { return r.rpc.Data }

// Respond completes the RPC's reply slot exactly once; a second call is a
// no-op. The first call sends data on the reply channel and blocks until
// the channel accepts it. Respond does not know whether a timeout reply was
// already sent for this RPC.
func (r *Rpc) Respond(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responded {
		return
	}
	r.responded = true
	r.replyCh <- data
}

// ClusterEventKind distinguishes Registry deltas delivered to cluster_cb.
type ClusterEventKind int

const (
	ClusterEventAdded ClusterEventKind = iota
	ClusterEventRemoved
)

// Server mirrors PitayaServer: an owning snapshot of one ServerDescriptor.
type Server struct {
	Descriptor registry.ServerDescriptor
}

// InboundCallback mirrors inbound_cb(userdata, rpc*): invoked for each
// delivered InboundRpc. The callback must eventually call rpc.Respond.
type InboundCallback func(rpc *Rpc)

// ClusterCallback mirrors cluster_cb(userdata, kind, server*).
type ClusterCallback func(kind ClusterEventKind, server *Server)

// SendCallback mirrors the send_rpc callback: (error_or_nil, reply_or_nil).
type SendCallback func(err *Error, reply []byte)

// Pitaya mirrors the opaque Pitaya handle: the facade a host holds for the
// lifetime of one embedded core instance.
type Pitaya struct {
	router *router.Router
}

// NewPitaya wraps a constructed Router behind the FFI-shaped handle. It
// does not start or shut down a core, and nothing in this package connects
// an InboundCallback or ClusterCallback to a dispatch table or a Registry.
func NewPitaya(r *router.Router) *Pitaya {
	return &Pitaya{router: r}
}

// SendRPC mirrors send_rpc: asynchronous, exactly one callback invocation.
func (p *Pitaya) SendRPC(ctx context.Context, serverID, kind, route string, request []byte, cb SendCallback) {
	go func() {
		parsed, err := protocol.ParseRoute(route)
		if err != nil {
			cb(&Error{Code: "PIT-400", Message: err.Error()}, nil)
			return
		}
		data, pbErr := p.router.SendByID(ctx, kind, serverID, parsed, request, nil)
		if pbErr != nil {
			cb(errorFromPB(pbErr), nil)
			return
		}
		cb(nil, data)
	}()
}

// SendPushToUser mirrors send_push_to_user: synchronous, publish-only.
func (p *Pitaya) SendPushToUser(userID string, push []byte) *Error {
	if err := p.router.SendPush(userID, push); err != nil {
		return &Error{Code: "PIT-CLUSTER", Message: err.Error()}
	}
	return nil
}

// SendKick mirrors send_kick: synchronous request/ack.
func (p *Pitaya) SendKick(ctx context.Context, serverID, kind string, kick []byte) *Error {
	return errorFromPB(p.router.SendKick(ctx, kind, serverID, kick))
}

// ServerByID mirrors server_by_id: asynchronous Registry lookup.
func (p *Pitaya) ServerByID(reg *registry.Registry, serverID, kind string, cb func(*Server)) {
	go func() {
		d, err := reg.ByID(kind, serverID)
		if err != nil {
			cb(nil)
			return
		}
		cb(&Server{Descriptor: d})
	}()
}
