// Package dispatch implements the Inbound Dispatcher: decoding deliveries,
// resolving a route to a registered handler or remote, enforcing the
// per-RPC wall-clock budget, and guaranteeing exactly one reply per
// delivery. The decode-then-route-then-invoke shape follows the teacher's
// receive/StreamAggregatedResources loop in pilot/pkg/xds/ads.go, adapted
// from one gRPC stream per connection to one callback per NATS delivery.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/topfreegames/pitaya-cluster-core/internal/metrics"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol"
	"github.com/topfreegames/pitaya-cluster-core/internal/protocol/pb"
)

// InboundRPC is the decoded request handed to a handler, plus everything
// needed to reply exactly once.
type InboundRPC struct {
	Route   protocol.Route
	Type    pb.RPCType
	Session *pb.Session
	Data    []byte
}

// Handler processes one InboundRPC and returns reply bytes or a structured
// failure. A panic or returned error both surface as PIT-500; they never
// bring down the worker goroutine (recovered in Dispatcher.invokeWithBudget).
type Handler func(ctx context.Context, rpc InboundRPC) ([]byte, error)

// Table is the one-shot handlers/remotes registration table, keyed by
// "service.method". Populated before Start(); the core never supports
// dynamic re-registration, per the spec's handler-registration rule.
type Table struct {
	handlers map[string]Handler // sys RPCs
	remotes  map[string]Handler // user RPCs
}

// NewTable builds an empty registration table.
func NewTable() *Table {
	return &Table{handlers: map[string]Handler{}, remotes: map[string]Handler{}}
}

// RegisterHandler registers a system-RPC handler under "service.method".
func (t *Table) RegisterHandler(serviceMethod string, h Handler) {
	t.handlers[serviceMethod] = h
}

// RegisterRemote registers a user-RPC handler under "service.method".
func (t *Table) RegisterRemote(serviceMethod string, h Handler) {
	t.remotes[serviceMethod] = h
}

func (t *Table) lookup(rpcType pb.RPCType, serviceMethod string) (Handler, bool) {
	if rpcType == pb.RPCTypeSys {
		h, ok := t.handlers[serviceMethod]
		return h, ok
	}
	h, ok := t.remotes[serviceMethod]
	return h, ok
}

// Dispatcher decodes deliveries and drives them to completion with exactly
// one reply.
type Dispatcher struct {
	table          *Table
	requestTimeout time.Duration
	metrics        *metrics.Collectors
}

// New builds a Dispatcher over table, imposing requestTimeout as the
// per-RPC wall-clock budget measured from delivery to reply.
func New(table *Table, requestTimeout time.Duration) *Dispatcher {
	return &Dispatcher{table: table, requestTimeout: requestTimeout}
}

// SetMetrics attaches the observability hooks; nil-safe when unset, so
// tests and standalone use keep working without a Collectors.
func (d *Dispatcher) SetMetrics(c *metrics.Collectors) { d.metrics = c }

func (d *Dispatcher) recordError(code string) {
	if d.metrics != nil {
		d.metrics.ErrorsByCode.WithLabelValues(code).Inc()
	}
}

// Handle decodes one delivery and returns the marshaled Response bytes to
// send back on the reply subject. It never returns an error: every failure
// mode is encoded into the Response envelope itself, matching the
// "exactly one reply per delivery" invariant.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) []byte {
	req, err := pb.UnmarshalRequest(data)
	if err != nil {
		d.recordError("PIT-400")
		return errorResponse("PIT-400", "malformed request")
	}

	route, err := protocol.ParseRoute(req.Msg.Route)
	if err != nil {
		d.recordError("PIT-400")
		return errorResponse("PIT-400", "malformed route")
	}

	name := route.Service + "." + route.Method
	handler, ok := d.table.lookup(req.Type, name)
	if !ok {
		d.recordError("PIT-404")
		return errorResponse("PIT-404", "remote/handler not found! remote/handler name: "+name)
	}

	rpc := InboundRPC{Route: route, Type: req.Type, Session: req.Session, Data: req.Msg.Data}
	return d.invokeWithBudget(ctx, handler, rpc)
}

func (d *Dispatcher) invokeWithBudget(ctx context.Context, handler Handler, rpc InboundRPC) []byte {
	budget := d.requestTimeout
	if budget <= 0 {
		budget = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	if d.metrics != nil {
		d.metrics.InFlightRPCs.Inc()
		defer d.metrics.InFlightRPCs.Dec()
	}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: errFromPanic(p)}
			}
		}()
		reply, err := handler(callCtx, rpc)
		done <- result{data: reply, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			d.recordError("PIT-500")
			return errorResponse("PIT-500", r.err.Error())
		}
		return (&pb.Response{Data: r.data}).Marshal()
	case <-callCtx.Done():
		// Budget expired; the handler's eventual reply (if any) is
		// discarded by nobody ever reading from done again.
		d.recordError("PIT-504")
		return errorResponse("PIT-504", "handler exceeded request budget")
	}
}

func errFromPanic(p interface{}) error {
	if err, ok := p.(error); ok {
		return err
	}
	return &panicError{p}
}

type panicError struct{ v interface{} }

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.v) }

func errorResponse(code, msg string) []byte {
	return (&pb.Response{Error: &pb.Error{Code: code, Msg: msg}}).Marshal()
}

// ServerBusyResponse builds the PIT-503 envelope for deliveries rejected at
// the transport's worker-pool queue cap (server_max_number_of_rpcs), the
// primary inbound backpressure mechanism.
func ServerBusyResponse() []byte {
	return errorResponse("PIT-503", "server busy")
}
