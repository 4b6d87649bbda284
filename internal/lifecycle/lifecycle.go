// Package lifecycle implements the Lifecycle Controller: ordered start-up,
// signal-or-explicit-triggered graceful shutdown, and a readiness gate.
// Grounded on the teacher's startFuncs/waitForShutdown shape in
// pilot/pkg/bootstrap/server.go: ordered start-up functions run
// synchronously, shutdown races a drain timer against completion the same
// way waitForShutdown races s.shutdownDuration against GracefulStop.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap/zapcore"

	"github.com/topfreegames/pitaya-cluster-core/internal/discovery"
	"github.com/topfreegames/pitaya-cluster-core/internal/logging"
	"github.com/topfreegames/pitaya-cluster-core/internal/transport"
)

var log = logging.RegisterScope("lifecycle", "start-up and shutdown orchestration", zapcore.InfoLevel)

// Controller orchestrates: Transport.connect -> Discovery.start ->
// Dispatcher.subscribe -> ready, and the reverse drain-then-close sequence
// on shutdown.
type Controller struct {
	transport        *transport.Transport
	discoveryAgent   *discovery.Agent
	inboundSub       *transport.Subscription
	shutdownDeadline time.Duration

	mu    sync.Mutex
	ready bool

	shutdownOnce sync.Once
	done         chan struct{}
}

// New builds a Controller with the given total shutdown deadline, budgeted
// across the sequence's steps (drain wait, discovery revoke, transport
// close).
func New(shutdownDeadline time.Duration) *Controller {
	if shutdownDeadline <= 0 {
		shutdownDeadline = 10 * time.Second
	}
	return &Controller{shutdownDeadline: shutdownDeadline, done: make(chan struct{})}
}

// StartupFuncs groups the ordered steps the Controller drives.
type StartupFuncs struct {
	ConnectTransport  func(ctx context.Context) (*transport.Transport, error)
	StartDiscovery    func(ctx context.Context, t *transport.Transport) (*discovery.Agent, error)
	SubscribeDispatch func(ctx context.Context, t *transport.Transport) (*transport.Subscription, error)
}

// Start runs the ordered start-up sequence. Any failure aborts and unwinds
// what had already succeeded, in reverse order, before returning the error.
func (c *Controller) Start(ctx context.Context, fns StartupFuncs) error {
	t, err := fns.ConnectTransport(ctx)
	if err != nil {
		return err
	}
	c.transport = t

	agent, err := fns.StartDiscovery(ctx, t)
	if err != nil {
		t.Close()
		return err
	}
	c.discoveryAgent = agent

	sub, err := fns.SubscribeDispatch(ctx, t)
	if err != nil {
		_ = agent.Stop(ctx)
		t.Close()
		return err
	}
	c.inboundSub = sub

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	log.Info("lifecycle ready")
	return nil
}

// Ready reports whether start-up has completed successfully.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// InstallSignalHandler arranges for Shutdown to run when the process
// receives a terminate signal.
func (c *Controller) InstallSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		c.Shutdown(context.Background())
	}()
}

// Shutdown runs the shutdown sequence at most once:
//  1. Dispatcher stops accepting new deliveries.
//  2. Wait for in-flight handlers to drain, up to the deadline.
//  3. (No Router step: this sequence does not stop the Router, so outbound
//     sends made during shutdown still go out until the transport closes.)
//  4. Discovery Agent revokes its lease.
//  5. Transport closes.
func (c *Controller) Shutdown(ctx context.Context) error {
	var result error
	c.shutdownOnce.Do(func() {
		result = c.runShutdown(ctx)
		close(c.done)
	})
	return result
}

func (c *Controller) runShutdown(ctx context.Context) error {
	var merr *multierror.Error

	deadline := c.shutdownDeadline
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if c.inboundSub != nil {
		if err := c.inboundSub.Close(drainCtx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	if c.discoveryAgent != nil {
		if err := c.discoveryAgent.Stop(drainCtx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	if c.transport != nil {
		c.transport.Close()
	}

	return merr.ErrorOrNil()
}

// WaitShutdown blocks until the full shutdown sequence completes or ctx is
// done, whichever is sooner, matching wait_shutdown_signal()'s contract.
func (c *Controller) WaitShutdown(ctx context.Context) {
	select {
	case <-c.done:
	case <-ctx.Done():
	}
}
