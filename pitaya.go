// Package pitaya is the public facade wiring every internal component into
// one embeddable core instance: the Go-native surface a host program uses
// in place of the foreign-binding handles described in internal/ffi.
package pitaya

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/topfreegames/pitaya-cluster-core/internal/config"
	"github.com/topfreegames/pitaya-cluster-core/internal/discovery"
	"github.com/topfreegames/pitaya-cluster-core/internal/dispatch"
	"github.com/topfreegames/pitaya-cluster-core/internal/lifecycle"
	"github.com/topfreegames/pitaya-cluster-core/internal/logging"
	"github.com/topfreegames/pitaya-cluster-core/internal/metrics"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
	"github.com/topfreegames/pitaya-cluster-core/internal/router"
	"github.com/topfreegames/pitaya-cluster-core/internal/transport"
)

var log = logging.RegisterScope("core", "top-level facade", zapcore.InfoLevel)

// LocalServer is this process's own descriptor, announced to the directory
// at start-up.
type LocalServer = registry.ServerDescriptor

// Core is one embedded Pitaya cluster-core instance.
type Core struct {
	cfg        *config.Config
	reg        *registry.Registry
	table      *dispatch.Table
	dispatcher *dispatch.Dispatcher
	lc         *lifecycle.Controller
	metrics    *metrics.Collectors
	local      LocalServer

	routerMu sync.RWMutex
	router   *router.Router
}

// New builds a Core from cfg and the handler/remote registration table.
// The table must be fully populated before Start, per the one-shot
// registration rule.
func New(cfg *config.Config, local LocalServer, table *dispatch.Table) *Core {
	reg := registry.New(registry.NewFilter(cfg.Discovery.ServerTypeFilters))
	rtr := router.New(reg, nil, cfg.Messaging.RequestTimeout)
	collectors := metrics.NewCollectors(nil)
	rtr.SetMetrics(collectors)
	dispatcher := dispatch.New(table, cfg.Messaging.RequestTimeout)
	dispatcher.SetMetrics(collectors)
	return &Core{
		cfg:        cfg,
		reg:        reg,
		router:     rtr,
		table:      table,
		dispatcher: dispatcher,
		lc:         lifecycle.New(cfg.Messaging.ServerShutdownDeadline),
		metrics:    collectors,
		local:      local,
	}
}

// Registry exposes the read-only directory for Registry.ByID/ByKind/Pick
// lookups from application code (e.g. server_by_id).
func (c *Core) Registry() *registry.Registry { return c.reg }

// Metrics exposes the process's Prometheus collectors so a host program can
// register them (e.g. onto the default registry behind a /metrics handler).
func (c *Core) Metrics() *metrics.Collectors { return c.metrics }

// Router exposes outbound send operations. Before Start completes this
// returns a placeholder bound to no transport; every call made through it
// fails rather than panics.
func (c *Core) Router() *router.Router {
	c.routerMu.RLock()
	defer c.routerMu.RUnlock()
	return c.router
}

func (c *Core) setRouter(r *router.Router) {
	c.routerMu.Lock()
	c.router = r
	c.routerMu.Unlock()
}

// Start runs the ordered start-up sequence: Transport.connect ->
// Discovery.start -> Dispatcher.subscribe -> ready.
func (c *Core) Start(ctx context.Context) error {
	log.Info("starting core", zapField("server_id", c.local.ID), zapField("kind", c.local.Kind))
	err := c.lc.Start(ctx, lifecycle.StartupFuncs{
		ConnectTransport: func(ctx context.Context) (*transport.Transport, error) {
			t, err := transport.Connect(ctx, transport.Options{
				Addr:                    c.cfg.Messaging.Addr,
				ConnectionTimeout:       c.cfg.Messaging.ConnectionTimeout,
				MaxReconnectionAttempts: c.cfg.Messaging.MaxReconnectionAttempts,
				MaxPendingMsgs:          c.cfg.Messaging.MaxPendingMsgs,
				Observer:                c.metrics,
			})
			if err != nil {
				return nil, err
			}
			rtr := router.New(c.reg, t, c.cfg.Messaging.RequestTimeout)
			rtr.SetMetrics(c.metrics)
			c.setRouter(rtr)
			return t, nil
		},
		StartDiscovery: func(ctx context.Context, t *transport.Transport) (*discovery.Agent, error) {
			agent, err := discovery.New(discovery.Options{
				Endpoints:           c.cfg.Discovery.Endpoints,
				Prefix:              c.cfg.Discovery.EtcdPrefix,
				HeartbeatTTLSec:     int64(c.cfg.Discovery.HeartbeatTTLSec),
				MaxNumberOfRetries:  c.cfg.Discovery.MaxNumberOfRetries,
				LogHeartbeat:        c.cfg.Discovery.LogHeartbeat,
				LogServerSync:       c.cfg.Discovery.LogServerSync,
				LogServerDetails:    c.cfg.Discovery.LogServerDetails,
				SyncServersInterval: c.cfg.Discovery.SyncServersInterval,
				OnLeaseLost:         c.metrics.LeaseLostEvents.Inc,
			}, c.reg)
			if err != nil {
				return nil, err
			}
			if err := agent.Start(ctx, c.local); err != nil {
				return nil, err
			}
			return agent, nil
		},
		SubscribeDispatch: func(ctx context.Context, t *transport.Transport) (*transport.Subscription, error) {
			subject := router.ServerRPCSubject(c.local.Kind, c.local.ID)
			workers := c.cfg.Messaging.ServerMaxNumberOfRPCs
			if workers <= 0 {
				workers = 32
			}
			return t.Subscribe(ctx, subject, workers, 0, func(ctx context.Context, data []byte) ([]byte, error) {
				return c.dispatcher.Handle(ctx, data), nil
			}, dispatch.ServerBusyResponse)
		},
	})
	if err != nil {
		log.Error("start-up aborted", zapField("error", err.Error()))
		return err
	}
	log.Info("core ready")
	return nil
}

// Ready reports whether start-up has completed.
func (c *Core) Ready() bool { return c.lc.Ready() }

// Shutdown initiates the graceful shutdown sequence.
func (c *Core) Shutdown(ctx context.Context) error {
	log.Info("shutdown requested")
	return c.lc.Shutdown(ctx)
}

// WaitShutdownSignal installs the platform terminate-signal handler and
// blocks until shutdown fully completes.
func (c *Core) WaitShutdownSignal(ctx context.Context) {
	c.lc.InstallSignalHandler()
	c.lc.WaitShutdown(ctx)
}

func zapField(key, value string) zap.Field { return zap.String(key, value) }
