// Package discovery implements the Discovery Agent: lease-backed membership
// announcement and directory-watch-driven Registry updates against an
// etcd-shaped backend. Retry/backoff follows cenkalti/backoff/v4, the
// teacher's own dependency family; the watch-goroutine-into-channel shape
// mirrors the teacher's receive/StreamAggregatedResources loop in
// pilot/pkg/xds/ads.go, adapted from a gRPC stream to an etcd watch channel.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/topfreegames/pitaya-cluster-core/internal/logging"
	"github.com/topfreegames/pitaya-cluster-core/internal/registry"
)

var log = logging.RegisterScope("discovery", "discovery agent", zapcore.InfoLevel)

func logField(key, value string) zap.Field { return zap.String(key, value) }

// State is the agent's lifecycle state machine position.
type State int32

const (
	StateInit State = iota
	StateStarting
	StateActive
	StateDegraded
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrDiscoveryUnavailable is returned by Start when the lease/list/watch
// setup cannot complete within the retry budget.
type ErrDiscoveryUnavailable struct{ Cause error }

func (e *ErrDiscoveryUnavailable) Error() string {
	return fmt.Sprintf("discovery: unavailable: %v", e.Cause)
}
func (e *ErrDiscoveryUnavailable) Unwrap() error { return e.Cause }

// Options configures an Agent.
type Options struct {
	Endpoints          []string
	Prefix             string
	HeartbeatTTLSec    int64
	MaxNumberOfRetries int
	LogHeartbeat       bool
	LogServerSync      bool
	LogServerDetails   bool

	// SyncServersInterval, if positive, runs a periodic full re-list as a
	// backstop alongside the watch: any directory delta the watch channel
	// missed (a dropped connection that never surfaced a CompactRevision,
	// a key that expired without tripping a clean delete event) is caught
	// here within one interval. Zero disables the backstop.
	SyncServersInterval time.Duration

	// OnLeaseLost, if set, is invoked once per Active->Degraded transition
	// for observability hooks (e.g. a Prometheus counter).
	OnLeaseLost func()
}

// Agent is the Discovery Agent: one LocalServer announcement plus a watch
// over the whole prefix, feeding a Registry.
type Agent struct {
	opts Options
	cli  *clientv3.Client
	reg  *registry.Registry

	mu       sync.RWMutex
	state    State
	leaseID  clientv3.LeaseID
	localKey string
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// lastModRev caches, per "kind/id", the highest ModRevision applied so
	// far, so that an out-of-order event can be dropped unless it strictly
	// supersedes what's already in the Registry.
	lastModRev *lru.Cache
}

// New builds an Agent against the given registry; it does not connect.
func New(opts Options, reg *registry.Registry) (*Agent, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: opts.Endpoints, DialTimeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(4096)
	if err != nil {
		return nil, err
	}
	return &Agent{opts: opts, cli: cli, reg: reg, state: StateInit, lastModRev: cache}, nil
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2
	var bo backoff.BackOff = b
	if a.opts.MaxNumberOfRetries > 0 {
		bo = backoff.WithMaxRetries(b, uint64(a.opts.MaxNumberOfRetries))
	}
	return bo
}

// Start grants a lease, writes the local server key under it, lists the
// current directory into the Registry, and opens a prefix watch resuming
// from the list's revision. Fails with ErrDiscoveryUnavailable if either
// step exhausts the retry budget.
func (a *Agent) Start(ctx context.Context, local registry.ServerDescriptor) error {
	a.setState(StateStarting)

	var leaseID clientv3.LeaseID
	err := backoff.Retry(func() error {
		lease, err := a.cli.Grant(ctx, a.opts.HeartbeatTTLSec)
		if err != nil {
			return err
		}
		leaseID = lease.ID
		return nil
	}, a.retryBackoff())
	if err != nil {
		return &ErrDiscoveryUnavailable{Cause: err}
	}
	a.mu.Lock()
	a.leaseID = leaseID
	a.mu.Unlock()

	key := a.keyFor(local.Kind, local.ID)
	val, err := json.Marshal(descriptorJSON(local))
	if err != nil {
		return &ErrDiscoveryUnavailable{Cause: err}
	}
	err = backoff.Retry(func() error {
		_, err := a.cli.Put(ctx, key, string(val), clientv3.WithLease(leaseID))
		return err
	}, a.retryBackoff())
	if err != nil {
		return &ErrDiscoveryUnavailable{Cause: err}
	}
	a.localKey = key

	rev, err := a.listInto(ctx)
	if err != nil {
		return &ErrDiscoveryUnavailable{Cause: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(3)
	go a.keepaliveLoop(runCtx, leaseID)
	go a.watchLoop(runCtx, rev)
	go a.resyncLoop(runCtx)

	a.setState(StateActive)
	return nil
}

func (a *Agent) keyFor(kind, id string) string {
	return strings.TrimRight(a.opts.Prefix, "/") + "/" + kind + "/" + id
}

type descriptorPayload struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Hostname string `json:"hostname"`
	Frontend bool   `json:"frontend"`
	Metadata string `json:"metadata"`
}

func descriptorJSON(d registry.ServerDescriptor) descriptorPayload {
	return descriptorPayload{ID: d.ID, Kind: d.Kind, Hostname: d.Hostname, Frontend: d.Frontend, Metadata: d.Metadata}
}

func (d descriptorPayload) toDescriptor() registry.ServerDescriptor {
	return registry.ServerDescriptor{ID: d.ID, Kind: d.Kind, Hostname: d.Hostname, Frontend: d.Frontend, Metadata: d.Metadata}
}

// listInto performs the initial full list and returns the revision to
// resume the watch from.
func (a *Agent) listInto(ctx context.Context) (int64, error) {
	var resp *clientv3.GetResponse
	err := backoff.Retry(func() error {
		r, err := a.cli.Get(ctx, a.opts.Prefix, clientv3.WithPrefix())
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, a.retryBackoff())
	if err != nil {
		return 0, err
	}
	for _, kv := range resp.Kvs {
		if !a.supersedes(string(kv.Key), kv.ModRevision) {
			continue
		}
		var p descriptorPayload
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			continue
		}
		a.reg.Put(p.toDescriptor())
		if a.opts.LogServerSync {
			log.Info("initial list applied", logField("kind", p.Kind), logField("id", p.ID))
		}
	}
	return resp.Header.Revision, nil
}

// resyncLoop re-lists the whole prefix at SyncServersInterval, reconciling
// anything the watch may have missed. A no-op when the interval is unset.
func (a *Agent) resyncLoop(ctx context.Context) {
	defer a.wg.Done()
	if a.opts.SyncServersInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.opts.SyncServersInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.resync(ctx)
		}
	}
}

// resync re-lists the prefix and applies every entry through the same
// supersedes gate as the watch, then deletes any Registry entry this
// Agent previously applied that the fresh list no longer contains — the
// backstop for a delete the watch channel never delivered.
func (a *Agent) resync(ctx context.Context) {
	resp, err := a.cli.Get(ctx, a.opts.Prefix, clientv3.WithPrefix())
	if err != nil {
		log.Warn("periodic resync failed", logField("error", err.Error()))
		return
	}

	seen := make(map[string]struct{}, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		seen[key] = struct{}{}
		if !a.supersedes(key, kv.ModRevision) {
			continue
		}
		var p descriptorPayload
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			continue
		}
		a.reg.Put(p.toDescriptor())
	}

	prefix := strings.TrimRight(a.opts.Prefix, "/")
	for _, k := range a.lastModRev.Keys() {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		kind, id, ok := splitKey(prefix, key)
		if !ok {
			continue
		}
		a.reg.Delete(kind, id)
		a.lastModRev.Remove(key)
		if a.opts.LogServerSync {
			log.Info("server removed via resync", logField("kind", kind), logField("id", id))
		}
	}
}

// keepaliveLoop refreshes the lease at interval ttl/3; on exhausting the
// retry budget it emits a LeaseLost transition to Degraded and keeps
// trying to re-establish the lease without tearing down the watch.
func (a *Agent) keepaliveLoop(ctx context.Context, leaseID clientv3.LeaseID) {
	defer a.wg.Done()
	interval := time.Duration(a.opts.HeartbeatTTLSec) * time.Second / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := backoff.Retry(func() error {
				_, err := a.cli.KeepAliveOnce(ctx, leaseID)
				return err
			}, backoff.WithContext(a.retryBackoff(), ctx))
			if err != nil {
				if a.State() == StateActive {
					log.Warn("lease lost, degrading", logField("error", err.Error()))
					if a.opts.OnLeaseLost != nil {
						a.opts.OnLeaseLost()
					}
				}
				a.setState(StateDegraded)
				continue
			}
			if a.State() == StateDegraded {
				log.Info("lease re-established, resuming active")
			}
			a.setState(StateActive)
			if a.opts.LogHeartbeat {
				log.Info("lease refreshed")
			}
		}
	}
}

// watchLoop translates directory deltas into Registry mutations from
// revision rev forward. put -> Registry.Put, delete/expire -> Registry.Delete.
func (a *Agent) watchLoop(ctx context.Context, rev int64) {
	defer a.wg.Done()
	watchCh := a.cli.Watch(ctx, a.opts.Prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for {
		select {
		case <-ctx.Done():
			return
		case wresp, ok := <-watchCh:
			if !ok {
				return
			}
			if wresp.CompactRevision != 0 {
				// Compacted: re-list and reconcile rather than assume
				// continuity, per the watch-resumption requirement.
				newRev, err := a.listInto(ctx)
				if err != nil {
					log.Error("re-list after compaction failed", logField("error", err.Error()))
					continue
				}
				watchCh = a.cli.Watch(ctx, a.opts.Prefix, clientv3.WithPrefix(), clientv3.WithRev(newRev+1))
				continue
			}
			for _, ev := range wresp.Events {
				a.applyEvent(ev)
			}
		}
	}
}

func (a *Agent) applyEvent(ev *clientv3.Event) {
	key := string(ev.Kv.Key)
	if !a.supersedes(key, ev.Kv.ModRevision) {
		return
	}

	switch ev.Type {
	case clientv3.EventTypePut:
		var p descriptorPayload
		if err := json.Unmarshal(ev.Kv.Value, &p); err != nil {
			return
		}
		a.reg.Put(p.toDescriptor())
		if a.opts.LogServerSync {
			fields := []zap.Field{logField("kind", p.Kind), logField("id", p.ID)}
			if a.opts.LogServerDetails {
				fields = append(fields, logField("hostname", p.Hostname))
			}
			log.Info("server added", fields...)
		}
	case clientv3.EventTypeDelete:
		kind, id, ok := splitKey(strings.TrimRight(a.opts.Prefix, "/"), key)
		if !ok {
			return
		}
		a.reg.Delete(kind, id)
		if a.opts.LogServerSync {
			log.Info("server removed", logField("kind", kind), logField("id", id))
		}
	}
}

// supersedes reports whether modRev is newer than the last applied
// revision for key, updating the cache if so. Out-of-order events
// (possible after a watch channel hiccup) are dropped unless they
// strictly supersede what's already been applied.
func (a *Agent) supersedes(key string, modRev int64) bool {
	if prev, ok := a.lastModRev.Get(key); ok && prev.(int64) >= modRev {
		return false
	}
	a.lastModRev.Add(key, modRev)
	return true
}

func splitKey(prefix, key string) (kind, id string, ok bool) {
	rest := strings.TrimPrefix(key, prefix+"/")
	if rest == key {
		return "", "", false
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Stop revokes the lease (best-effort) and closes the watch.
func (a *Agent) Stop(ctx context.Context) error {
	a.setState(StateStopping)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.mu.RLock()
	leaseID := a.leaseID
	a.mu.RUnlock()
	var err error
	if leaseID != 0 {
		_, err = a.cli.Revoke(ctx, leaseID)
	}
	_ = a.cli.Close()
	a.setState(StateStopped)
	return err
}
