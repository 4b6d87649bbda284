// Package transport adapts nats.go to the three primitives the RPC Router
// and Inbound Dispatcher need: request/reply, fire-and-forget publish, and
// bounded-concurrency subscription. Connection lifecycle (backoff connect,
// reconnect reporting) follows the teacher's send-with-timeout goroutine
// discipline in pilot/pkg/xds/ads.go, generalized from a single gRPC stream
// to a shared NATS connection.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	// ErrBackpressure is returned by Request when max_pending_msgs
	// outstanding requests are already in flight.
	ErrBackpressure = errors.New("transport: backpressure, too many pending requests")
	// ErrDisconnected is returned by Request while the connection is down.
	ErrDisconnected = errors.New("transport: disconnected")
	// ErrTimedOut is returned by Request when the deadline elapses with
	// no reply.
	ErrTimedOut = errors.New("transport: timed out")
)

// ReconnectObserver receives connection-lifecycle transitions for the
// Lifecycle Controller's metrics.
type ReconnectObserver interface {
	OnDisconnect(err error)
	OnReconnect()
	OnClosed()
}

// Options configures a Transport.
type Options struct {
	Addr                    string
	ConnectionTimeout       time.Duration
	MaxReconnectionAttempts int
	MaxPendingMsgs          int
	Observer                ReconnectObserver
}

// Transport is the pub/sub adapter. The zero value is not usable; build one
// with Connect.
type Transport struct {
	nc      *nats.Conn
	opts    Options
	mu      sync.Mutex
	pending int
}

// Connect dials the bus, retrying with exponential backoff (base 250ms, cap
// 10s) up to MaxReconnectionAttempts (0 = unbounded: attempts never stop).
// ConnectionTimeout bounds each dial attempt, not the total.
func Connect(ctx context.Context, opts Options) (*Transport, error) {
	t := &Transport{opts: opts}

	natsOpts := []nats.Option{
		nats.Timeout(opts.ConnectionTimeout),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(250 * time.Millisecond),
		nats.MaxReconnectWait(10 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if opts.Observer != nil {
				opts.Observer.OnDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if opts.Observer != nil {
				opts.Observer.OnReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if opts.Observer != nil {
				opts.Observer.OnClosed()
			}
		}),
	}
	if opts.MaxReconnectionAttempts > 0 {
		natsOpts = append(natsOpts, nats.MaxReconnects(opts.MaxReconnectionAttempts))
	} else {
		natsOpts = append(natsOpts, nats.MaxReconnects(-1))
	}

	nc, err := nats.Connect(opts.Addr, natsOpts...)
	if err != nil {
		return nil, err
	}
	t.nc = nc
	return t, nil
}

// Request blocks until a single reply arrives on a unique inbox subject or
// deadline expires. Fails fast with ErrDisconnected while the connection is
// down, and with ErrBackpressure once MaxPendingMsgs outstanding requests
// are already in flight.
func (t *Transport) Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error) {
	if !t.nc.IsConnected() {
		return nil, ErrDisconnected
	}
	if !t.reserve() {
		return nil, ErrBackpressure
	}
	defer t.release()

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	msg, err := t.nc.RequestWithContext(reqCtx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimedOut
		}
		return nil, err
	}
	return msg.Data, nil
}

func (t *Transport) reserve() bool {
	if t.opts.MaxPendingMsgs <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending >= t.opts.MaxPendingMsgs {
		return false
	}
	t.pending++
	return true
}

func (t *Transport) release() {
	if t.opts.MaxPendingMsgs <= 0 {
		return
	}
	t.mu.Lock()
	t.pending--
	t.mu.Unlock()
}

// Publish is fire-and-forget.
func (t *Transport) Publish(subject string, payload []byte) error {
	if !t.nc.IsConnected() {
		return ErrDisconnected
	}
	return t.nc.Publish(subject, payload)
}

// Handler processes one delivery and returns the reply bytes to send back
// on msg.Reply (if non-empty). The returned error is ignored by this
// package; only non-nil reply bytes are published. The dispatcher encodes
// its own failures (PIT-500 and the rest) into the reply bytes.
type Handler func(ctx context.Context, data []byte) (reply []byte, err error)

// Subscription is a durable subscription with a bounded worker pool.
type Subscription struct {
	sub  *nats.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// Subscribe opens a durable subscription on subject. Deliveries are handed
// to up to workerPoolSize concurrent invocations of handler; beyond that,
// deliveries queue in the channel up to queueCap. A delivery that finds
// every worker busy and the queue also full does not invoke handler at
// all: onOverflow builds the reply bytes sent back immediately instead
// (the dispatcher's PIT-503 "server busy" envelope). Passing queueCap=0
// makes workerPoolSize the single, exact cap on outstanding work — the
// (workerPoolSize+1)th concurrent delivery overflows.
func (t *Transport) Subscribe(ctx context.Context, subject string, workerPoolSize, queueCap int, handler Handler, onOverflow func() []byte) (*Subscription, error) {
	work := make(chan *nats.Msg, queueCap)
	s := &Subscription{stop: make(chan struct{})}

	sub, err := t.nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case work <- m:
		default:
			if m.Reply != "" && onOverflow != nil {
				_ = t.nc.Publish(m.Reply, onOverflow())
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub

	for i := 0; i < workerPoolSize; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.stop:
					return
				case m := <-work:
					reply, _ := handler(ctx, m.Data)
					if m.Reply == "" || reply == nil {
						continue
					}
					_ = t.nc.Publish(m.Reply, reply)
				}
			}
		}()
	}
	return s, nil
}

// Close unsubscribes and waits for in-flight workers to drain or ctx to be
// done, whichever is sooner.
func (s *Subscription) Close(ctx context.Context) error {
	if err := s.sub.Unsubscribe(); err != nil {
		return err
	}
	close(s.stop)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying connection without draining its
// subscriptions.
func (t *Transport) Close() {
	t.nc.Close()
}
