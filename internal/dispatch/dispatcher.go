// Package dispatch routes incoming requests to partition workers and returns
// their responses to the waiting callers.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/jellydator/ttlcache/v3"

	"mympdgo/internal/api"
	"mympdgo/internal/logging"
	"mympdgo/internal/metrics"
	"mympdgo/internal/partition"
)

// DefaultResponseTTL bounds how long a caller may wait for a response when
// no TTL is configured.
const DefaultResponseTTL = 30 * time.Second

// Incoming is a request as seen at the transport boundary.
type Incoming struct {
	Method     string
	Partition  string
	ConnID     uint64
	ID         uint64
	Params     json.RawMessage
	Privileged bool
	Type       api.RequestType
}

// key correlates a response with its waiter.
type key struct {
	conn uint64
	id   uint64
}

// Dispatcher owns the partition worker table and the correlation table of
// outstanding requests.
type Dispatcher struct {
	logger  logr.Logger
	pending *ttlcache.Cache[key, chan *api.Response]

	mu      sync.RWMutex
	workers map[string]*partition.Worker

	lmu       sync.RWMutex
	listeners map[uint64]func(api.Notification)
	nextL     uint64
}

// New returns a dispatcher. Waiters that get no response within ttl receive a
// Timeout response.
func New(ttl time.Duration, logger logr.Logger) *Dispatcher {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	d := &Dispatcher{
		logger: logger,
		pending: ttlcache.New(
			ttlcache.WithTTL[key, chan *api.Response](ttl),
			ttlcache.WithDisableTouchOnHit[key, chan *api.Response](),
		),
		workers:   make(map[string]*partition.Worker),
		listeners: make(map[uint64]func(api.Notification)),
	}
	d.pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[key, chan *api.Response]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		k := item.Key()
		d.logger.V(logging.DEBUG).Info("Response timed out", "conn", k.conn, "id", k.id)
		resp := &api.Response{ConnID: k.conn, ID: k.id, Err: api.Errorf(api.Timeout, "no response within %s", ttl)}
		select {
		case item.Value() <- resp:
		default:
		}
	})
	return d
}

// Run expires waiters until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	go d.pending.Start()
	<-ctx.Done()
	d.pending.Stop()
	return nil
}

// AddWorker registers w under its partition name.
func (d *Dispatcher) AddWorker(w *partition.Worker) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[w.Name()]; ok {
		return fmt.Errorf("duplicate partition %q", w.Name())
	}
	d.workers[w.Name()] = w
	d.logger.V(logging.VERBOSE).Info("Partition added", "partition", w.Name())
	return nil
}

// RemoveWorker unregisters the worker of name and returns it.
func (d *Dispatcher) RemoveWorker(name string) (*partition.Worker, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.workers[name]
	if ok {
		delete(d.workers, name)
		d.logger.V(logging.VERBOSE).Info("Partition removed", "partition", name)
	}
	return w, ok
}

// Worker returns the worker of name.
func (d *Dispatcher) Worker(name string) (*partition.Worker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.workers[name]
	return w, ok
}

// Partitions returns the names of all registered partitions, sorted.
func (d *Dispatcher) Partitions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.workers))
	for name := range d.workers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch admits in and enqueues it without registering a waiter.
func (d *Dispatcher) Dispatch(in Incoming) error {
	req, w, err := d.admit(in)
	if err != nil {
		return err
	}
	return d.enqueue(w, req)
}

// Submit admits in and enqueues it. When a response is expected the returned
// channel receives it exactly once; the channel is nil otherwise.
func (d *Dispatcher) Submit(in Incoming) (<-chan *api.Response, error) {
	req, w, err := d.admit(in)
	if err != nil {
		return nil, err
	}
	if !req.WantsResponse() {
		return nil, d.enqueue(w, req)
	}

	k := key{conn: req.ConnID, id: req.ID}
	ch := make(chan *api.Response, 1)
	if _, found := d.pending.GetOrSet(k, ch); found {
		err := api.Errorf(api.InvalidParams, "request id %d is already in flight", req.ID)
		metrics.RecordRequest(in.Method, string(err.Code))
		return nil, err
	}
	if err := d.enqueue(w, req); err != nil {
		d.pending.Delete(k)
		return nil, err
	}
	return ch, nil
}

// Call submits in and waits for the response or ctx. It returns a nil
// response for requests that expect none.
func (d *Dispatcher) Call(ctx context.Context, in Incoming) (*api.Response, error) {
	ch, err := d.Submit(in)
	if err != nil || ch == nil {
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		d.pending.Delete(key{conn: in.ConnID, id: in.ID})
		return nil, api.Errorf(api.Timeout, "%s: %v", in.Method, ctx.Err())
	}
}

// Deliver hands resp to its waiter. Responses nobody waits for anymore are
// discarded.
func (d *Dispatcher) Deliver(resp *api.Response) {
	item, ok := d.pending.GetAndDelete(key{conn: resp.ConnID, id: resp.ID})
	if !ok {
		metrics.RecordResponseDiscarded()
		d.logger.V(logging.DEBUG).Info("Discarding response without waiter", "cmd", resp.Cmd.String(), "conn", resp.ConnID, "id", resp.ID)
		return
	}
	select {
	case item.Value() <- resp:
	default:
		metrics.RecordResponseDiscarded()
	}
}

// Subscribe registers fn for all notifications. fn must not block. The
// returned func unsubscribes.
func (d *Dispatcher) Subscribe(fn func(api.Notification)) func() {
	d.lmu.Lock()
	id := d.nextL
	d.nextL++
	d.listeners[id] = fn
	d.lmu.Unlock()
	return func() {
		d.lmu.Lock()
		delete(d.listeners, id)
		d.lmu.Unlock()
	}
}

// Notify fans n out to all subscribers.
func (d *Dispatcher) Notify(n api.Notification) {
	d.lmu.RLock()
	defer d.lmu.RUnlock()
	for _, fn := range d.listeners {
		fn(n)
	}
}

// admit applies the registry checks in order: unknown command, privilege,
// partition.
func (d *Dispatcher) admit(in Incoming) (*api.Request, *partition.Worker, error) {
	cmd, ok := api.Lookup(in.Method)
	if !ok {
		metrics.RecordRequest("unknown", string(api.UnknownCommand))
		return nil, nil, api.Errorf(api.UnknownCommand, "unknown method %q", in.Method)
	}
	if api.IsProtected(cmd) && !in.Privileged {
		metrics.RecordRequest(in.Method, string(api.Forbidden))
		return nil, nil, api.Errorf(api.Forbidden, "%s requires a privileged caller", in.Method)
	}
	part := in.Partition
	if part == "" {
		part = api.DefaultPartition
	}
	w, ok := d.Worker(part)
	if !ok {
		metrics.RecordRequest(in.Method, string(api.UnknownPartition))
		return nil, nil, api.Errorf(api.UnknownPartition, "unknown partition %q", part)
	}
	req, err := api.NewRequest(in.Type, in.ConnID, in.ID, cmd, in.Params, part)
	if err != nil {
		metrics.RecordRequest(in.Method, string(api.CanonicalCode(err)))
		return nil, nil, err
	}
	return req, w, nil
}

func (d *Dispatcher) enqueue(w *partition.Worker, req *api.Request) error {
	if err := w.Enqueue(req); err != nil {
		code := api.CanonicalCode(err)
		if code == api.ResourceExhausted {
			metrics.RecordQueueRejection(w.Name())
		}
		metrics.RecordRequest(req.Cmd.String(), string(code))
		d.logger.V(logging.VERBOSE).Info("Request rejected", "partition", w.Name(), "cmd", req.Cmd.String(), "err", err.Error())
		return err
	}
	return nil
}
