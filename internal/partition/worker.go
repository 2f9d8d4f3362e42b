// Package partition runs one worker per backend partition. A worker owns the
// backend connection of its partition and executes queued requests strictly
// one after the other.
package partition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"mympdgo/internal/api"
	"mympdgo/internal/backend"
	"mympdgo/internal/cache"
	"mympdgo/internal/config"
	"mympdgo/internal/logging"
	"mympdgo/internal/metrics"
	"mympdgo/internal/statestore"
)

// Options wire a worker to its collaborators. Everything except Store,
// Registrar and Levels is required.
type Options struct {
	Name      string
	Address   backend.Address
	Dialer    backend.Dialer
	Shared    *backend.Shared
	Config    *config.Config
	Albums    *cache.AlbumCache
	Stickers  *cache.StickerCache
	Store     *statestore.Store
	Responder Responder
	Registrar Registrar
	Levels    LevelSetter
	Logger    logr.Logger
}

// Worker serves the requests of one partition.
type Worker struct {
	opts   Options
	cfg    config.WorkerConfig
	logger logr.Logger

	queue    chan *api.Request
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the Run goroutine
	addr    backend.Address
	conn    backend.Conn
	permErr error
	lastErr error
	backoff *backoff.ExponentialBackOff
	retry   *time.Timer
	retryC  <-chan time.Time
	jukebox jukebox
}

// New returns a stopped worker. Requests may be enqueued before Run.
func New(opts Options) *Worker {
	cfg := opts.Config.Worker
	addr := opts.Address
	addr.Partition = opts.Name

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectInitial
	b.MaxInterval = cfg.ReconnectMax
	b.Reset()

	w := &Worker{
		opts:    opts,
		cfg:     cfg,
		logger:  opts.Logger.WithValues("partition", opts.Name),
		queue:   make(chan *api.Request, cfg.QueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		addr:    addr,
		backoff: b,
		jukebox: newJukebox(),
	}
	metrics.RecordPartitionState(opts.Name, int(Disconnected))
	return w
}

// Name returns the partition name.
func (w *Worker) Name() string {
	return w.opts.Name
}

// State returns the current connection state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Enqueue pushes req onto the queue. It waits at most the configured queue
// timeout for a free slot and never blocks when that timeout is zero.
func (w *Worker) Enqueue(req *api.Request) error {
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}
	select {
	case w.queue <- req:
		return nil
	default:
	}
	if w.cfg.QueueTimeout <= 0 {
		return ErrQueueFull
	}
	timer := time.NewTimer(w.cfg.QueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- req:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-w.stop:
		return ErrStopped
	}
}

// Stop asks Run to return. It does not wait; use Done.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run connects to the backend and serves the queue until ctx is done or Stop
// is called. Requests left in the queue are answered with UnknownPartition.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	w.logger.V(logging.DEFAULT).Info("Partition worker started", "addr", w.addr.Addr)

	w.loadState(ctx)
	w.connect(ctx)

	keepalive := time.NewTicker(w.keepaliveInterval())
	defer keepalive.Stop()

	for {
		// stop wins over queued requests
		select {
		case <-w.stop:
			w.shutdown(ctx)
			return nil
		default:
		}
		select {
		case <-ctx.Done():
			w.shutdown(ctx)
			return nil
		case <-w.stop:
			w.shutdown(ctx)
			return nil
		case req := <-w.queue:
			w.process(ctx, req)
		case <-w.retryC:
			w.retryC = nil
			w.connect(ctx)
		case <-keepalive.C:
			w.keepalive()
		}
	}
}

func (w *Worker) keepaliveInterval() time.Duration {
	if w.cfg.KeepaliveInterval <= 0 {
		return 30 * time.Second
	}
	return w.cfg.KeepaliveInterval
}

func (w *Worker) shutdown(ctx context.Context) {
	w.saveState(context.WithoutCancel(ctx))
	w.disconnect()
	for {
		select {
		case req := <-w.queue:
			resp := api.NewResponse(req)
			resp.Fail(ErrStopped)
			w.respond(req, resp)
		default:
			w.logger.V(logging.DEFAULT).Info("Partition worker stopped")
			return
		}
	}
}

func (w *Worker) setState(s State) {
	if State(w.state.Swap(int32(s))) != s {
		w.logger.V(logging.VERBOSE).Info("Connection state changed", "state", s.String())
		metrics.RecordPartitionState(w.opts.Name, int(s))
	}
}

func (w *Worker) notify(method string, params any) {
	n := api.Notification{Partition: w.opts.Name, Method: method}
	if params != nil {
		if b, err := json.Marshal(params); err == nil {
			n.Params = b
		}
	}
	w.opts.Responder.Notify(n)
}

// connect runs the handshake: dial, authenticate, select the partition and
// negotiate features. Transient failures schedule a retry, permanent ones are
// kept for the next disconnect-allowed request.
func (w *Worker) connect(ctx context.Context) {
	if w.conn != nil {
		return
	}
	w.cancelRetry()
	w.setState(Connecting)

	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandshakeTimeout)
	conn, err := w.handshake(hctx)
	cancel()

	if err != nil {
		w.setState(Disconnected)
		w.lastErr = err
		if ctx.Err() != nil {
			return
		}
		if backend.IsPermanent(err) {
			w.permErr = err
			w.logger.Error(err, "MPD connection failed permanently, not retrying")
			w.notify(NotifyDisconnected, map[string]string{"error": err.Error()})
			return
		}
		d := w.nextRetry()
		w.logger.V(logging.DEFAULT).Info("MPD connection failed, retrying", "err", err.Error(), "in", d)
		w.scheduleRetry(d)
		return
	}

	w.conn = conn
	w.permErr = nil
	w.lastErr = nil
	w.backoff.Reset()
	w.setState(Connected)
	w.notify(NotifyConnected, nil)
}

type negotiated struct {
	conn backend.Conn
	cmds []string
	err  error
}

// handshake dials and negotiates within ctx. Commands cannot be interrupted,
// so a negotiation that outlives ctx is left to finish and its connection is
// closed on arrival.
func (w *Worker) handshake(ctx context.Context) (backend.Conn, error) {
	ch := make(chan negotiated, 1)
	dialer, addr := w.opts.Dialer, w.addr
	go func() {
		ch <- negotiate(ctx, dialer, addr)
	}()

	var n negotiated
	select {
	case n = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		return nil, fmt.Errorf("handshake %s: %w: %w", w.addr.Addr, backend.ErrTimeout, ctx.Err())
	}
	if n.err != nil {
		if errors.Is(n.err, context.DeadlineExceeded) && !errors.Is(n.err, backend.ErrTimeout) {
			n.err = fmt.Errorf("%w: %w", backend.ErrTimeout, n.err)
		}
		return nil, n.err
	}

	f := w.opts.Shared.SetFeatures(n.cmds)
	if w.addr.Partition != api.DefaultPartition && !f.Has("partition") {
		_ = n.conn.Close()
		return nil, fmt.Errorf("partition %s: %w", w.addr.Partition, backend.ErrUnsupported)
	}
	return n.conn, nil
}

func negotiate(ctx context.Context, dialer backend.Dialer, addr backend.Address) negotiated {
	conn, err := dialer.Dial(ctx, addr)
	if err != nil {
		return negotiated{err: err}
	}
	cmds, err := conn.Commands()
	if err != nil {
		_ = conn.Close()
		return negotiated{err: fmt.Errorf("negotiate features: %w", err)}
	}
	return negotiated{conn: conn, cmds: cmds}
}

// nextRetry returns the next reconnect delay. The randomized backoff may
// overshoot its max interval; the delay never exceeds ReconnectMax.
func (w *Worker) nextRetry() time.Duration {
	d := w.backoff.NextBackOff()
	if d < 0 {
		return w.cfg.ReconnectMax
	}
	return min(d, w.cfg.ReconnectMax)
}

func (w *Worker) scheduleRetry(d time.Duration) {
	w.cancelRetry()
	w.retry = time.NewTimer(d)
	w.retryC = w.retry.C
}

func (w *Worker) cancelRetry() {
	if w.retry != nil {
		w.retry.Stop()
		w.retry = nil
	}
	w.retryC = nil
}

// disconnect closes the connection and cancels pending retries.
func (w *Worker) disconnect() {
	w.cancelRetry()
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
		w.notify(NotifyDisconnected, nil)
	}
	w.setState(Disconnected)
}

// dropConnection handles a connection lost while connected. A reconnect is
// attempted right away; requests queued until then fail fast.
func (w *Worker) dropConnection(err error) {
	if w.conn == nil {
		return
	}
	w.logger.Error(err, "MPD connection lost")
	_ = w.conn.Close()
	w.conn = nil
	w.lastErr = err
	w.setState(Reconnecting)
	w.notify(NotifyDisconnected, map[string]string{"error": err.Error()})
	w.scheduleRetry(0)
}

func (w *Worker) keepalive() {
	if w.conn == nil {
		return
	}
	if err := w.conn.Ping(); err != nil {
		w.dropConnection(err)
	}
}

// backendErr converts a backend failure into a response error and drops the
// connection when it is gone.
func (w *Worker) backendErr(err error) error {
	if err == nil {
		return nil
	}
	if backend.IsConnectionError(err) {
		w.dropConnection(err)
	}
	if errors.Is(err, backend.ErrTimeout) {
		return api.Errorf(api.Timeout, "%v", err)
	}
	return api.Errorf(api.BackendError, "%v", err)
}

func (w *Worker) process(ctx context.Context, req *api.Request) {
	resp := api.NewResponse(req)
	result, err := w.execute(ctx, req)
	if err == nil {
		err = resp.SetResult(result)
	}
	outcome := "ok"
	if err != nil {
		resp.Fail(err)
		outcome = string(resp.Err.Code)
		w.logger.V(logging.DEBUG).Info("Request failed", "cmd", req.Cmd.String(), "id", req.ID, "err", err.Error())
	} else {
		w.logger.V(logging.TRACE).Info("Request done", "cmd", req.Cmd.String(), "id", req.ID)
	}
	metrics.RecordRequest(req.Cmd.String(), outcome)
	w.respond(req, resp)
}

func (w *Worker) respond(req *api.Request, resp *api.Response) {
	if req.WantsResponse() {
		w.opts.Responder.Deliver(resp)
	}
}

func (w *Worker) execute(ctx context.Context, req *api.Request) (any, error) {
	h, ok := handlers[req.Cmd]
	if !ok {
		return nil, api.Errorf(api.UnknownCommand, "%s", req.Cmd)
	}
	if !api.UsableWhileDisconnected(req.Cmd) {
		if w.State() != Connected || w.conn == nil {
			return nil, api.Errorf(api.BackendUnavailable, "partition %s is %s", w.opts.Name, w.State())
		}
		return h(w, ctx, req)
	}
	if w.permErr != nil && !configuresConnection(req.Cmd) {
		err := w.permErr
		w.permErr = nil
		return nil, api.Errorf(api.BackendError, "connection failed: %v", err)
	}
	return h(w, ctx, req)
}

func configuresConnection(cmd api.CmdID) bool {
	switch cmd {
	case api.MYMPD_API_CONNECTION_SAVE, api.INTERNAL_API_CONNECT, api.INTERNAL_API_DISCONNECT:
		return true
	}
	return false
}
