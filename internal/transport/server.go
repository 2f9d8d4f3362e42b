// Package transport exposes the dispatcher over WebSocket and HTTP using
// JSON-RPC 2.0 frames.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mympdgo/internal/api"
	"mympdgo/internal/dispatch"
	"mympdgo/internal/logging"
	"mympdgo/internal/metrics"
)

// frameOverhead is the room a JSON-RPC envelope needs around the params.
const frameOverhead = 4096

// Server is the http front of the dispatcher.
type Server struct {
	d           *dispatch.Dispatcher
	privileged  func(netip.Addr) bool
	callTimeout time.Duration
	logger      logr.Logger

	nextConn atomic.Uint64
	mux      *http.ServeMux
}

// New returns a server. privileged decides from the remote address whether a
// caller may use protected commands.
func New(d *dispatch.Dispatcher, privileged func(netip.Addr) bool, callTimeout time.Duration, logger logr.Logger) *Server {
	if callTimeout <= 0 {
		callTimeout = dispatch.DefaultResponseTTL
	}
	s := &Server{
		d:           d,
		privileged:  privileged,
		callTimeout: callTimeout,
		logger:      logger,
		mux:         http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /ws/{$}", s.serveWS)
	s.mux.HandleFunc("GET /ws/{partition}", s.serveWS)
	s.mux.HandleFunc("POST /api/{$}", s.serveAPI)
	s.mux.HandleFunc("POST /api/{partition}", s.serveAPI)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /healthz", s.serveHealth)
	return s
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.V(logging.DEFAULT).Info("HTTP server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) isPrivileged(r *http.Request) bool {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	return s.privileged(ap.Addr())
}

func partitionOf(r *http.Request) string {
	if p := r.PathValue("partition"); p != "" {
		return p
	}
	return api.DefaultPartition
}

func (s *Server) incoming(req rpcRequest, partition string, connID uint64, privileged bool) (dispatch.Incoming, *api.Error) {
	cmd, ok := api.Lookup(req.Method)
	if !ok || !api.IsPublic(cmd) {
		return dispatch.Incoming{}, api.Errorf(api.UnknownCommand, "unknown method %q", req.Method)
	}
	in := dispatch.Incoming{
		Method:     req.Method,
		Partition:  partition,
		ConnID:     connID,
		Params:     req.Params,
		Privileged: privileged,
	}
	return in, nil
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]string{"partitions": s.d.Partitions()})
}

// serveAPI handles one JSON-RPC request per POST and always answers it.
func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := http.MaxBytesReader(w, r.Body, api.MaxPayloadSize+frameOverhead)
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, errorResponse(nil, api.Errorf(api.ResourceExhausted, "request body too large")))
			return
		}
		writeJSON(w, protocolError(nil, codeParseError, err.Error()))
		return
	}
	req, bad := decodeRequest(raw)
	if bad != nil {
		writeJSON(w, *bad)
		return
	}
	in, aerr := s.incoming(req, partitionOf(r), s.nextConn.Add(1), s.isPrivileged(r))
	if aerr != nil {
		writeJSON(w, errorResponse(req.ID, aerr))
		return
	}
	// the script endpoint always waits for the result
	in.ID = 1
	in.Type = api.RequestTypeScript

	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()
	resp, err := s.d.Call(ctx, in)
	if err != nil {
		writeJSON(w, errorResponse(req.ID, api.AsError(err)))
		return
	}
	writeJSON(w, fromResponse(req.ID, resp))
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// serveWS runs one WebSocket session. Requests are enqueued in the order they
// are read; responses and partition notifications are written as they come.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	partition := partitionOf(r)
	if _, ok := s.d.Worker(partition); !ok {
		http.Error(w, "unknown partition", http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // allow any origin
	})
	if err != nil {
		s.logger.Error(err, "WebSocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(api.MaxPayloadSize + frameOverhead)

	connID := s.nextConn.Add(1)
	privileged := s.isPrivileged(r)
	logger := s.logger.WithValues("conn", connID, "partition", partition)
	// client ids are echoed as sent; the dispatcher sees session sequence
	// numbers, so an id of 0 still gets a response
	var seq uint64
	logger.V(logging.VERBOSE).Info("WebSocket session opened", "remote", r.RemoteAddr, "privileged", privileged)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan []byte, 64)
	send := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			logger.Error(err, "Encoding frame failed")
			return
		}
		select {
		case out <- b:
		case <-ctx.Done():
		}
	}

	unsubscribe := s.d.Subscribe(func(n api.Notification) {
		if n.Partition != partition {
			return
		}
		b, err := encodeNotification(n)
		if err != nil {
			return
		}
		select {
		case out <- b:
		default:
			logger.V(logging.DEBUG).Info("Dropping notification for slow client", "method", n.Method)
		}
	})
	defer unsubscribe()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				logger.V(logging.TRACE).Info("ws send frame", "frame", string(b))
				if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			logger.V(logging.VERBOSE).Info("WebSocket session closed", "reason", err.Error())
			cancel()
			return
		}
		req, bad := decodeRequest(msg)
		if bad != nil {
			send(*bad)
			continue
		}
		in, aerr := s.incoming(req, partition, connID, privileged)
		if aerr != nil {
			send(errorResponse(req.ID, aerr))
			continue
		}
		if req.ID != nil {
			seq++
			in.ID = seq
		}
		ch, err := s.d.Submit(in)
		if err != nil {
			send(errorResponse(req.ID, api.AsError(err)))
			continue
		}
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func(id *uint64) {
			defer wg.Done()
			select {
			case resp := <-ch:
				send(fromResponse(id, resp))
			case <-ctx.Done():
			}
		}(req.ID)
	}
}
