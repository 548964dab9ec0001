// Package server is the HTTP front door: one handler parses
// /{passkey}/{action} and dispatches into a *tracker.Engine, matching
// original_source/margay/worker.py's handler_work routing (status gate,
// then passkey-slot authentication for update/report, then per-action
// dispatch) over chihaya's net/http ServeHTTP/buffer-pool/panic-recovery
// shape (server/server.go's historical net/http generation, not the
// fasthttp generation also present in the retrieved snapshot — see
// DESIGN.md for why net/http was kept as the live front door).
package server

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"privateer/bencenc"
	"privateer/log"
	"privateer/metrics"
	"privateer/store"
	"privateer/tracker"
	"privateer/tracker/params"
	"privateer/util"
)

// failureIntervalSeconds is the interval/min-interval pair every bencoded
// failure response carries, per the source's self.error().
const failureIntervalSeconds = 5400 * time.Second

// Server owns the listener and the in-flight request waitgroup; Stop
// closes the listener and flips terminate so ServeHTTP starts refusing new
// work while Start's Serve call unwinds.
type Server struct {
	Engine *tracker.Engine
	Addr string

	bufferPool *util.BufferPool
	metrics *metrics.Collector

	waitGroup sync.WaitGroup
	listener net.Listener
	httpServer *http.Server
	terminating bool
	mu sync.Mutex
}

// New builds a Server bound to addr (":35000" form), ready for Start.
// bufSize is the initial capacity of each pooled response buffer, matching
// the teacher's util.NewBufferPool call site in spirit (buffers are reused
// rather than allocated per request).
func New(e *tracker.Engine, addr string, bufSize int, m *metrics.Collector) *Server {
	return &Server{
		Engine: e,
		Addr: addr,
		bufferPool: util.NewBufferPool(bufSize),
		metrics: m,
	}
}

// Start binds the listener and serves until Stop is called or the
// listener errors; it blocks until every in-flight request has finished.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/", s)

	if s.metrics != nil {
		registry := prometheus.NewRegistry()
		registry.MustRegister(s.metrics)
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Handler: mux,
		ReadTimeout: 20 * time.Second,
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener

	log.Info.Printf("server: ready and accepting connections on %s", s.Addr)

	err = s.httpServer.Serve(listener)

	s.waitGroup.Wait()

	_ = s.httpServer.Close()

	log.Info.Println("server: now closed and not accepting any new connections")

	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop closes the listener, causing the blocked Serve call in Start to
// return; new requests are rejected from this point on, matching the
// teacher's terminate-then-wait shutdown shape.
func (s *Server) Stop() {
	s.mu.Lock()
	s.terminating = true
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *Server) isTerminating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminating
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isTerminating() {
		return
	}

	s.waitGroup.Add(1)
	defer s.waitGroup.Done()

	defer func() {
		if err := recover(); err != nil {
			log.Error.Printf("server: ServeHTTP panic - %v", err)
			log.WriteStack()
		}
	}()

	s.Engine.Store.Stats.Requests.Add(1)
	s.Engine.Store.Stats.OpenConnections.Add(1)
	defer s.Engine.Store.Stats.OpenConnections.Add(-1)

	buf := s.bufferPool.Take()
	defer s.bufferPool.Give(buf)

	s.respond(r, buf)

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))

	// The response is always 200, even on failure; clients read the
	// bencoded "failure reason" key instead.
	_, _ = w.Write(buf.Bytes())

	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) respond(r *http.Request, buf *bytes.Buffer) {
	if r.URL.Path == "/" {
		buf.WriteString("Nothing to see here.")
		return
	}

	dir, action := path.Split(r.URL.Path)
	if len(dir) != 34 {
		buf.WriteString("Invalid action.")
		return
	}

	if r.URL.RawQuery == "" {
		buf.WriteString("Nothing to see here.")
		return
	}

	switch action {
	case "announce", "scrape", "update", "report":
	default:
		buf.WriteString("Invalid action.")
		return
	}

	if s.Engine.Store.Status() != store.StatusOpen {
		bencenc.Failure(buf, "The tracker is temporarily unavailable.", failureIntervalSeconds)
		return
	}

	passkey := dir[1:33]

	qp, err := params.ParseQuery(r.URL.RawQuery)
	if err != nil {
		bencenc.Failure(buf, "Error parsing query", failureIntervalSeconds)
		return
	}

	if action == "update" || action == "report" {
		if passkey != s.Engine.SitePassword {
			bencenc.Failure(buf, "Authentication failure.", failureIntervalSeconds)
			return
		}
	}

	switch action {
	case "announce":
		s.Engine.Announce(passkey, qp, r.Header, r.RemoteAddr, buf)
	case "scrape":
		s.Engine.Scrape(qp, buf)
	case "update":
		buf.WriteString(s.Engine.Control(qp))
	case "report":
		buf.WriteString(s.Engine.Report(qp))
	}
}

// Shutdown is a context-aware convenience wrapper over Stop, for
// cmd/privateer's signal-driven graceful-then-forceful shutdown.
func (s *Server) Shutdown(ctx context.Context) {
	s.Stop()

	done := make(chan struct{})
	go func() {
		s.waitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}
