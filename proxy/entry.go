package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/match"
	"go.uber.org/atomic"
	"golang.org/x/net/netutil"

	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
)

// entry owns the listening socket and the per-connection handling flow.
// Each accepted connection advances through parse, upstream capture,
// failure draw and write-back strictly in order; connections progress
// independently of each other.
type entry struct {
	proxy *Proxy
	ln    net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

func newEntry(prx *Proxy) *entry {
	return &entry{
		proxy: prx,
		conns: make(map[net.Conn]struct{}),
	}
}

func (e *entry) listen() error {
	addr := e.proxy.Config.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if e.proxy.Config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, e.proxy.Config.MaxConns)
	}
	e.ln = ln
	return nil
}

func (e *entry) serve() error {
	for {
		c, err := e.ln.Accept()
		if err != nil {
			if e.closed.Load() {
				return nil
			}
			return err
		}
		e.track(c)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.serveConn(c)
		}()
	}
}

func (e *entry) track(c net.Conn) {
	e.mu.Lock()
	e.conns[c] = struct{}{}
	e.mu.Unlock()
	e.proxy.metrics.OpenConnections.Inc()
}

func (e *entry) untrack(c net.Conn) {
	e.mu.Lock()
	delete(e.conns, c)
	e.mu.Unlock()
	e.proxy.metrics.OpenConnections.Dec()
}

// serveConn drives one client connection through as many exchanges as
// keep-alive allows. Any error closes only this connection.
func (e *entry) serveConn(c net.Conn) {
	defer func() {
		e.untrack(c)
		c.Close()
	}()

	logger := slog.Default().With(
		"in", "Proxy.entry.serveConn",
		"client", c.RemoteAddr().String(),
	)

	br := bufio.NewReader(c)
	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			// Client went away or sent garbage. Either way the connection
			// is rejected without contacting the upstream.
			if !errors.Is(err, io.EOF) {
				logger.Debug("rejecting unreadable request", "error", err)
			}
			return
		}
		if !e.handleRequest(c, req, logger) {
			return
		}
	}
}

// handleRequest runs one complete exchange and reports whether the
// connection may serve another.
func (e *entry) handleRequest(c net.Conn, req *http.Request, logger *slog.Logger) bool {
	prx := e.proxy

	ex := exchange.New(req)
	defer req.Body.Close()
	logger = logger.With("id", ex.ID, "method", req.Method, "url", req.URL.String())
	prx.metrics.RequestsTotal.Inc()

	if err := prx.forwarder.Capture(context.Background(), ex); err != nil {
		// A failed upstream exchange closes the connection without a
		// response; it is never dressed up as a valid reply.
		prx.metrics.UpstreamErrors.Inc()
		logErr(logger, err)
		prx.history.add(newRecord(ex, 0))
		return false
	}
	upstreamStatus := ex.StatusCode

	if e.shouldInject(req) {
		f, err := prx.FailureSelector().Next()
		if err != nil {
			prx.fatal(err)
			return false
		}
		ex.Failure = f
		prx.metrics.FailuresInjected.WithLabelValues(f.String()).Inc()
	}
	logger.Debug("failure drawn", "failure", ex.Failure.String(), "upstreamStatus", upstreamStatus)

	keepAlive, err := prx.injector.Emit(c, ex)
	if err != nil {
		logErr(logger, err)
		keepAlive = false
	}

	rec := newRecord(ex, upstreamStatus)
	if ex.Failure != Timeout && err == nil {
		rec.ClientStatus = ex.StatusCode
	}
	prx.history.add(rec)

	if req.Close {
		keepAlive = false
	}
	return keepAlive
}

// shouldInject applies the optional URL scoping pattern. Requests outside
// the pattern pass through as Success without consuming a draw.
func (e *entry) shouldInject(req *http.Request) bool {
	pattern := e.proxy.Config.Match
	if pattern == "" || pattern == "*" {
		return true
	}
	return match.Match(req.URL.String(), pattern)
}

func newRecord(ex *exchange.Exchange, upstreamStatus int) ExchangeRecord {
	return ExchangeRecord{
		ID:             ex.ID.String(),
		Time:           time.Now(),
		Method:         ex.Request.Method,
		URL:            ex.Request.URL.String(),
		Failure:        ex.Failure.String(),
		UpstreamStatus: upstreamStatus,
	}
}

func (e *entry) closeConns() {
	e.mu.Lock()
	for c := range e.conns {
		c.Close()
	}
	e.mu.Unlock()
}

// close force-stops the listener and every in-flight connection, then
// waits for handlers to unwind.
func (e *entry) close() error {
	var err error
	if e.closed.CompareAndSwap(false, true) && e.ln != nil {
		err = e.ln.Close()
	}
	e.closeConns()
	e.wg.Wait()
	return err
}

// shutdown releases the listening socket immediately and lets in-flight
// connections drain until the context deadline, after which they are
// force-closed.
func (e *entry) shutdown(ctx context.Context) error {
	var err error
	if e.closed.CompareAndSwap(false, true) && e.ln != nil {
		err = e.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.closeConns()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
