// Package proxy implements a fault-injecting HTTP forward proxy.
//
// The proxy accepts client connections, relays each request to its origin
// server, captures the complete upstream response, draws one failure from
// the active selector and writes the (possibly faulted) response back with
// byte-level control over framing and timing. In the success case it is
// indistinguishable from a transparent proxy; in every other case exactly
// the documented deviation is introduced and nothing else.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/denisvmedia/chaosproxy/proxy/internal/forward"
	"github.com/denisvmedia/chaosproxy/proxy/internal/inject"
)

// Proxy is a fault-injecting HTTP forward proxy.
type Proxy struct {
	Config  *Config
	Version string

	entry     *entry
	forwarder *forward.Forwarder
	injector  *inject.Injector
	metrics   *Metrics
	history   *history

	selector  atomic.Pointer[selectorBox]
	fatalErr  atomic.Error
	fatalOnce sync.Once
}

// selectorBox wraps the interface value so the active selector can live in
// an atomically swappable pointer, read once per request.
type selectorBox struct {
	sel FailureSelector
}

// NewProxy creates a proxy with the given configuration and initial failure
// selector. A nil selector defaults to constant Success, a transparent
// proxy until SetFailureSelector is called.
func NewProxy(cfg *Config, selector FailureSelector) (*Proxy, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if cfg.SlowResponseDelay <= 0 {
		cfg.SlowResponseDelay = NewConfig("").SlowResponseDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = NewConfig("").DialTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = NewConfig("").HistorySize
	}
	if selector == nil {
		selector = Constant(Success)
	}

	p := &Proxy{
		Config:    cfg,
		Version:   "0.3.1",
		forwarder: forward.New(cfg.DialTimeout),
		injector:  inject.New(cfg.SlowResponseDelay),
		metrics:   newMetrics(),
		history:   newHistory(cfg.HistorySize),
	}
	p.entry = newEntry(p)
	p.SetFailureSelector(selector)

	return p, nil
}

// Start binds the listen address and begins serving connections in the
// background. Bind errors are returned synchronously; after a nil return
// the effective port is available through Port.
func (prx *Proxy) Start() error {
	if err := prx.entry.listen(); err != nil {
		return err
	}
	slog.Info("chaosproxy listening", "addr", prx.Addr().String())
	go func() {
		if err := prx.entry.serve(); err != nil {
			slog.Error("accept loop terminated", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (prx *Proxy) Addr() net.Addr {
	return prx.entry.ln.Addr()
}

// Port returns the effective bound port, useful after binding port 0.
func (prx *Proxy) Port() int {
	return prx.Addr().(*net.TCPAddr).Port
}

// Close immediately stops the proxy: the listening socket is released and
// all in-flight connections, including deliberately stalled ones, are
// force-closed.
func (prx *Proxy) Close() error {
	return prx.entry.close()
}

// Shutdown stops accepting new connections and waits for in-flight
// exchanges to finish until the context deadline, then force-closes the
// rest.
func (prx *Proxy) Shutdown(ctx context.Context) error {
	return prx.entry.shutdown(ctx)
}

// SetFailureSelector atomically replaces the active selector. The swap
// takes effect for every subsequent draw; exchanges that already drew their
// failure are unaffected.
func (prx *Proxy) SetFailureSelector(sel FailureSelector) {
	if sel == nil {
		sel = Constant(Success)
	}
	prx.selector.Store(&selectorBox{sel: sel})
}

// FailureSelector returns the currently active selector.
func (prx *Proxy) FailureSelector() FailureSelector {
	return prx.selector.Load().sel
}

// Err reports the fatal listener-level error that stopped the proxy, if
// any. Connection-local errors never surface here.
func (prx *Proxy) Err() error {
	return prx.fatalErr.Load()
}

// Metrics exposes the proxy's Prometheus collectors.
func (prx *Proxy) Metrics() *Metrics {
	return prx.metrics
}

// History returns the retained exchange records, newest first.
func (prx *Proxy) History() []ExchangeRecord {
	return prx.history.records()
}

// HistoryRecord looks up one retained exchange by its ID.
func (prx *Proxy) HistoryRecord(id string) (ExchangeRecord, bool) {
	return prx.history.record(id)
}

// fatal records a listener-level error and stops the proxy. Used for
// selector exhaustion, which must stop the run rather than silently skew
// the configured sequence.
func (prx *Proxy) fatal(err error) {
	prx.fatalOnce.Do(func() {
		prx.fatalErr.Store(err)
		slog.Error("fatal proxy error, stopping", "error", err)
		// close waits for connection handlers, including the caller.
		go prx.entry.close()
	})
}
