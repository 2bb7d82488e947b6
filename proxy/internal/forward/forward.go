// Package forward relays a parsed client request to its origin server and
// captures the complete upstream response into an exchange, preserving the
// raw status line and the order, casing and duplicates of response headers.
package forward

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
)

// UpstreamError marks a failed upstream exchange: connection refused, reset,
// or a malformed response. Callers close the client connection without a
// response rather than forwarding garbage.
type UpstreamError struct {
	Op  string // "dial", "write" or "read"
	Err error
}

func (e *UpstreamError) Error() string {
	return "upstream " + e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Forwarder dials the origin per request, relays the request verbatim and
// reads the full upstream response. It applies no failure rule itself.
type Forwarder struct {
	dialTimeout time.Duration
}

// New creates a Forwarder with the given upstream dial timeout.
func New(dialTimeout time.Duration) *Forwarder {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Forwarder{dialTimeout: dialTimeout}
}

// canonicalAddr returns url.Host but always with a ":port" suffix.
func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Capture forwards ex.Request upstream and fills in the captured response.
// The upstream connection lives for exactly one exchange.
func (fw *Forwarder) Capture(ctx context.Context, ex *exchange.Exchange) error {
	req := ex.Request
	target := req.URL
	if !target.IsAbs() {
		// Origin-form request line; fall back to the Host header.
		target = &url.URL{Scheme: "http", Host: req.Host, Path: req.URL.Path, RawQuery: req.URL.RawQuery}
	}

	addr := canonicalAddr(target)
	dialer := &net.Dialer{Timeout: fw.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &UpstreamError{Op: "dial", Err: err}
	}
	defer conn.Close()

	// Hop-by-hop noise from proxy-aware clients must not reach the origin.
	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")

	// Request.Write emits the origin-form request line from req.URL and
	// relays headers and body with the client's framing.
	if err := req.Write(conn); err != nil {
		return &UpstreamError{Op: "write", Err: err}
	}

	if err := fw.readResponse(bufio.NewReader(conn), ex); err != nil {
		return &UpstreamError{Op: "read", Err: err}
	}
	return nil
}

// readResponse parses the status line and header block by hand so that the
// exact field order and duplicate keys survive, then reads the body
// according to its declared framing.
func (fw *Forwarder) readResponse(br *bufio.Reader, ex *exchange.Exchange) error {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return fmt.Errorf("status line: %w", err)
	}
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return fmt.Errorf("malformed status line %q", line)
	}
	codeStr, _, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 999 {
		return fmt.Errorf("malformed status code in %q", line)
	}

	ex.StatusLine = line
	ex.Proto = proto
	ex.StatusCode = code

	if err := readFields(tp, ex); err != nil {
		return err
	}

	if v, ok := ex.HeaderValue("Connection"); ok && strings.Contains(strings.ToLower(v), "close") {
		ex.UpstreamClose = true
	}

	return fw.readBody(br, ex)
}

func readFields(tp *textproto.Reader, ex *exchange.Exchange) error {
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return fmt.Errorf("header: %w", err)
		}
		if line == "" {
			return nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding: continuation of the previous field.
			if len(ex.Fields) == 0 {
				return fmt.Errorf("continuation without field: %q", line)
			}
			ex.Fields[len(ex.Fields)-1].Value += " " + strings.TrimLeft(line, " \t")
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("malformed header line %q", line)
		}
		ex.Fields = append(ex.Fields, exchange.HeaderField{
			Name:  name,
			Value: strings.TrimLeft(value, " \t"),
		})
	}
}

func (fw *Forwarder) readBody(br *bufio.Reader, ex *exchange.Exchange) error {
	if !responseHasBody(ex) {
		ex.HasBody = false
		return nil
	}
	ex.HasBody = true

	if te, ok := ex.HeaderValue("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		ex.Chunked = true
		body, err := io.ReadAll(httputil.NewChunkedReader(br))
		if err != nil {
			return fmt.Errorf("chunked body: %w", err)
		}
		ex.Body = body
		return nil
	}

	if cl, ok := ex.HeaderValue("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("malformed Content-Length %q", cl)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(br, body); err != nil {
			return fmt.Errorf("body: %w", err)
		}
		ex.Body = body
		return nil
	}

	// No declared framing: the body runs to connection close, and the
	// client connection must be closed the same way after write-back.
	ex.UpstreamClose = true
	body, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("body: %w", err)
	}
	ex.Body = body
	return nil
}

func responseHasBody(ex *exchange.Exchange) bool {
	if ex.Request.Method == http.MethodHead {
		return false
	}
	switch {
	case ex.StatusCode >= 100 && ex.StatusCode < 200:
		return false
	case ex.StatusCode == http.StatusNoContent, ex.StatusCode == http.StatusNotModified:
		return false
	}
	return true
}
