// Package inject turns a captured exchange and its drawn failure into the
// exact byte sequence sent to the client. It owns all byte-level and timing
// manipulation: status rewriting, header corruption, body truncation,
// deliberate delays and the indefinite stall.
package inject

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
)

// Injector emits faulted responses onto client connections.
type Injector struct {
	// SlowDelay is the pause inserted between the header block and the body
	// for SlowResponse exchanges.
	SlowDelay time.Duration
}

// New creates an Injector with the given slow-response delay.
func New(slowDelay time.Duration) *Injector {
	if slowDelay <= 0 {
		slowDelay = 500 * time.Millisecond
	}
	return &Injector{SlowDelay: slowDelay}
}

// Emit applies the exchange's failure rule and writes the result to conn.
// It reports whether the connection may serve another request afterwards.
// For Timeout it never writes and blocks until the peer disconnects or the
// connection is closed by the proxy shutting down.
func (in *Injector) Emit(conn net.Conn, ex *exchange.Exchange) (keepAlive bool, err error) {
	logger := slog.Default().With(
		"in", "inject.Emit",
		"id", ex.ID,
		"failure", ex.Failure.String(),
	)

	switch ex.Failure {
	case exchange.Timeout:
		logger.Debug("holding connection, no response will be written")
		hold(conn)
		return false, nil
	case exchange.PartialData:
		return false, in.emitPartial(conn, ex, logger)
	case exchange.SlowResponse:
		if err := writeHead(conn, ex); err != nil {
			return false, err
		}
		logger.Debug("delaying body write", "delay", in.SlowDelay)
		time.Sleep(in.SlowDelay)
		if err := writeBody(conn, ex); err != nil {
			return false, err
		}
		return !ex.UpstreamClose, nil
	default:
		applyRule(ex)
		if err := writeHead(conn, ex); err != nil {
			return false, err
		}
		if err := writeBody(conn, ex); err != nil {
			return false, err
		}
		return !ex.UpstreamClose, nil
	}
}

// applyRule mutates the captured response for the status and header failure
// kinds. Each rule introduces exactly its documented deviation and nothing
// else; Success leaves the capture untouched.
func applyRule(ex *exchange.Exchange) {
	switch ex.Failure {
	case exchange.HTTP500:
		setStatus(ex, http.StatusInternalServerError, "Internal Server Error")
	case exchange.HTTP301:
		setStatus(ex, http.StatusMovedPermanently, "Moved Permanently")
		// A redirect without Location cannot be followed; point it back at
		// the requested URL so the retried request reaches the same origin.
		if _, ok := ex.HeaderValue("Location"); !ok {
			ex.AddHeaderField("Location", ex.Request.URL.String())
		}
	case exchange.CorruptContentMD5:
		// Only corrupt a header the upstream actually sent.
		ex.SetHeaderValue("Content-MD5", exchange.CorruptMD5Value)
	}
}

func setStatus(ex *exchange.Exchange, code int, reason string) {
	ex.StatusCode = code
	ex.StatusLine = fmt.Sprintf("%s %d %s", ex.Proto, code, reason)
}

// writeHead emits the status line and the captured header fields in their
// original order and casing.
func writeHead(w io.Writer, ex *exchange.Exchange) error {
	if _, err := io.WriteString(w, ex.StatusLine+"\r\n"); err != nil {
		return err
	}
	for _, f := range ex.Fields {
		if _, err := io.WriteString(w, f.Name+": "+f.Value+"\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

// writeBody re-emits the buffered body with the upstream's framing.
func writeBody(w io.Writer, ex *exchange.Exchange) error {
	if !ex.HasBody || len(ex.Body) == 0 {
		if ex.Chunked && ex.HasBody {
			// An empty chunked body still needs its terminator.
			_, err := io.WriteString(w, "0\r\n\r\n")
			return err
		}
		return nil
	}
	if ex.Chunked {
		cw := httputil.NewChunkedWriter(w)
		if _, err := cw.Write(ex.Body); err != nil {
			return err
		}
		if err := cw.Close(); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	}
	_, err := w.Write(ex.Body)
	return err
}

// emitPartial writes the head unmodified, then a strict non-empty prefix of
// the body without its terminator, leaving the client mid-read when the
// caller closes the connection. Bodies too short to hold a strict prefix
// (fewer than two bytes) fall back to closing before any body byte.
func (in *Injector) emitPartial(w io.Writer, ex *exchange.Exchange, logger *slog.Logger) error {
	if err := writeHead(w, ex); err != nil {
		return err
	}
	if !ex.HasBody || len(ex.Body) < 2 {
		logger.Debug("body too short to truncate, closing before any body byte")
		return nil
	}
	n := len(ex.Body) / 2
	logger.Debug("truncating body", "total", len(ex.Body), "written", n)
	if ex.Chunked {
		// One well-formed chunk holding the prefix, then silence: no
		// further chunks and no terminating zero-length chunk.
		if _, err := fmt.Fprintf(w, "%x\r\n", n); err != nil {
			return err
		}
		if _, err := w.Write(ex.Body[:n]); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\r\n")
		return err
	}
	_, err := w.Write(ex.Body[:n])
	return err
}

// hold blocks until the peer closes the connection or the proxy force-closes
// it during shutdown. The stall is the product, not a leak: the connection
// is released the moment either side gives up.
func hold(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}
