package inject_test

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
	"github.com/denisvmedia/chaosproxy/proxy/internal/inject"
)

func newExchange(f exchange.Failure) *exchange.Exchange {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "http", Host: "backend:80", Path: "/get"},
	}
	ex := exchange.New(req)
	ex.StatusLine = "HTTP/1.1 200 OK"
	ex.Proto = "HTTP/1.1"
	ex.StatusCode = 200
	ex.Fields = []exchange.HeaderField{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Content-Length", Value: "13"},
	}
	ex.Body = []byte("Hello, world!")
	ex.HasBody = true
	ex.Failure = f
	return ex
}

// emit runs Emit against one end of a pipe and returns everything written
// to the other end.
func emit(t *testing.T, ex *exchange.Exchange, delay time.Duration) ([]byte, bool) {
	t.Helper()

	client, server := net.Pipe()
	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, client)
		close(done)
	}()

	in := inject.New(delay)
	keepAlive, err := in.Emit(server, ex)
	if err != nil {
		t.Fatal(err)
	}
	server.Close()
	<-done
	return buf.Bytes(), keepAlive
}

func TestEmitSuccessIsByteIdentical(t *testing.T) {
	c := qt.New(t)

	got, keepAlive := emit(t, newExchange(exchange.Success), 0)

	want := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		"Hello, world!"
	c.Assert(string(got), qt.Equals, want)
	c.Assert(keepAlive, qt.IsTrue)
}

func TestEmitHTTP500RewritesOnlyStatusLine(t *testing.T) {
	c := qt.New(t)

	got, _ := emit(t, newExchange(exchange.HTTP500), 0)

	want := "HTTP/1.1 500 Internal Server Error\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n" +
		"Hello, world!"
	c.Assert(string(got), qt.Equals, want)
}

func TestEmitHTTP301AddsLocationWhenAbsent(t *testing.T) {
	c := qt.New(t)

	got, _ := emit(t, newExchange(exchange.HTTP301), 0)

	want := "HTTP/1.1 301 Moved Permanently\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 13\r\n" +
		"Location: http://backend:80/get\r\n" +
		"\r\n" +
		"Hello, world!"
	c.Assert(string(got), qt.Equals, want)
}

func TestEmitHTTP301KeepsExistingLocation(t *testing.T) {
	c := qt.New(t)

	ex := newExchange(exchange.HTTP301)
	ex.Fields = append(ex.Fields, exchange.HeaderField{Name: "Location", Value: "http://elsewhere/"})
	got, _ := emit(t, ex, 0)

	c.Assert(bytes.Count(got, []byte("Location:")), qt.Equals, 1)
	c.Assert(bytes.Contains(got, []byte("Location: http://elsewhere/\r\n")), qt.IsTrue)
}

func TestEmitCorruptsPresentContentMD5(t *testing.T) {
	c := qt.New(t)

	ex := newExchange(exchange.CorruptContentMD5)
	ex.Fields = append(ex.Fields, exchange.HeaderField{Name: "Content-MD5", Value: "1B2M2Y8AsgTpgAmY7PhCfg=="})
	got, _ := emit(t, ex, 0)

	c.Assert(bytes.Contains(got, []byte("Content-MD5: AAAAAAAAAAAAAAAAAAAAAA==\r\n")), qt.IsTrue)
	// Status and body stay untouched.
	c.Assert(bytes.HasPrefix(got, []byte("HTTP/1.1 200 OK\r\n")), qt.IsTrue)
	c.Assert(bytes.HasSuffix(got, []byte("Hello, world!")), qt.IsTrue)
}

func TestEmitCorruptContentMD5AddsNothingWhenAbsent(t *testing.T) {
	c := qt.New(t)

	got, _ := emit(t, newExchange(exchange.CorruptContentMD5), 0)
	c.Assert(bytes.Contains(got, []byte("Content-MD5")), qt.IsFalse)
}

func TestEmitPartialDataWritesStrictPrefix(t *testing.T) {
	c := qt.New(t)

	got, keepAlive := emit(t, newExchange(exchange.PartialData), 0)
	c.Assert(keepAlive, qt.IsFalse)

	head := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 13\r\n" +
		"\r\n"
	body := bytes.TrimPrefix(got, []byte(head))
	c.Assert(len(body) > 0, qt.IsTrue)
	c.Assert(len(body) < 13, qt.IsTrue)
	c.Assert(bytes.HasPrefix([]byte("Hello, world!"), body), qt.IsTrue)
}

func TestEmitPartialDataFallsBackOnTinyBody(t *testing.T) {
	c := qt.New(t)

	ex := newExchange(exchange.PartialData)
	ex.Body = nil
	ex.Fields = []exchange.HeaderField{{Name: "Content-Length", Value: "0"}}

	got, keepAlive := emit(t, ex, 0)
	c.Assert(keepAlive, qt.IsFalse)
	// Close happens before any body byte; the head is still well formed.
	c.Assert(string(got), qt.Equals, "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
}

func TestEmitPartialDataChunkedOmitsTerminator(t *testing.T) {
	c := qt.New(t)

	ex := newExchange(exchange.PartialData)
	ex.Chunked = true
	ex.Fields = []exchange.HeaderField{{Name: "Transfer-Encoding", Value: "chunked"}}

	got, _ := emit(t, ex, 0)
	c.Assert(bytes.Contains(got, []byte("6\r\nHello,\r\n")), qt.IsTrue)
	c.Assert(bytes.Contains(got, []byte("0\r\n\r\n")), qt.IsFalse)
}

func TestEmitChunkedSuccessReframesBody(t *testing.T) {
	c := qt.New(t)

	ex := newExchange(exchange.Success)
	ex.Chunked = true
	ex.Fields = []exchange.HeaderField{{Name: "Transfer-Encoding", Value: "chunked"}}

	got, keepAlive := emit(t, ex, 0)
	c.Assert(keepAlive, qt.IsTrue)
	c.Assert(string(got), qt.Equals, "HTTP/1.1 200 OK\r\n"+
		"Transfer-Encoding: chunked\r\n"+
		"\r\n"+
		"d\r\nHello, world!\r\n"+
		"0\r\n\r\n")
}

func TestEmitSlowResponseDelaysUnmodifiedBody(t *testing.T) {
	c := qt.New(t)

	delay := 100 * time.Millisecond
	start := time.Now()
	got, keepAlive := emit(t, newExchange(exchange.SlowResponse), delay)
	elapsed := time.Since(start)

	c.Assert(keepAlive, qt.IsTrue)
	c.Assert(elapsed >= delay, qt.IsTrue)
	c.Assert(bytes.HasSuffix(got, []byte("Hello, world!")), qt.IsTrue)
}

func TestEmitTimeoutWritesNothingUntilDisconnect(t *testing.T) {
	c := qt.New(t)

	client, server := net.Pipe()
	var buf bytes.Buffer
	copied := make(chan struct{})
	go func() {
		_, _ = io.Copy(&buf, client)
		close(copied)
	}()

	in := inject.New(0)
	returned := make(chan struct{})
	go func() {
		_, _ = in.Emit(server, newExchange(exchange.Timeout))
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("Emit returned before the client disconnected")
	case <-time.After(100 * time.Millisecond):
	}

	client.Close()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit did not release after client disconnect")
	}

	server.Close()
	<-copied
	c.Assert(buf.Len(), qt.Equals, 0)
}
