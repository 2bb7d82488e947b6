package httpbin_test

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	qt "github.com/frankban/quicktest"
	"github.com/klauspost/compress/gzip"

	"github.com/denisvmedia/chaosproxy/httpbin"
)

func newServer(t *testing.T) *httpbin.Server {
	t.Helper()
	s := httpbin.New()
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// rawClient does not advertise gzip, so bodies arrive exactly as served.
var rawClient = &http.Client{
	Transport: &http.Transport{DisableCompression: true},
}

func TestStatusEcho(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	for _, code := range []int{200, 204, 301, 418, 500} {
		res, err := rawClient.Get(s.URL() + "/status/" + strconv.Itoa(code))
		c.Assert(err, qt.IsNil)
		res.Body.Close()
		c.Assert(res.StatusCode, qt.Equals, code)
	}
}

func TestStatusRejectsGarbage(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	res, err := rawClient.Get(s.URL() + "/status/teapot")
	c.Assert(err, qt.IsNil)
	res.Body.Close()
	c.Assert(res.StatusCode, qt.Equals, http.StatusBadRequest)
}

func TestResponseHeadersEchoesQuery(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	res, err := rawClient.Get(s.URL() + "/response-headers?X-First=one&X-Second=two&X-Second=three")
	c.Assert(err, qt.IsNil)
	defer res.Body.Close()

	c.Assert(res.Header.Get("X-First"), qt.Equals, "one")
	c.Assert(res.Header.Values("X-Second"), qt.DeepEquals, []string{"two", "three"})
	body, err := io.ReadAll(res.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, httpbin.HelloBody)
}

func TestPostEchoesBody(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	res, err := rawClient.Post(s.URL()+"/post", "text/plain", strings.NewReader("payload"))
	c.Assert(err, qt.IsNil)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "payload")
	c.Assert(res.Header.Get("Content-Type"), qt.Equals, "text/plain")
}

func TestGzipBodyDecodes(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	res, err := rawClient.Get(s.URL() + "/gzip")
	c.Assert(err, qt.IsNil)
	defer res.Body.Close()

	c.Assert(res.Header.Get("Content-Encoding"), qt.Equals, "gzip")
	zr, err := gzip.NewReader(res.Body)
	c.Assert(err, qt.IsNil)
	body, err := io.ReadAll(zr)
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, httpbin.HelloBody)
}

func TestBrotliBodyDecodes(t *testing.T) {
	c := qt.New(t)
	s := newServer(t)

	res, err := rawClient.Get(s.URL() + "/brotli")
	c.Assert(err, qt.IsNil)
	defer res.Body.Close()

	c.Assert(res.Header.Get("Content-Encoding"), qt.Equals, "br")
	body, err := io.ReadAll(brotli.NewReader(res.Body))
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, httpbin.HelloBody)
}
