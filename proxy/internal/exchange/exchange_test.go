package exchange_test

import (
	"net/http"
	"net/url"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
)

func TestFailureNamesRoundTrip(t *testing.T) {
	c := qt.New(t)

	for _, f := range exchange.Failures() {
		parsed, err := exchange.ParseFailure(f.String())
		c.Assert(err, qt.IsNil)
		c.Assert(parsed, qt.Equals, f)
	}
}

func TestParseFailureAcceptsMixedCase(t *testing.T) {
	c := qt.New(t)

	f, err := exchange.ParseFailure(" HTTP_500 ")
	c.Assert(err, qt.IsNil)
	c.Assert(f, qt.Equals, exchange.HTTP500)
}

func TestParseFailureRejectsUnknownName(t *testing.T) {
	c := qt.New(t)

	_, err := exchange.ParseFailure("http_418")
	c.Assert(err, qt.IsNotNil)
}

func newTestExchange(c *qt.C) *exchange.Exchange {
	req := &http.Request{
		Method: http.MethodGet,
		URL:    &url.URL{Scheme: "http", Host: "backend:80", Path: "/get"},
	}
	ex := exchange.New(req)
	c.Assert(ex.ID.String(), qt.Not(qt.Equals), "")
	return ex
}

func TestSetHeaderValueMatchesCaseInsensitively(t *testing.T) {
	c := qt.New(t)

	ex := newTestExchange(c)
	ex.Fields = []exchange.HeaderField{
		{Name: "content-md5", Value: "aaa"},
		{Name: "X-Other", Value: "keep"},
		{Name: "Content-MD5", Value: "bbb"},
	}

	found := ex.SetHeaderValue("Content-Md5", "zzz")
	c.Assert(found, qt.IsTrue)

	// Every matching field is replaced; names and positions are untouched.
	c.Assert(ex.Fields[0], qt.Equals, exchange.HeaderField{Name: "content-md5", Value: "zzz"})
	c.Assert(ex.Fields[1], qt.Equals, exchange.HeaderField{Name: "X-Other", Value: "keep"})
	c.Assert(ex.Fields[2], qt.Equals, exchange.HeaderField{Name: "Content-MD5", Value: "zzz"})
}

func TestSetHeaderValueAddsNothingWhenAbsent(t *testing.T) {
	c := qt.New(t)

	ex := newTestExchange(c)
	ex.Fields = []exchange.HeaderField{{Name: "X-Other", Value: "keep"}}

	found := ex.SetHeaderValue("Content-MD5", "zzz")
	c.Assert(found, qt.IsFalse)
	c.Assert(len(ex.Fields), qt.Equals, 1)
}

func TestHeaderValueReturnsFirstMatch(t *testing.T) {
	c := qt.New(t)

	ex := newTestExchange(c)
	ex.Fields = []exchange.HeaderField{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
	}

	v, ok := ex.HeaderValue("set-cookie")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "a=1")
}
