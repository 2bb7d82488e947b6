// Package httpbin is a small httpbin-like test backend. It is the upstream
// collaborator for the proxy's test suites: a plain request/response server
// with no fault logic of its own.
package httpbin

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// HelloBody is the fixed body served by the generic handlers.
const HelloBody = "Hello, world!"

// Server is an httpbin-like fixture with the proxy's lifecycle shape:
// bind (port 0 allowed), query the effective port, close.
type Server struct {
	e  *echo.Echo
	ln net.Listener
}

// New creates the fixture with all routes registered.
func New() *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	s := &Server{e: e}

	e.Any("/status/:code", s.status)
	e.GET("/response-headers", s.responseHeaders)
	e.GET("/get", s.hello)
	e.POST("/post", s.echoBody)
	e.PUT("/put", s.echoBody)
	e.GET("/headers", s.headers)
	e.GET("/gzip", s.gzipBody)
	e.GET("/brotli", s.brotliBody)

	return s
}

// Start binds addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		_ = s.e.Server.Serve(ln)
	}()
	return nil
}

// Port returns the effective bound port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// URL returns the base URL of the running fixture.
func (s *Server) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Close stops the server and releases the listening socket.
func (s *Server) Close() error {
	return s.e.Close()
}

// status echoes the requested status code: /status/418 responds 418.
func (*Server) status(c echo.Context) error {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 100 || code > 599 {
		return c.String(http.StatusBadRequest, "invalid status code")
	}
	return c.NoContent(code)
}

// responseHeaders echoes every query parameter as a response header.
func (*Server) responseHeaders(c echo.Context) error {
	h := c.Response().Header()
	for name, values := range c.QueryParams() {
		for _, v := range values {
			h.Add(name, v)
		}
	}
	return c.String(http.StatusOK, HelloBody)
}

func (*Server) hello(c echo.Context) error {
	return c.String(http.StatusOK, HelloBody)
}

// echoBody returns the received request body unchanged.
func (*Server) echoBody(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return c.String(http.StatusOK, HelloBody)
	}
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(http.StatusOK, contentType, body)
}

// headers returns the request headers as JSON.
func (*Server) headers(c echo.Context) error {
	return c.JSON(http.StatusOK, c.Request().Header)
}

func (*Server) gzipBody(c echo.Context) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(HelloBody)); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentEncoding, "gzip")
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, buf.Bytes())
}

func (*Server) brotliBody(c echo.Context) error {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	if _, err := bw.Write([]byte(HelloBody)); err != nil {
		return err
	}
	if err := bw.Close(); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentEncoding, "br")
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, buf.Bytes())
}
