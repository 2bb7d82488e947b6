// Package control exposes the proxy's runtime control surface over HTTP:
// read and replace the active failure selection, inspect recent exchanges,
// and scrape metrics. It runs beside the proxy on its own port so that the
// proxied traffic itself stays untouched.
package control

import (
	"fmt"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/denisvmedia/chaosproxy/proxy"
)

// Server is the control API server bound to one proxy instance.
type Server struct {
	e   *echo.Echo
	prx *proxy.Proxy
	ln  net.Listener
}

// FailureRequest is the PUT /api/failure body. Exactly one mode is used:
//   - "constant": Failure names the single failure to inject
//   - "sequence": Failures lists draws in order, exhausting fatally
//   - "random": Weights maps failure names to integer weights
type FailureRequest struct {
	Mode     string         `json:"mode"`
	Failure  string         `json:"failure,omitempty"`
	Failures []string       `json:"failures,omitempty"`
	Weights  map[string]int `json:"weights,omitempty"`
}

// FailureResponse describes the active selector.
type FailureResponse struct {
	Selector string `json:"selector"`
}

// New creates a control server for the given proxy.
func New(prx *proxy.Proxy) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	s := &Server{e: e, prx: prx}

	e.GET("/api/failure", s.getFailure)
	e.PUT("/api/failure", s.putFailure)
	e.GET("/api/history", s.getHistory)
	e.GET("/api/history/:id", s.getHistoryRecord)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		prx.Metrics().Registry,
		promhttp.HandlerOpts{},
	)))

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

// Close stops the control server.
func (s *Server) Close() error {
	return s.e.Close()
}

func (s *Server) getFailure(c echo.Context) error {
	return c.JSON(http.StatusOK, FailureResponse{
		Selector: fmt.Sprintf("%v", s.prx.FailureSelector()),
	})
}

func (s *Server) putFailure(c echo.Context) error {
	var req FailureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sel, err := buildSelector(req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.prx.SetFailureSelector(sel)
	return c.JSON(http.StatusOK, FailureResponse{
		Selector: fmt.Sprintf("%v", sel),
	})
}

func buildSelector(req FailureRequest) (proxy.FailureSelector, error) {
	switch req.Mode {
	case "", "constant":
		f, err := proxy.ParseFailure(req.Failure)
		if err != nil {
			return nil, err
		}
		return proxy.Constant(f), nil
	case "sequence":
		if len(req.Failures) == 0 {
			return nil, fmt.Errorf("sequence mode needs at least one failure")
		}
		failures := make([]proxy.Failure, 0, len(req.Failures))
		for _, name := range req.Failures {
			f, err := proxy.ParseFailure(name)
			if err != nil {
				return nil, err
			}
			failures = append(failures, f)
		}
		return proxy.Sequence(failures...), nil
	case "random":
		weights := make(map[proxy.Failure]int, len(req.Weights))
		for name, w := range req.Weights {
			f, err := proxy.ParseFailure(name)
			if err != nil {
				return nil, err
			}
			weights[f] = w
		}
		return proxy.Random(weights)
	default:
		return nil, fmt.Errorf("unknown selector mode %q", req.Mode)
	}
}

func (s *Server) getHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, s.prx.History())
}

func (s *Server) getHistoryRecord(c echo.Context) error {
	rec, ok := s.prx.HistoryRecord(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no such exchange")
	}
	return c.JSON(http.StatusOK, rec)
}
