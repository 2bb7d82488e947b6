package proxy_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/denisvmedia/chaosproxy/proxy"
)

func TestNewConfigDefaults(t *testing.T) {
	c := qt.New(t)

	cfg := proxy.NewConfig("127.0.0.1:0")
	c.Assert(cfg.Addr, qt.Equals, "127.0.0.1:0")
	c.Assert(cfg.SlowResponseDelay, qt.Equals, 500*time.Millisecond)
	c.Assert(cfg.DialTimeout, qt.Equals, 10*time.Second)
	c.Assert(cfg.HistorySize, qt.Equals, 128)
	c.Assert(cfg.Match, qt.Equals, "")
	c.Assert(cfg.MaxConns, qt.Equals, 0)
}
