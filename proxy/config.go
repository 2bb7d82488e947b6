package proxy

import "time"

// Config holds the proxy configuration settings.
type Config struct {
	// Addr is the listen address. Port 0 requests an ephemeral port; the
	// bound port is queryable through Proxy.Port after Start.
	Addr string

	// SlowResponseDelay is the pause inserted before the body write for
	// SlowResponse exchanges. It must stay under any client timeout the
	// test intends to keep.
	SlowResponseDelay time.Duration

	// DialTimeout bounds each upstream connection attempt.
	DialTimeout time.Duration

	// Match restricts fault injection to request URLs matching this
	// wildcard pattern. Empty or "*" injects on every request; requests
	// outside the pattern pass through without drawing a failure.
	Match string

	// MaxConns caps concurrently accepted client connections. Zero means
	// unlimited.
	MaxConns int

	// HistorySize bounds the in-memory record of recent exchanges.
	HistorySize int
}

// NewConfig creates a new Config with the given address and defaults for
// the remaining fields.
func NewConfig(addr string) *Config {
	return &Config{
		Addr:              addr,
		SlowResponseDelay: 500 * time.Millisecond,
		DialTimeout:       10 * time.Second,
		HistorySize:       128,
	}
}
