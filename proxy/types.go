package proxy

import (
	"github.com/denisvmedia/chaosproxy/proxy/internal/exchange"
)

// Re-export types from internal packages for external use, so that the
// forwarder and injector can share them without import cycles.

type (
	// Failure identifies one entry of the failure catalog.
	Failure = exchange.Failure

	// Exchange is the per-request in-flight state: the parsed client
	// request, the captured upstream response and the drawn failure.
	Exchange = exchange.Exchange

	// HeaderField is one captured response header line.
	HeaderField = exchange.HeaderField
)

// The failure catalog. Each value selects a fixed transformation rule
// applied to an otherwise valid upstream response.
const (
	Success           = exchange.Success
	HTTP500           = exchange.HTTP500
	HTTP301           = exchange.HTTP301
	PartialData       = exchange.PartialData
	SlowResponse      = exchange.SlowResponse
	Timeout           = exchange.Timeout
	CorruptContentMD5 = exchange.CorruptContentMD5
)

// CorruptMD5Value is the fixed digest written by CorruptContentMD5.
const CorruptMD5Value = exchange.CorruptMD5Value

// ParseFailure maps a wire name like "http_500" back to its Failure.
func ParseFailure(name string) (Failure, error) {
	return exchange.ParseFailure(name)
}

// Failures returns the complete catalog in declaration order.
func Failures() []Failure {
	return exchange.Failures()
}
