// Package exchange holds the types shared between the proxy's internal
// packages: the failure catalog and the per-request in-flight exchange.
package exchange

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"
	uuid "github.com/satori/go.uuid"
)

// Failure identifies one entry of the failure catalog. Its value alone
// selects the transformation rule applied to a captured upstream response.
type Failure int

const (
	// Success passes the upstream response through unmodified.
	Success Failure = iota
	// HTTP500 overrides the response status with 500.
	HTTP500
	// HTTP301 overrides the response status with 301.
	HTTP301
	// PartialData writes only a strict prefix of the body and closes.
	PartialData
	// SlowResponse delays the body write without changing content.
	SlowResponse
	// Timeout never writes a response and holds the connection open.
	Timeout
	// CorruptContentMD5 replaces a present Content-MD5 header value with a
	// fixed all-zero digest.
	CorruptContentMD5
)

// CorruptMD5Value is the base64 digest written by CorruptContentMD5.
// It decodes to sixteen zero bytes and never matches any real body.
const CorruptMD5Value = "AAAAAAAAAAAAAAAAAAAAAA=="

var failureNames = map[Failure]string{
	Success:           "success",
	HTTP500:           "http_500",
	HTTP301:           "http_301",
	PartialData:       "partial_data",
	SlowResponse:      "slow_response",
	Timeout:           "timeout",
	CorruptContentMD5: "corrupt_response_content_md5",
}

var failuresByName = lo.Invert(failureNames)

func (f Failure) String() string {
	name, ok := failureNames[f]
	if !ok {
		return fmt.Sprintf("failure(%d)", int(f))
	}
	return name
}

// ParseFailure maps a wire name like "http_500" back to its Failure.
func ParseFailure(name string) (Failure, error) {
	f, ok := failuresByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Success, fmt.Errorf("unknown failure %q", name)
	}
	return f, nil
}

// Failures returns the complete catalog in declaration order.
func Failures() []Failure {
	return []Failure{
		Success,
		HTTP500,
		HTTP301,
		PartialData,
		SlowResponse,
		Timeout,
		CorruptContentMD5,
	}
}

// HeaderField is a single response header line. The captured response keeps
// fields as an ordered list so that ordering, casing and duplicate keys
// survive the proxy untouched.
type HeaderField struct {
	Name  string
	Value string
}

// Exchange is the per-request state owned by one connection handler. It is
// created when the client request is parsed, filled by the forwarder with
// the captured upstream response, and dropped once the write-back completes
// or the connection is abandoned.
type Exchange struct {
	ID      uuid.UUID
	Request *http.Request

	// Captured upstream response.
	StatusLine string // raw status line without the trailing CRLF
	Proto      string // e.g. "HTTP/1.1"
	StatusCode int
	Fields     []HeaderField
	Body       []byte

	Chunked       bool // upstream body used chunked transfer coding
	HasBody       bool // false for HEAD and bodiless statuses
	UpstreamClose bool // upstream framing requires closing the client connection

	// Failure drawn for this exchange, set strictly after the upstream
	// response is captured and before any byte is written back.
	Failure Failure
}

// New creates an exchange for a parsed client request.
func New(req *http.Request) *Exchange {
	return &Exchange{
		ID:      uuid.NewV4(),
		Request: req,
		Failure: Success,
	}
}

// HeaderValue returns the value of the first field matching name,
// case-insensitively.
func (ex *Exchange) HeaderValue(name string) (string, bool) {
	for _, f := range ex.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// SetHeaderValue replaces the value of every field matching name, keeping
// position and casing. It reports whether any field matched; no field is
// added when none does.
func (ex *Exchange) SetHeaderValue(name, value string) bool {
	found := false
	for i := range ex.Fields {
		if strings.EqualFold(ex.Fields[i].Name, name) {
			ex.Fields[i].Value = value
			found = true
		}
	}
	return found
}

// AddHeaderField appends a field to the end of the captured header list.
func (ex *Exchange) AddHeaderField(name, value string) {
	ex.Fields = append(ex.Fields, HeaderField{Name: name, Value: value})
}
