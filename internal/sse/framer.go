// Package sse rebuilds complete upstream events from arbitrarily split
// response body chunks.
package sse

import (
	"fmt"
	"strings"
)

// Framer turns raw body chunks into complete event payloads.
//
// Feed returns the events completed entirely inside chunk, and separately
// the event (if any) completed by joining chunk's prefix with bytes held
// back from earlier calls. first always precedes events in stream order.
// Returned slices are owned by the caller.
type Framer interface {
	Feed(chunk []byte) (events [][]byte, first []byte)
	// Flush returns whatever is still buffered once the body hit EOF.
	Flush() []byte
	// Done reports whether an end-of-stream marker was seen.
	Done() bool
}

const (
	FramingSSE  = "sse"
	FramingJSON = "json"
)

// New returns a fresh framer for the named framing. Empty means sse.
func New(framing string) (Framer, error) {
	switch strings.ToLower(strings.TrimSpace(framing)) {
	case "", FramingSSE:
		return &Reframer{}, nil
	case FramingJSON:
		return &JSONFramer{}, nil
	default:
		return nil, fmt.Errorf("sse: unknown framing %q", framing)
	}
}
