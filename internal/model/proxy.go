// Package model defines shared types for the proxy bridge.
package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// ParsedTarget is the destination extracted from an inbound request path.
type ParsedTarget struct {
	// StreamingDisabled is true when the path carried the no-streaming
	// marker segment; the response body is then fully buffered before it
	// is relayed.
	StreamingDisabled bool
	// Host is the upstream authority (host or host:port). Never empty on
	// a successful parse.
	Host string
	// Path is everything after the host segment, percent-encoding
	// preserved verbatim. Empty means the upstream root.
	Path string
}

// ProxyRequest carries an inbound request through the forwarding pipeline.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	RawPath  string // escaped request path, leading slash included
	RawQuery string // original query string, forwarded unchanged
	Header   http.Header
	Body     io.ReadCloser
}

// ProxyResponse is the upstream response handed back to the relay.
// Body ownership transfers to the caller, which must close it.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// ContentLength is the exact body size when Buffered is true,
	// otherwise -1 (unknown until the stream completes).
	ContentLength int64
	// Buffered reports whether the whole body is already in memory.
	Buffered bool
}

// ErrorKind classifies a connection-level forwarding failure.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindDNS
	KindRefused
	KindTimeout
)

// String returns the diagnostic label used in error bodies and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindDNS:
		return "dns resolution failed"
	case KindRefused:
		return "upstream connection refused"
	case KindTimeout:
		return "upstream timed out"
	default:
		return "upstream request failed"
	}
}

// UpstreamError is a connection-level failure of the forwarding leg.
// HTTP responses of any status are never represented as an UpstreamError;
// they pass through as a ProxyResponse.
type UpstreamError struct {
	Kind ErrorKind
	Err  error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
