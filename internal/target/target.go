// Package target parses the inbound request path into a forwarding target.
//
// The destination is embedded in the path instead of being the connection
// target: /api.example.com/v1/search forwards to api.example.com with path
// /v1/search. A leading /proxy-no-streaming segment disables streaming for
// that request and is dropped before the host is read.
package target

import (
	"errors"
	"fmt"
	"strings"

	"node-proxy-bridge-go/internal/model"
)

// NoStreamingMarker is the path segment that disables response streaming.
const NoStreamingMarker = "proxy-no-streaming"

// ErrNoTarget is returned when no target host can be extracted from a path.
var ErrNoTarget = errors.New("path must contain a target host")

// ParseError reports a malformed inbound path. It wraps ErrNoTarget so
// callers can test with errors.Is without caring about the message.
type ParseError struct {
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse proxy path %q: %s", e.Path, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrNoTarget }

// Parse extracts the forwarding target from an escaped request path.
// The path after the host segment is preserved verbatim, percent-encoding
// included. Parsing is pure: no I/O, same input always yields the same
// target.
//
// A host segment must contain a dot or a colon. Single-label names such
// as "localhost" or short internal names resolved via DNS search domains
// are therefore unreachable through the bridge; address them with an
// explicit port ("localhost:8080") or a fully qualified name.
func Parse(rawPath string) (model.ParsedTarget, error) {
	var t model.ParsedTarget

	path := strings.TrimPrefix(rawPath, "/")
	if path == "" {
		return t, &ParseError{Path: rawPath, Msg: "empty path"}
	}

	seg, rest, _ := strings.Cut(path, "/")
	if seg == NoStreamingMarker {
		t.StreamingDisabled = true
		if rest == "" {
			return t, &ParseError{Path: rawPath, Msg: "nothing after " + NoStreamingMarker + " marker"}
		}
		seg, rest, _ = strings.Cut(rest, "/")
	}

	if seg == "" {
		return t, &ParseError{Path: rawPath, Msg: "empty target host"}
	}
	// A segment with neither a dot nor a colon cannot name a real origin;
	// rejecting it makes typo'd service routes fail fast.
	if !strings.ContainsAny(seg, ".:") {
		return t, &ParseError{Path: rawPath, Msg: fmt.Sprintf("target host %q has no domain or port", seg)}
	}

	t.Host = seg
	t.Path = rest
	return t, nil
}
