// Package service implements the core forwarding pipeline: resolve the
// target from the path, rebuild the outbound request, and execute it.
package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"node-proxy-bridge-go/internal/config"
	"node-proxy-bridge-go/internal/model"
	"node-proxy-bridge-go/internal/target"
)

// hopByHopHeaders are never copied across a proxy leg (RFC 7230 §6.1).
// Host and Content-Length are not hop-by-hop but are always derived fresh:
// Host from the target, Content-Length from the actual outbound body.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Content-Length",
}

// Forwarder executes a rebuilt outbound request. Implemented by
// *client.Forwarder.
type Forwarder interface {
	Do(ctx context.Context, method, rawURL, host string, header http.Header, body io.Reader, buffered bool) (*model.ProxyResponse, error)
}

// ProxyService rebuilds and forwards inbound requests.
type ProxyService struct {
	forwarder Forwarder
	scheme    string
	logger    *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(f Forwarder, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		forwarder: f,
		scheme:    cfg.Upstream.DefaultScheme,
		logger:    logger.With("component", "proxy_service"),
	}
}

// Forward resolves the target embedded in the request path, rebuilds the
// outbound request, and executes it. A malformed path returns a
// *target.ParseError before any network call; connection-level failures
// surface as *model.UpstreamError. The caller owns the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	t, err := target.Parse(pr.RawPath)
	if err != nil {
		return nil, err
	}

	outURL := s.buildOutboundURL(t, pr.RawQuery)
	header := rebuildHeaders(pr.Header)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target_host", t.Host,
		"target_path", t.Path,
		"streaming_disabled", t.StreamingDisabled,
	)

	return s.forwarder.Do(pr.Ctx, pr.Method, outURL, t.Host, header, pr.Body, t.StreamingDisabled)
}

// buildOutboundURL assembles scheme://host/path?query, leaving the target
// path and query string byte-for-byte as received.
func (s *ProxyService) buildOutboundURL(t model.ParsedTarget, rawQuery string) string {
	var b strings.Builder
	b.WriteString(s.scheme)
	b.WriteString("://")
	b.WriteString(t.Host)
	b.WriteString("/")
	b.WriteString(t.Path)
	if rawQuery != "" {
		b.WriteString("?")
		b.WriteString(rawQuery)
	}
	return b.String()
}

// rebuildHeaders copies all inbound headers except hop-by-hop headers and
// any header named in the Connection header.
func rebuildHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		dst[key] = append([]string(nil), vals...)
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
	// RFC 7230 §6.1: also drop any header the Connection header names.
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	return dst
}
