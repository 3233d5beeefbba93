package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"node-proxy-bridge-go/internal/metrics"
	"node-proxy-bridge-go/internal/model"
	"node-proxy-bridge-go/internal/service"
	"node-proxy-bridge-go/internal/target"
)

// responseHopByHop are upstream response headers never relayed to the
// client. Content-Length is re-derived from how the body is actually
// delivered (exact length when buffered, chunked when streamed).
var responseHopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// ProxyHandler relays forwarded upstream responses back to the client.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is
// optional; pass nil to disable streamed-bytes accounting.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle forwards the request to the target embedded in its path and
// relays the upstream response. Upstream HTTP responses of any status pass
// through unchanged; only connection-level failures and unparseable paths
// produce a synthesized error response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		RawPath:  req.URL.EscapedPath(),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	res := c.Response()
	for key, vals := range resp.Header {
		if relayableHeader(key) {
			res.Header()[key] = vals
		}
	}

	if resp.Buffered {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
		res.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(res, resp.Body); err != nil {
			h.logger.Error("writing buffered response body", "err", err, "path", req.URL.Path)
		}
		return nil
	}

	res.WriteHeader(resp.StatusCode)

	// Stream the upstream body chunk by chunk, flushing after each read so
	// the client sees bytes as they arrive. If the copy fails mid-stream
	// the status code is already on the wire; the connection is simply cut
	// short, which the client observes as a truncated transfer. No error
	// payload is ever injected into the body.
	n, err := io.Copy(&flushWriter{w: res}, resp.Body)
	if h.metrics != nil {
		h.metrics.StreamedBytes.Add(float64(n))
	}
	if err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
			"bytes_relayed", n,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	var parseErr *target.ParseError
	if errors.As(err, &parseErr) {
		h.logger.Warn("unroutable path", "err", err, "path", path)
		return c.String(http.StatusBadRequest, "invalid proxy path: "+parseErr.Msg+"\n")
	}

	h.logger.Error("proxy error", "err", err, "path", path)

	// Forward() only ever returns parse errors or classified upstream
	// errors; anything else is mapped as an unclassified failure.
	var uerr *model.UpstreamError
	if !errors.As(err, &uerr) {
		uerr = &model.UpstreamError{Kind: model.KindOther, Err: err}
	}

	status := http.StatusBadGateway
	if uerr.Kind == model.KindTimeout {
		status = http.StatusGatewayTimeout
	}
	return c.String(status, uerr.Error()+"\n")
}

// relayableHeader reports whether an upstream response header is copied to
// the client.
func relayableHeader(key string) bool {
	for _, hop := range responseHopByHop {
		if strings.EqualFold(key, hop) {
			return false
		}
	}
	return true
}

// flushWriter flushes after every write so streamed chunks are relayed
// with no buffering delay beyond one chunk.
type flushWriter struct {
	w *echo.Response
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.w.Flush()
	}
	return n, err
}
