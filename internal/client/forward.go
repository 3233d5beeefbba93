// Package client provides the pooled HTTP client that executes forwarded
// requests, either directly or through the corporate proxy selected per
// target host.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"node-proxy-bridge-go/internal/config"
	"node-proxy-bridge-go/internal/metrics"
	"node-proxy-bridge-go/internal/model"
	"node-proxy-bridge-go/internal/route"
)

// Forwarder executes outbound requests over a single process-wide
// connection pool. It imposes no timeout of its own: a call blocks until
// the upstream responds, the connection fails, or the request context is
// canceled.
type Forwarder struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewForwarder creates a Forwarder with connection pooling, per-request
// corporate-proxy selection, and TLS settings from the configuration.
// The metrics parameter is optional; pass nil to disable upstream metrics
// recording. The CA bundle, when configured, is loaded exactly once here.
func NewForwarder(cfg *config.Config, sel *route.Selector, logger *slog.Logger, m *metrics.Metrics) (*Forwarder, error) {
	tlsCfg, err := newTLSConfig(&cfg.TLS)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		// The selector is consulted per request so NO_PROXY bypass and
		// the http/https proxy split are honored per target host. The
		// transport pools connections per destination and, for proxied
		// requests, per proxy authority.
		Proxy: func(req *http.Request) (*url.URL, error) {
			return sel.Select(req.URL.Host, req.URL.Scheme).Proxy, nil
		},
		TLSClientConfig:     tlsCfg,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Forwarder{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // transparency: any deadline belongs to the caller
			// 3xx responses pass through untouched; the end client
			// decides whether to follow them.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "forwarder"),
		metrics: m,
	}, nil
}

// newTLSConfig builds the upstream TLS settings. A configured CA bundle
// implies verification against it, regardless of the verify flag.
func newTLSConfig(cfg *config.TLSConfig) (*tls.Config, error) {
	if cfg.CABundle != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s contains no usable certificates", cfg.CABundle)
		}
		return &tls.Config{RootCAs: pool}, nil
	}
	if !cfg.Verify {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // explicit PROXY_VERIFY_SSL=false
	}
	return &tls.Config{}, nil
}

// Do executes an outbound request and returns the upstream response.
// Any well-formed HTTP response, whatever its status code, is a success;
// only connection-level failures return an error, always classified as a
// *model.UpstreamError.
//
// When buffered is true the whole body is read into memory before
// returning, so the relay can send an exact Content-Length. Otherwise the
// body is handed over as a live stream and the caller must close it. The
// context controls the lifetime of the upstream call: when it is canceled
// (client disconnect), the request and any in-flight stream are torn down.
func (f *Forwarder) Do(ctx context.Context, method, rawURL, host string, header http.Header, body io.Reader, buffered bool) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, &model.UpstreamError{Kind: model.KindOther, Err: fmt.Errorf("build upstream request: %w", err)}
	}
	req.Header = header
	req.Host = host

	f.logger.Debug("upstream request",
		"method", method,
		"url", rawURL,
		"buffered", buffered,
	)

	start := time.Now()
	resp, err := f.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	m := metrics.NormalizeMethod(method)

	if err != nil {
		uerr := Classify(err)
		if f.metrics != nil {
			f.metrics.UpstreamDuration.WithLabelValues(m).Observe(duration)
			f.metrics.UpstreamErrors.WithLabelValues(kindLabel(uerr.Kind)).Inc()
		}
		return nil, uerr
	}

	if f.metrics != nil {
		f.metrics.UpstreamDuration.WithLabelValues(m).Observe(duration)
		f.metrics.UpstreamResponses.WithLabelValues(m, strconv.Itoa(resp.StatusCode)).Inc()
	}

	pr := &model.ProxyResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		Body:          resp.Body,
		ContentLength: -1,
	}

	if buffered {
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, Classify(fmt.Errorf("read upstream body: %w", err))
		}
		pr.Body = io.NopCloser(bytes.NewReader(data))
		pr.ContentLength = int64(len(data))
		pr.Buffered = true
	}

	return pr, nil
}

// CloseIdleConnections drains the connection pool; called on shutdown.
func (f *Forwarder) CloseIdleConnections() {
	f.httpClient.CloseIdleConnections()
}

// Classify maps a transport error to an UpstreamError kind. Classification
// happens only here; the relay applies a fixed kind-to-status mapping and
// never re-interprets errors.
func Classify(err error) *model.UpstreamError {
	var uerr *model.UpstreamError
	if errors.As(err, &uerr) {
		return uerr
	}

	kind := model.KindOther

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		kind = model.KindDNS
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		kind = model.KindRefused
	case errors.Is(err, context.DeadlineExceeded):
		kind = model.KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = model.KindTimeout
	}

	// Unwrap url.Error so diagnostics carry the transport message rather
	// than the full URL twice.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	return &model.UpstreamError{Kind: kind, Err: err}
}

func kindLabel(k model.ErrorKind) string {
	switch k {
	case model.KindDNS:
		return "dns"
	case model.KindRefused:
		return "refused"
	case model.KindTimeout:
		return "timeout"
	default:
		return "other"
	}
}
