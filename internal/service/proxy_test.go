package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"node-proxy-bridge-go/internal/config"
	"node-proxy-bridge-go/internal/model"
	"node-proxy-bridge-go/internal/target"
)

// spyForwarder records Do invocations without touching the network.
type spyForwarder struct {
	calls    int
	method   string
	url      string
	host     string
	header   http.Header
	buffered bool
}

func (s *spyForwarder) Do(_ context.Context, method, rawURL, host string, header http.Header, _ io.Reader, buffered bool) (*model.ProxyResponse, error) {
	s.calls++
	s.method = method
	s.url = rawURL
	s.host = host
	s.header = header
	s.buffered = buffered
	return &model.ProxyResponse{
		StatusCode:    http.StatusOK,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader("ok")),
		ContentLength: -1,
	}, nil
}

func newTestService(f Forwarder, scheme string) *ProxyService {
	cfg := &config.Config{}
	cfg.Upstream.DefaultScheme = scheme
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProxyService(f, cfg, logger)
}

func TestForward_RebuildsOutboundRequest(t *testing.T) {
	spy := &spyForwarder{}
	s := newTestService(spy, "http")

	pr := &model.ProxyRequest{
		Ctx:      context.Background(),
		Method:   http.MethodPost,
		RawPath:  "/api.example.com:8443/v1/search",
		RawQuery: "q=rce&limit=10",
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
		Body: io.NopCloser(strings.NewReader(`{"query":"rce"}`)),
	}

	resp, err := s.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if spy.calls != 1 {
		t.Fatalf("forwarder calls = %d, want 1", spy.calls)
	}
	wantURL := "http://api.example.com:8443/v1/search?q=rce&limit=10"
	if spy.url != wantURL {
		t.Errorf("outbound URL = %q, want %q", spy.url, wantURL)
	}
	if spy.host != "api.example.com:8443" {
		t.Errorf("outbound host = %q, want %q", spy.host, "api.example.com:8443")
	}
	if spy.method != http.MethodPost {
		t.Errorf("outbound method = %q, want POST", spy.method)
	}
	if spy.buffered {
		t.Error("buffered = true, want streaming for unmarked path")
	}
}

func TestForward_NoStreamingMarker(t *testing.T) {
	spy := &spyForwarder{}
	s := newTestService(spy, "http")

	pr := &model.ProxyRequest{
		Ctx:     context.Background(),
		Method:  http.MethodGet,
		RawPath: "/proxy-no-streaming/api.example.com/v1/models",
		Header:  http.Header{},
	}

	resp, err := s.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !spy.buffered {
		t.Error("buffered = false, want true for proxy-no-streaming path")
	}
	if strings.Contains(spy.url, "proxy-no-streaming") {
		t.Errorf("marker segment leaked into outbound URL %q", spy.url)
	}
}

func TestForward_ParseFailureSkipsNetwork(t *testing.T) {
	spy := &spyForwarder{}
	s := newTestService(spy, "http")

	for _, path := range []string{"", "/", "/proxy-no-streaming"} {
		pr := &model.ProxyRequest{
			Ctx:     context.Background(),
			Method:  http.MethodGet,
			RawPath: path,
			Header:  http.Header{},
		}
		if _, err := s.Forward(pr); !strings.Contains(err.Error(), "parse proxy path") {
			t.Errorf("Forward(%q) error = %v, want parse error", path, err)
		}
	}

	if spy.calls != 0 {
		t.Errorf("forwarder calls = %d, want 0 for unparseable paths", spy.calls)
	}
}

func TestForward_DefaultSchemeHTTPS(t *testing.T) {
	spy := &spyForwarder{}
	s := newTestService(spy, "https")

	pr := &model.ProxyRequest{
		Ctx:     context.Background(),
		Method:  http.MethodGet,
		RawPath: "/api.example.com/v1",
		Header:  http.Header{},
	}

	resp, err := s.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !strings.HasPrefix(spy.url, "https://") {
		t.Errorf("outbound URL = %q, want https scheme", spy.url)
	}
}

func TestRebuildHeaders(t *testing.T) {
	src := http.Header{
		"Accept":                  {"application/json"},
		"Content-Type":            {"application/json"},
		"Authorization":           {"Bearer token"},
		"X-Custom":                {"kept"},
		"Host":                    {"inbound.example.com"},
		"Content-Length":          {"42"},
		"Connection":              {"keep-alive, X-Dropped-By-Connection"},
		"Keep-Alive":              {"timeout=5"},
		"Proxy-Authorization":     {"Basic xxx"},
		"Te":                      {"trailers"},
		"Transfer-Encoding":       {"chunked"},
		"Upgrade":                 {"h2c"},
		"X-Dropped-By-Connection": {"v"},
	}

	dst := rebuildHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Content-Type forwarded", "Content-Type", 1},
		{"Authorization forwarded", "Authorization", 1},
		{"custom header forwarded", "X-Custom", 1},
		{"Host stripped", "Host", 0},
		{"Content-Length stripped", "Content-Length", 0},
		{"Connection stripped", "Connection", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
		{"Proxy-Authorization stripped", "Proxy-Authorization", 0},
		{"TE stripped", "Te", 0},
		{"Transfer-Encoding stripped", "Transfer-Encoding", 0},
		{"Upgrade stripped", "Upgrade", 0},
		{"Connection-named header stripped", "X-Dropped-By-Connection", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(dst.Values(tt.key)); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	// The inbound header map must be untouched.
	if len(src.Values("Connection")) != 1 {
		t.Error("rebuildHeaders mutated the source headers")
	}
}

func TestBuildOutboundURL(t *testing.T) {
	s := newTestService(&spyForwarder{}, "http")

	tests := []struct {
		name     string
		target   model.ParsedTarget
		rawQuery string
		want     string
	}{
		{
			name:   "root path",
			target: model.ParsedTarget{Host: "api.example.com"},
			want:   "http://api.example.com/",
		},
		{
			name:     "path and query",
			target:   model.ParsedTarget{Host: "api.example.com", Path: "v1/search"},
			rawQuery: "q=a%20b",
			want:     "http://api.example.com/v1/search?q=a%20b",
		},
		{
			name:   "percent-encoded path preserved",
			target: model.ParsedTarget{Host: "api.example.com", Path: "files/a%2Fb"},
			want:   "http://api.example.com/files/a%2Fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.buildOutboundURL(tt.target, tt.rawQuery); got != tt.want {
				t.Errorf("buildOutboundURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestForward_ParseErrorType(t *testing.T) {
	s := newTestService(&spyForwarder{}, "http")

	_, err := s.Forward(&model.ProxyRequest{
		Ctx:     context.Background(),
		Method:  http.MethodGet,
		RawPath: "/",
		Header:  http.Header{},
	})

	var parseErr *target.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Forward() error = %T, want *target.ParseError", err)
	}
	if !errors.Is(err, target.ErrNoTarget) {
		t.Error("Forward() parse error does not wrap target.ErrNoTarget")
	}
}
