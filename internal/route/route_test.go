package route

import (
	"testing"

	"node-proxy-bridge-go/internal/config"
)

func newTestSelector(t *testing.T, httpProxy, httpsProxy, noProxy string) *Selector {
	t.Helper()
	cfg := &config.Config{
		Proxy: config.ProxyConfig{
			HTTPProxy:  httpProxy,
			HTTPSProxy: httpsProxy,
			NoProxy:    noProxy,
		},
	}
	s, err := NewSelector(cfg)
	if err != nil {
		t.Fatalf("NewSelector() error = %v", err)
	}
	return s
}

func TestSelect_ProxyChoice(t *testing.T) {
	tests := []struct {
		name       string
		httpProxy  string
		httpsProxy string
		scheme     string
		wantProxy  string // empty means direct
	}{
		{"no proxies configured", "", "", "http", ""},
		{"http scheme uses http proxy", "http://corp:3128", "http://corp-tls:3128", "http", "http://corp:3128"},
		{"https scheme uses https proxy", "http://corp:3128", "http://corp-tls:3128", "https", "http://corp-tls:3128"},
		{"https falls back to http proxy", "http://corp:3128", "", "https", "http://corp:3128"},
		{"http never uses https proxy", "", "http://corp-tls:3128", "http", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSelector(t, tt.httpProxy, tt.httpsProxy, "")
			r := s.Select("api.example.com", tt.scheme)

			if tt.wantProxy == "" {
				if !r.Direct() {
					t.Errorf("Select() = via %v, want direct", r.Proxy)
				}
				return
			}
			if r.Direct() {
				t.Fatalf("Select() = direct, want via %s", tt.wantProxy)
			}
			if got := r.Proxy.String(); got != tt.wantProxy {
				t.Errorf("Select() proxy = %q, want %q", got, tt.wantProxy)
			}
		})
	}
}

func TestSelect_NoProxyBypass(t *testing.T) {
	tests := []struct {
		name       string
		noProxy    string
		targetHost string
		wantDirect bool
	}{
		{"exact match", "example.com", "example.com", true},
		{"exact match is case-insensitive", "Example.COM", "example.com", true},
		{"exact entry does not match subdomain", "example.com", "sub.example.com", false},
		{"leading-dot entry matches subdomain", ".example.com", "sub.example.com", true},
		{"leading-dot entry matches bare domain", ".example.com", "example.com", true},
		{"leading-dot entry requires boundary", ".example.com", "badexample.com", false},
		{"port stripped before matching", "example.com", "example.com:8443", true},
		{"wildcard matches everything", "*", "anything.example.org", true},
		{"list with spaces", "foo.com, example.com ,bar.org", "example.com", true},
		{"no match in list", "foo.com,bar.org", "example.com", false},
		{"empty list never bypasses", "", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSelector(t, "http://corp:3128", "", tt.noProxy)
			r := s.Select(tt.targetHost, "http")
			if r.Direct() != tt.wantDirect {
				t.Errorf("Select(%q) direct = %v, want %v (NO_PROXY=%q)",
					tt.targetHost, r.Direct(), tt.wantDirect, tt.noProxy)
			}
		})
	}
}

func TestSelect_RecomputedPerHost(t *testing.T) {
	s := newTestSelector(t, "http://corp:3128", "", "internal.example.com")

	if r := s.Select("internal.example.com", "http"); !r.Direct() {
		t.Errorf("bypassed host routed via proxy: %v", r.Proxy)
	}
	if r := s.Select("public.example.org", "http"); r.Direct() {
		t.Error("non-bypassed host not routed via proxy")
	}
	// Same host again: decision must be stable, no hidden state.
	if r := s.Select("internal.example.com", "http"); !r.Direct() {
		t.Errorf("second selection differs for same host: %v", r.Proxy)
	}
}

func TestNewSelector_InvalidProxyURL(t *testing.T) {
	cfg := &config.Config{
		Proxy: config.ProxyConfig{HTTPProxy: "http://bad url with spaces"},
	}
	if _, err := NewSelector(cfg); err == nil {
		t.Fatal("NewSelector() expected error for malformed proxy URL, got nil")
	}
}
