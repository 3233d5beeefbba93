// Package route decides, per target host, whether a forwarded request goes
// direct or through the configured corporate proxy.
package route

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"node-proxy-bridge-go/internal/config"
)

// Route is the forwarding route for one request. A nil Proxy means the
// request goes directly to the target.
type Route struct {
	Proxy *url.URL
}

// Direct reports whether the request bypasses the corporate proxy.
func (r Route) Direct() bool { return r.Proxy == nil }

// Selector applies NO_PROXY bypass rules and picks between HTTP_PROXY and
// HTTPS_PROXY. Selection is recomputed per request; the selector itself is
// immutable after construction and safe for concurrent use.
type Selector struct {
	httpProxy  *url.URL
	httpsProxy *url.URL
	noProxy    []string // lowercased entries, leading dots preserved
}

// NewSelector builds a Selector from the corporate proxy configuration.
func NewSelector(cfg *config.Config) (*Selector, error) {
	s := &Selector{}

	var err error
	if cfg.Proxy.HTTPProxy != "" {
		if s.httpProxy, err = url.Parse(cfg.Proxy.HTTPProxy); err != nil {
			return nil, fmt.Errorf("parse HTTP_PROXY: %w", err)
		}
	}
	if cfg.Proxy.HTTPSProxy != "" {
		if s.httpsProxy, err = url.Parse(cfg.Proxy.HTTPSProxy); err != nil {
			return nil, fmt.Errorf("parse HTTPS_PROXY: %w", err)
		}
	}
	for _, entry := range cfg.Proxy.NoProxyHosts() {
		s.noProxy = append(s.noProxy, strings.ToLower(entry))
	}
	return s, nil
}

// Select returns the route for a target host and upstream scheme.
func (s *Selector) Select(targetHost, scheme string) Route {
	if s.bypass(targetHost) {
		return Route{}
	}
	if scheme == "https" && s.httpsProxy != nil {
		return Route{Proxy: s.httpsProxy}
	}
	if s.httpProxy != nil {
		return Route{Proxy: s.httpProxy}
	}
	return Route{}
}

// bypass reports whether the host matches a NO_PROXY entry. Matching is
// case-insensitive on the host portion only (port stripped). A plain entry
// matches that exact host; a leading-dot entry matches the domain and all
// its subdomains; "*" matches everything.
func (s *Selector) bypass(targetHost string) bool {
	host := strings.ToLower(stripPort(targetHost))
	for _, entry := range s.noProxy {
		if entry == "*" {
			return true
		}
		if strings.HasPrefix(entry, ".") {
			if strings.HasSuffix(host, entry) || host == entry[1:] {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

// stripPort drops a trailing :port from host:port, leaving bare hosts and
// bracketed IPv6 literals intact.
func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.Trim(hostport, "[]")
	}
	return host
}
