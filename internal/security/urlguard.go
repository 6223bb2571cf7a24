package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

var ErrUnsafeURL = errors.New("unsafe outbound url")

// Resolver is the subset of *net.Resolver used by URLGuard.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedPrefixes = mustPrefixes(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
	"64:ff9b::/96",
	"64:ff9b:1::/48",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"2002::/16",
	"fec0::/10",
)

func mustPrefixes(items ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(items))
	for _, item := range items {
		out = append(out, netip.MustParsePrefix(item))
	}
	return out
}

// IsBlockedAddr reports whether addr is private, loopback, link-local,
// multicast, unspecified or otherwise reserved.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() {
		return true
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// URLGuard decides whether a webhook URL may be called.
type URLGuard struct {
	Allowlist Allowlist
	Resolver  Resolver
	Limits    Limits
}

func NewURLGuard(allowlist Allowlist, resolver Resolver, limits Limits) *URLGuard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &URLGuard{Allowlist: allowlist, Resolver: resolver, Limits: limits}
}

// Check parses raw and returns it when the scheme is http(s), the host passes
// the allowlist and every resolved address is public. DNS failures are unsafe.
func (g *URLGuard) Check(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrUnsafeURL, u.Scheme)
	}
	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrUnsafeURL)
	}
	host := normalizeHost(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if !g.Allowlist.AllowsHost(host) {
		return nil, fmt.Errorf("%w: host %q not in allowlist", ErrUnsafeURL, host)
	}
	if _, err := g.resolvePublic(ctx, host); err != nil {
		return nil, err
	}
	return u, nil
}

// IsSafe is Check reduced to a boolean.
func (g *URLGuard) IsSafe(ctx context.Context, raw string) bool {
	_, err := g.Check(ctx, raw)
	return err == nil
}

// resolvePublic returns the host's addresses, failing if any one is blocked.
func (g *URLGuard) resolvePublic(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return nil, fmt.Errorf("%w: address %s is not public", ErrUnsafeURL, addr)
		}
		return []netip.Addr{addr}, nil
	}
	timeout := g.Limits.ResolveTimeout
	if timeout <= 0 {
		timeout = DefaultLimits().ResolveTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	addrs, err := g.Resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrUnsafeURL, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s has no addresses", ErrUnsafeURL, host)
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return nil, fmt.Errorf("%w: %s resolves to non-public address %s", ErrUnsafeURL, host, addr)
		}
	}
	return addrs, nil
}

// DialContext resolves and re-validates the target at connect time, then
// dials the vetted address directly so a second lookup cannot swap it.
func (g *URLGuard) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	addrs, err := g.resolvePublic(ctx, normalizeHost(host))
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	var lastErr error
	for _, addr := range addrs {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// NewHTTPClient returns a client for webhook calls. Every connection goes
// through DialContext, proxies are ignored and each redirect target is
// checked like the original URL.
func (g *URLGuard) NewHTTPClient() *http.Client {
	limits := g.Limits
	if limits.WebhookTimeout <= 0 {
		limits.WebhookTimeout = DefaultLimits().WebhookTimeout
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           g.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: limits.WebhookTimeout,
	}
	return &http.Client{
		Timeout:   limits.WebhookTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > limits.MaxRedirects {
				return fmt.Errorf("%w: too many redirects", ErrUnsafeURL)
			}
			_, err := g.Check(req.Context(), req.URL.String())
			return err
		},
	}
}
