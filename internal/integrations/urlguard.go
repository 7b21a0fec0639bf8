package integrations

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
)

// URLGuard rejects outbound targets that could reach internal services:
// non-http(s) schemes, embedded credentials, local host names and private,
// loopback, link-local or otherwise non-routable addresses.
type URLGuard struct {
	allowPrivate bool
}

type GuardOption func(*URLGuard)

// AllowPrivateHosts disables the address checks. Used for self-hosted
// providers and for tests against local servers.
func AllowPrivateHosts() GuardOption {
	return func(g *URLGuard) {
		g.allowPrivate = true
	}
}

func NewURLGuard(opts ...GuardOption) *URLGuard {
	g := &URLGuard{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check validates raw and returns the parsed URL.
func (g *URLGuard) Check(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, validationErrorf("invalid url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, validationErrorf("url scheme %q is not allowed", u.Scheme)
	}
	if u.User != nil {
		return nil, validationErrorf("url must not contain credentials")
	}
	host := u.Hostname()
	if host == "" {
		return nil, validationErrorf("url %q has no host", raw)
	}
	if g.allowPrivate {
		return u, nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") ||
		strings.HasSuffix(lower, ".local") || strings.HasSuffix(lower, ".internal") {
		return nil, validationErrorf("host %q is not allowed", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && blockedAddr(addr) {
		return nil, validationErrorf("address %s is not allowed", host)
	}
	return u, nil
}

// Control is a net.Dialer control hook that refuses connections to blocked
// addresses after DNS resolution, which also covers redirects.
func (g *URLGuard) Control(network, address string, _ syscall.RawConn) error {
	if g.allowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unresolved address %s", ErrValidation, address)
	}
	if blockedAddr(addr) {
		return fmt.Errorf("%w: connection to %s is not allowed", ErrValidation, addr)
	}
	return nil
}

func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")
