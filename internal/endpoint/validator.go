// Package endpoint validates the ingestion URL a client is constructed
// with. The checks reduce SSRF risk when the endpoint is taken from
// configuration: non-HTTPS transport is only allowed toward loopback,
// embedded credentials are rejected, and IP-literal hosts must not fall in
// private or reserved ranges. Hostnames are not resolved; a name that
// resolves to a private address at request time is an accepted limitation
// of this guard.
package endpoint

import (
	"fmt"
	"net"
	"net/url"
)

var loopbackAliases = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

var (
	privateV4 = mustCIDRs(
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
	)
	privateV6 = mustCIDRs(
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	)
)

// Validate checks a candidate ingestion URL and returns it unchanged on
// success. Rules are applied in order: the URL must be non-empty, absolute,
// http or https, HTTPS unless the host is a loopback alias, free of
// userinfo, and must not point at a private or reserved IP literal.
func Validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("endpoint required")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q", raw)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	loopback := loopbackAliases[host]

	if !loopback && u.Scheme != "https" {
		return "", fmt.Errorf("HTTPS required for non-localhost endpoint %q", host)
	}

	if u.User != nil {
		return "", fmt.Errorf("endpoint must not contain credentials")
	}

	if !loopback && IsPrivate(host) {
		return "", fmt.Errorf("endpoint host %q resolves to private/reserved IP", host)
	}

	return raw, nil
}

// IsPrivate reports whether host is an IP literal inside a private or
// reserved range. Hostnames are never private by this check; only literal
// addresses are classified.
func IsPrivate(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return isPrivateIP(ip)
}

// isPrivateIP classifies an address against the private/reserved CIDR set.
// IPv4-mapped IPv6 addresses are unwrapped and tested as IPv4; otherwise
// address families never cross-match.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return containedIn(v4, privateV4)
	}
	return containedIn(ip, privateV6)
}

func containedIn(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("endpoint: bad builtin CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}
