// SPDX-License-Identifier: MIT

// Package netutil gates outbound origin access. Every URL the gateway
// fetches must pass the allowlist, which is built from the configured
// origin base URL plus any extra hosts.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrHostNotAllowed indicates the URL host did not match the allowlist.
	ErrHostNotAllowed = errors.New("origin host not allowed")
	// ErrPrivateAddress indicates the URL targets a loopback or private
	// address while private-range refusal is enabled.
	ErrPrivateAddress = errors.New("private origin address refused")
)

// NormalizeHost validates and normalizes a host for comparison. IDN hosts
// are folded to their ASCII (punycode) form, IP literals to their
// canonical string.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// Allowlist decides which origin hosts the gateway may contact.
type Allowlist struct {
	hosts        map[string]struct{}
	blockPrivate bool
}

// NewAllowlist builds an allowlist from the origin base URL and extra
// hosts. The base URL host is always allowed. blockPrivate additionally
// refuses loopback, link-local and RFC1918 IP literals.
func NewAllowlist(baseURL string, extraHosts []string, blockPrivate bool) (*Allowlist, error) {
	a := &Allowlist{
		hosts:        make(map[string]struct{}),
		blockPrivate: blockPrivate,
	}
	if strings.TrimSpace(baseURL) != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if u.Hostname() == "" {
			return nil, fmt.Errorf("base url has no host: %s", baseURL)
		}
		host, err := NormalizeHost(u.Hostname())
		if err != nil {
			return nil, err
		}
		a.hosts[host] = struct{}{}
	}
	for _, h := range extraHosts {
		if strings.TrimSpace(h) == "" {
			continue
		}
		host, err := NormalizeHost(h)
		if err != nil {
			return nil, err
		}
		a.hosts[host] = struct{}{}
	}
	if len(a.hosts) == 0 {
		return nil, fmt.Errorf("allowlist is empty: configure origin.base_url or origin.allow_hosts")
	}
	return a, nil
}

// Check verifies that u may be fetched: http(s) scheme, allowlisted host,
// and no private IP literal when private-range refusal is on.
func (a *Allowlist) Check(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("nil url")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("scheme %q not allowed", u.Scheme)
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return err
	}
	if a.blockPrivate {
		if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateAddress, host)
		}
	}
	if _, ok := a.hosts[host]; !ok {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return nil
}

// Hosts returns the normalized allowlisted hosts, for status reporting.
func (a *Allowlist) Hosts() []string {
	out := make([]string, 0, len(a.hosts))
	for h := range a.hosts {
		out = append(out, h)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate()
}
