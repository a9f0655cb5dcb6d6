// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type directPeerKey struct{}

// DirectPeer returns the IP of the connection peer as seen before any
// X-Forwarded-For rewrite. Layers that decide trust, such as the HSTS
// check, must use this instead of r.RemoteAddr.
func DirectPeer(r *http.Request) net.IP {
	if ip, ok := r.Context().Value(directPeerKey{}).(net.IP); ok {
		return ip
	}
	return remoteIP(r.RemoteAddr)
}

// ParseTrustedProxies parses a list of IPs or CIDR ranges into networks.
// Bare IPs become /32 (or /128) networks.
func ParseTrustedProxies(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, raw := range entries {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			ip := net.ParseIP(s)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", raw)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// IsIPAllowed reports whether ip falls inside any of the given networks.
func IsIPAllowed(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n != nil && n.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP rewrites r.RemoteAddr from X-Forwarded-For, but only when the
// direct peer is a trusted proxy. Entries are walked right to left and
// trusted hops are skipped, so a client cannot spoof its address by
// sending the header itself. With no trusted proxies configured the
// middleware is a no-op.
func RealIP(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peer := remoteIP(r.RemoteAddr); peer != nil && IsIPAllowed(peer, trusted) {
				r = r.WithContext(context.WithValue(r.Context(), directPeerKey{}, peer))
				if ip := clientFromForwarded(r.Header.Get("X-Forwarded-For"), trusted); ip != "" {
					r.RemoteAddr = ip
				} else if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
					r.RemoteAddr = ip
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientFromForwarded returns the rightmost X-Forwarded-For entry that is
// not itself a trusted proxy, or "" when no usable entry exists.
func clientFromForwarded(header string, trusted []*net.IPNet) string {
	if header == "" {
		return ""
	}
	parts := strings.Split(header, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(parts[i])
		ip := net.ParseIP(s)
		if ip == nil {
			return ""
		}
		if !IsIPAllowed(ip, trusted) {
			return s
		}
	}
	return ""
}

// remoteIP extracts the IP from a host:port remote address. A bare IP
// without port is accepted too, which happens after a previous rewrite.
func remoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}
