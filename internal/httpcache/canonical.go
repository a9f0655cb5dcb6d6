// SPDX-License-Identifier: MIT

// Package httpcache layers shared-cache HTTP semantics over the disk
// store: canonical keying, freshness evaluation, conditional
// revalidation and the gateway decision tree.
package httpcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/thumbgate/thumbgate/internal/netutil"
)

// Canonicalize rewrites rawURL into the form used for cache keying:
// scheme and host lowercased (host through IDNA), default port stripped,
// dot-segments resolved, path segments normalized to Unicode NFC, the
// fragment dropped. The query string is preserved byte for byte.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}

	host, err := netutil.NormalizeHost(u.Hostname())
	if err != nil {
		return "", fmt.Errorf("normalize host: %w", err)
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if strings.Contains(host, ":") {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}
	if port != "" {
		b.WriteString(":" + port)
	}
	b.WriteString(canonicalPath(u.EscapedPath()))
	if u.ForceQuery || u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String(), nil
}

// Key returns the cache key for a canonical URL: the SHA-256 of the
// canonical form in lowercase hex. GET and HEAD share one entry, so the
// method does not participate in the hash.
func Key(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])
}

// canonicalPath resolves dot-segments on the escaped path and rewrites
// every segment to NFC with stdlib escaping. Escaped slashes stay
// escaped, so "/a%2Fb" and "/a/b" key differently.
func canonicalPath(escaped string) string {
	if escaped == "" {
		return "/"
	}
	if !strings.HasPrefix(escaped, "/") {
		escaped = "/" + escaped
	}

	segs := strings.Split(escaped[1:], "/")
	out := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case ".":
			// dropped; the trailing-slash fixup below keeps directory form
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, canonicalSegment(seg))
		}
	}

	p := "/" + strings.Join(out, "/")
	last := segs[len(segs)-1]
	if (last == "." || last == "..") && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func canonicalSegment(seg string) string {
	dec, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}
	return url.PathEscape(norm.NFC.String(dec))
}
