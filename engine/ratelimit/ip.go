package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const maxAddrLength = 45

// ExtractClientIP returns a validated client address for rate-limit keying.
// Sources are tried in order: the direct peer, the first X-Forwarded-For hop,
// then X-Real-IP. Malformed addresses and IPv6 zone identifiers are rejected;
// the second return value is false when no valid address was found.
func ExtractClientIP(r *http.Request) (string, bool) {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if ip, ok := validateAddr(host); ok {
			return ip, true
		}
	} else if ip, ok := validateAddr(r.RemoteAddr); ok {
		return ip, true
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip, ok := validateAddr(first); ok {
			return ip, true
		}
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		if ip, ok := validateAddr(real); ok {
			return ip, true
		}
	}

	return "", false
}

func validateAddr(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxAddrLength {
		return "", false
	}
	// Zone identifiers are interface-specific and useless as limit keys.
	if strings.Contains(raw, "%") {
		return "", false
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
