package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownKey is used when the caller address cannot be determined.
const UnknownKey = "unknown"

const headerXForwardedFor = "X-Forwarded-For"

// KeyResolver derives the rate limit key from the caller IP.
// With no trusted proxies only RemoteAddr is used. When RemoteAddr is a
// trusted proxy, X-Forwarded-For is walked right to left and the first
// untrusted address wins.
type KeyResolver struct {
	trustedCIDRs []*net.IPNet
}

// NewKeyResolver creates a KeyResolver. Entries may be CIDRs or single
// addresses; invalid entries are skipped.
func NewKeyResolver(trustedProxies []string) *KeyResolver {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &KeyResolver{trustedCIDRs: cidrs}
}

// Resolve returns the caller IP, or UnknownKey.
func (k *KeyResolver) Resolve(r *http.Request) string {
	if r == nil {
		return UnknownKey
	}

	remoteIP := stripPort(r.RemoteAddr)
	if remoteIP == "" {
		return UnknownKey
	}

	if len(k.trustedCIDRs) == 0 || !k.isTrusted(remoteIP) {
		return remoteIP
	}

	xff := r.Header.Get(headerXForwardedFor)
	if xff == "" {
		return remoteIP
	}

	// Entries that are not IPs are skipped. If nothing untrusted is left
	// and some entry was unreadable, the caller cannot be determined.
	invalid := false
	ips := strings.Split(xff, ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip == "" {
			continue
		}
		if net.ParseIP(ip) == nil {
			invalid = true
			continue
		}
		if !k.isTrusted(ip) {
			return ip
		}
	}

	if invalid {
		return UnknownKey
	}
	return remoteIP
}

func (k *KeyResolver) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range k.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128 //nolint:mnd // IPv6 prefix length
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// stripPort returns the IP part of addr, or "" when addr does not hold an IP.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if net.ParseIP(host) == nil {
		return ""
	}
	return host
}
