package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultTrustedProxies are the private ranges a reverse proxy in front of
// the server normally connects from.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
	"fd00::/8",
}

// TrustedProxies configures Echo so c.RealIP() honours X-Real-IP and
// X-Forwarded-For only when the direct peer is inside trustedCIDRs. The
// activity engine stores that IP on every record and aggregates on it, so a
// spoofable address would let a client split or merge aggregates at will.
func TrustedProxies(e *echo.Echo, trustedCIDRs []string) {
	e.IPExtractor = buildIPExtractor(trustedCIDRs)
}

func buildIPExtractor(trustedCIDRs []string) echo.IPExtractor {
	var trusted []netip.Prefix
	for _, cidr := range trustedCIDRs {
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			slog.Warn("ignoring invalid trusted proxy CIDR",
				slog.String("cidr", cidr),
				slog.Any("error", err),
			)
			continue
		}
		trusted = append(trusted, p.Masked())
	}

	return func(req *http.Request) string {
		direct := extractDirectIP(req.RemoteAddr)
		if !isTrusted(direct, trusted) {
			return direct
		}

		if realIP := strings.TrimSpace(req.Header.Get("X-Real-IP")); validIP(realIP) {
			return realIP
		}

		// Leftmost entry is the original client when every hop is trusted.
		if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); validIP(first) {
				return first
			}
		}

		return direct
	}
}

// extractDirectIP extracts the IP address from a "host:port" RemoteAddr string.
func extractDirectIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func validIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

func isTrusted(ipStr string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
