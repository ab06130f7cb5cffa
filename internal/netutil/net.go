package netutil

import (
	"net"
	"net/http"
	"strings"
)

// dockerBridge is the default docker0 subnet. Compose-managed networks
// allocate elsewhere in 172.16/12 and classify as plain private.
var dockerBridge = net.IPNet{IP: net.IPv4(172, 17, 0, 0), Mask: net.CIDRMask(16, 32)}

// ClientIP resolves the originating address of a request, preferring
// forwarded-for headers over the socket peer. Hops that do not parse
// are skipped instead of masking a later valid one.
func ClientIP(r *http.Request) net.IP {
	if r == nil {
		return nil
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(hop)); ip != nil {
			return ip
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// SourceClass buckets a request's origin into a low-cardinality label
// for access metrics.
func SourceClass(r *http.Request) string {
	ip := ClientIP(r)
	switch {
	case ip == nil:
		return "unknown"
	case ip.IsLoopback():
		return "loopback"
	case dockerBridge.Contains(ip):
		return "docker_bridge"
	case ip.IsPrivate():
		return "private"
	default:
		return "public"
	}
}
