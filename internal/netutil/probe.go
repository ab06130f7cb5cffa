package netutil

import (
	"fmt"
	"net"
)

// ProbePort reports whether host:port can be bound right now. Used for
// startup diagnostics: a taken port fails fast with a message naming the
// likely culprit instead of an opaque bind error mid-boot.
func ProbePort(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d not available on %s (already serving?): %w", port, host, err)
	}
	return l.Close()
}
