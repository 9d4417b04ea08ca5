// Package safehttp guards outbound HTTP against private network targets.
package safehttp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ErrPrivateAddress is returned when a dial resolves to a loopback, private
// or link-local address.
var ErrPrivateAddress = errors.New("access to private address denied")

// Guard returns a copy of t whose dialer refuses private addresses. The
// check runs on the resolved address before the connection is made, so DNS
// names pointing inward are caught too.
func Guard(t *http.Transport) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("failed to parse remote IP for %q", address)
			}
			if IsPrivate(ip) {
				return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
			}
			return nil
		},
	}

	guarded := t.Clone()
	guarded.DialContext = dialer.DialContext
	return guarded
}

// IsPrivate reports whether ip is loopback, private, link-local or
// unspecified.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
