package httpx

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/dnscache"
)

var dnsResolver = &dnscache.Resolver{}

// DNSCacheDialContext returns a DialContext function,
// which resolves the host with a process-wide DNS cache before dialing.
func DNSCacheDialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, nw, addr string) (conn net.Conn, err error) {
		h, p, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := dnsResolver.LookupHost(ctx, h)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("lookup %s: no such host", h)
		}
		// Try to connect to each IP address in order.
		for _, ip := range ips {
			conn, err = dialer.DialContext(ctx, nw, net.JoinHostPort(ip, p))
			if err == nil {
				break
			}
		}
		return conn, err
	}
}
