package proxy

import (
	"context"
	"net"
)

// portDialer rewrites the destination port so device URLs without a port
// reach an httptest server.
type portDialer struct {
	port string
	d    net.Dialer
}

func (p *portDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	return p.d.DialContext(ctx, network, net.JoinHostPort(host, p.port))
}
