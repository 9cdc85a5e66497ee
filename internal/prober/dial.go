package prober

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialerOptions configures NewDialer.
type DialerOptions struct {
	Timeout time.Duration
	// SOCKS5 is a host:port proxy address; empty means direct connections.
	SOCKS5 string
	// Rate caps new connection attempts per second; 0 means unlimited.
	Rate float64
}

// NewDialer builds the dialer shared by all probe tasks.
func NewDialer(opts DialerOptions) (Dialer, error) {
	direct := &net.Dialer{Timeout: opts.Timeout}

	var d Dialer = direct
	if opts.SOCKS5 != "" {
		socks, err := proxy.SOCKS5("tcp", opts.SOCKS5, nil, direct)
		if err != nil {
			return nil, fmt.Errorf("failed to configure socks5 proxy %s: %w", opts.SOCKS5, err)
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		d = &timeoutDialer{next: cd, timeout: opts.Timeout}
	}

	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		d = &limitedDialer{next: d, limiter: rate.NewLimiter(rate.Limit(opts.Rate), burst)}
	}
	return d, nil
}

// timeoutDialer bounds proxied dials, which do not honour net.Dialer.Timeout
// for the proxy handshake.
type timeoutDialer struct {
	next    proxy.ContextDialer
	timeout time.Duration
}

func (d *timeoutDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.next.DialContext(ctx, network, addr)
}

type limitedDialer struct {
	next    Dialer
	limiter *rate.Limiter
}

func (d *limitedDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return d.next.DialContext(ctx, network, addr)
}
