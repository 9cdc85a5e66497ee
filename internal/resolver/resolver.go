package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// FallbackNameserver is used when the system configuration cannot be read.
const FallbackNameserver = "8.8.8.8"

var (
	// ErrNXDomain means the reverse name does not exist.
	ErrNXDomain = errors.New("nxdomain")
	// ErrNoAnswer means the name exists but has no PTR record.
	ErrNoAnswer = errors.New("no answer")
	// ErrNoNameservers means every configured nameserver failed to answer.
	ErrNoNameservers = errors.New("no nameservers")
)

// Resolver issues PTR queries against a fixed set of nameservers.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	client      *dns.Client
	nameservers []string
}

// New creates a Resolver. Nameservers without a port get :53.
func New(nameservers []string, timeout time.Duration) *Resolver {
	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(ns); err != nil {
			ns = net.JoinHostPort(ns, "53")
		}
		servers = append(servers, ns)
	}
	return &Resolver{
		client:      &dns.Client{Net: "udp", Timeout: timeout},
		nameservers: servers,
	}
}

// SystemNameserver returns the first nameserver from resolv.conf.
func SystemNameserver(path string) string {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil || len(cfg.Servers) == 0 {
		return FallbackNameserver
	}
	return cfg.Servers[0]
}

// Nameservers returns the addresses queried, in order.
func (r *Resolver) Nameservers() []string {
	return append([]string(nil), r.nameservers...)
}

// LookupPTR returns the lower-cased host name an IP literal maps to, without
// the trailing root dot. The sentinel errors and timeouts are expected outcomes.
func (r *Resolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("not an ip address %q: %w", ip, err)
	}
	name, err := dns.ReverseAddr(addr.Unmap().String())
	if err != nil {
		return "", fmt.Errorf("failed to build reverse name for %s: %w", ip, err)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypePTR)

	var lastErr error = ErrNoNameservers
	for _, ns := range r.nameservers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, ns)
		if err != nil {
			lastErr = fmt.Errorf("query %s: %w", ns, err)
			if ctx.Err() != nil {
				return "", lastErr
			}
			continue
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return "", ErrNXDomain
		default:
			lastErr = fmt.Errorf("%w: %s answered %s", ErrNoNameservers, ns, dns.RcodeToString[resp.Rcode])
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.ToLower(strings.TrimSuffix(ptr.Ptr, ".")), nil
			}
		}
		return "", ErrNoAnswer
	}
	return "", lastErr
}
