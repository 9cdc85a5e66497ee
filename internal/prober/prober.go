package prober

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/certs"
	"github.com/tasooshi/pukpuk/internal/models"
)

// Sink receives discovered endpoints. *results.Set satisfies it.
type Sink interface {
	Add(ep models.Endpoint)
}

// ReverseResolver maps IP literals to host names.
type ReverseResolver interface {
	LookupPTR(ctx context.Context, ip string) (string, error)
}

// Prober decides whether a port speaks HTTP or HTTPS and records what it finds.
// Its configuration is read-only after New; all connection state is per call.
type Prober struct {
	dialer   Dialer
	tls      *tls.Config
	timeout  time.Duration
	resolver ReverseResolver
	sink     Sink
	log      zerolog.Logger
}

// New creates a Prober. resolver may be nil to skip reverse lookups.
func New(dialer Dialer, timeout time.Duration, resolver ReverseResolver, sink Sink, log zerolog.Logger) *Prober {
	return &Prober{
		dialer: dialer,
		// Discovery, not trust validation.
		tls: &tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS10,
		},
		timeout:  timeout,
		resolver: resolver,
		sink:     sink,
		log:      log,
	}
}

// Probe runs discovery for one task. Failures are logged at debug level and
// never returned.
func (p *Prober) Probe(ctx context.Context, task models.ProbeTask) {
	host, port, proto := task.Host, task.Port, task.Protocol
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	log := p.log.With().Str("addr", addr).Logger()
	log.Debug().Str("protocol", string(proto)).Msg("discovering")

	if proto == models.ProtoUnknown {
		proto = p.Sniff(ctx, host, port)
		if proto == models.ProtoUnknown {
			return
		}
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		log.Debug().Err(err).Msg("confirmation connect failed")
	} else {
		p.add(log, host, port, proto, "probe")
		if proto == models.ProtoHTTPS {
			p.certificateAliases(ctx, log, conn, host, port)
		}
		conn.Close()
	}

	if ip, err := netip.ParseAddr(host); err == nil && p.resolver != nil {
		p.reverseAlias(ctx, log, ip, port, proto)
	}
}

// Sniff runs the plaintext probe and, when it points at TLS, a handshake.
func (p *Prober) Sniff(ctx context.Context, host string, port uint16) models.Protocol {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	log := p.log.With().Str("addr", addr).Logger()

	conn, err := p.dial(ctx, addr)
	if err != nil {
		log.Debug().Err(err).Msg("connect failed")
		return models.ProtoUnknown
	}
	resp, readErr := p.exchange(conn, host)
	conn.Close()

	verdict := Classify(resp, readErr)
	log.Debug().Stringer("verdict", verdict).Int("bytes", len(resp)).AnErr("read_error", readErr).Msg("plaintext probe")

	switch verdict {
	case VerdictHTTP:
		return models.ProtoHTTP
	case VerdictTLS:
		if _, err := p.handshake(ctx, addr, host); err != nil {
			log.Debug().Err(err).Msg("probably not encrypted")
			return models.ProtoUnknown
		}
		log.Debug().Msg("seems to be https")
		return models.ProtoHTTPS
	}
	return models.ProtoUnknown
}

func (p *Prober) exchange(conn net.Conn, host string) ([]byte, error) {
	_ = conn.SetDeadline(time.Now().Add(p.timeout))
	if _, err := fmt.Fprintf(conn, probeRequest, host); err != nil {
		// A write failure on a live connection means the peer hung up.
		return nil, err
	}
	buf := make([]byte, readLimit)
	n, err := conn.Read(buf)
	return buf[:n], err
}

// handshake dials addr and completes a TLS handshake, returning the leaf
// certificate in DER form.
func (p *Prober) handshake(ctx context.Context, addr, host string) ([]byte, error) {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return p.peerCertificate(ctx, conn, host)
}

func (p *Prober) peerCertificate(ctx context.Context, conn net.Conn, host string) ([]byte, error) {
	cfg := p.tls.Clone()
	cfg.ServerName = host

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("tls handshake: no peer certificate")
	}
	return state.PeerCertificates[0].Raw, nil
}

func (p *Prober) certificateAliases(ctx context.Context, log zerolog.Logger, conn net.Conn, host string, port uint16) {
	der, err := p.peerCertificate(ctx, conn, host)
	if err != nil {
		log.Debug().Err(err).Msg("probably not encrypted")
		return
	}
	aliases, err := certs.ExtractAliases(der)
	if err != nil {
		log.Debug().Err(err).Msg("certificate parsing failed")
		return
	}
	for _, alias := range aliases {
		if alias != host {
			p.add(log, alias, port, models.ProtoHTTPS, "certificate")
		}
	}
}

func (p *Prober) reverseAlias(ctx context.Context, log zerolog.Logger, ip netip.Addr, port uint16, proto models.Protocol) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	name, err := p.resolver.LookupPTR(ctx, ip.String())
	if err != nil {
		log.Debug().Err(err).Msg("could not resolve")
		return
	}
	if name == "" {
		return
	}
	p.add(log, name, port, proto, "resolver")
}

func (p *Prober) add(log zerolog.Logger, host string, port uint16, proto models.Protocol, source string) {
	ep := models.NewEndpoint(host, port, proto)
	p.sink.Add(ep)
	log.Info().Str("host", ep.Host).Str("protocol", string(proto)).Str("source", source).Msg("discovered")
}

func (p *Prober) dial(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.dialer.DialContext(ctx, "tcp", addr)
}
