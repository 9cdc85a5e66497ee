package models

import (
	"fmt"
	"strings"
	"time"
)

// Protocol is the application protocol spoken on a discovered port.
type Protocol string

const (
	// ProtoUnknown means the protocol has to be sniffed, or could not be determined.
	ProtoUnknown Protocol = ""
	ProtoHTTP    Protocol = "http"
	ProtoHTTPS   Protocol = "https"
)

// DefaultPort returns the well-known port for the protocol, or 0 when there is none.
func (p Protocol) DefaultPort() uint16 {
	switch p {
	case ProtoHTTP:
		return 80
	case ProtoHTTPS:
		return 443
	}
	return 0
}

// ParseProtocol accepts "", "http" and "https" (case-insensitive).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ProtoUnknown, nil
	case "http":
		return ProtoHTTP, nil
	case "https":
		return ProtoHTTPS, nil
	}
	return ProtoUnknown, fmt.Errorf("invalid service %q", s)
}

// Target is a host with an optional port (0 = unset) and optional protocol.
// It is partial until materialized against the service matrix.
type Target struct {
	Host     string
	Port     uint16
	Protocol Protocol
}

// Explicit reports whether both port and protocol are known.
func (t Target) Explicit() bool {
	return t.Port != 0 && t.Protocol != ProtoUnknown
}

// Service is a single entry of the service matrix.
type Service struct {
	Port     uint16
	Protocol Protocol
}

func (s Service) String() string {
	if s.Protocol == ProtoUnknown {
		return fmt.Sprintf("%d", s.Port)
	}
	return fmt.Sprintf("%d/%s", s.Port, s.Protocol)
}

// ProbeTask is a fully materialized target handed to the prober.
// An unknown protocol means it must be sniffed.
type ProbeTask struct {
	Host     string
	Port     uint16
	Protocol Protocol
}

// Endpoint is a confirmed (host, port, protocol) triple.
type Endpoint struct {
	Host     string   `json:"host"`
	Port     uint16   `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// NewEndpoint lower-cases the host so that endpoints differing only by
// host casing compare equal.
func NewEndpoint(host string, port uint16, proto Protocol) Endpoint {
	return Endpoint{Host: strings.ToLower(host), Port: port, Protocol: proto}
}

// Run is a single recorded discovery run.
type Run struct {
	ID         string     `json:"id"`
	OutputDir  string     `json:"output_dir"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"` // nil while the run is in progress
	Endpoints  int        `json:"endpoints"`
}
