package prober

import (
	"bytes"
	"errors"
	"io"
	"syscall"
)

// Verdict is the outcome of the plaintext probe.
type Verdict int

const (
	// VerdictUnknown means the service is not HTTP(S), or could not be read.
	VerdictUnknown Verdict = iota
	// VerdictHTTP means the service answered the plaintext request with HTTP.
	VerdictHTTP
	// VerdictTLS means the service likely expects TLS; a handshake decides.
	VerdictTLS
)

func (v Verdict) String() string {
	switch v {
	case VerdictHTTP:
		return "http"
	case VerdictTLS:
		return "tls"
	}
	return "unknown"
}

// probeRequest is safe to send to anything: HTTP/1.0 servers close after it.
const probeRequest = "HEAD / HTTP/1.0\r\nHost: %s\r\nAccept: text/html\r\n\r\n"

const readLimit = 4096

// Classify maps the reply to the plaintext probe (and the read error, if
// any) to a verdict:
//
//	connection reset              -> TLS
//	empty reply                   -> TLS
//	contains "400" and "Bad Request" -> TLS
//	contains "HTTP"               -> HTTP
//	anything else                 -> unknown
//
// The "400 Bad Request" rule is a substring heuristic on arbitrary server
// banners and can misclassify unusual error pages.
func Classify(resp []byte, readErr error) Verdict {
	if len(resp) == 0 {
		switch {
		case readErr == nil, errors.Is(readErr, io.EOF), isReset(readErr):
			return VerdictTLS
		default:
			// Timeouts and other read failures.
			return VerdictUnknown
		}
	}
	if bytes.Contains(resp, []byte("400")) && bytes.Contains(resp, []byte("Bad Request")) {
		return VerdictTLS
	}
	if bytes.Contains(resp, []byte("HTTP")) {
		return VerdictHTTP
	}
	return VerdictUnknown
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}
