package prober

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/results"
	"github.com/tasooshi/pukpuk/internal/testutil"
)

const testTimeout = 2 * time.Second

type fakeResolver struct {
	names map[string]string
}

func (f *fakeResolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	if name, ok := f.names[ip]; ok {
		return name, nil
	}
	return "", errors.New("nxdomain")
}

func port(t *testing.T, addr net.Addr) uint16 {
	t.Helper()
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected address type %T", addr)
	}
	return uint16(tcp.Port)
}

func newHTTPServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "hello")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHTTPSServer(t *testing.T, dnsNames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "hello")
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{
		testutil.SelfSigned(t, testutil.CertOptions{DNSNames: dnsNames, IPs: []net.IP{net.ParseIP("127.0.0.1")}}),
	}}
	srv.Config.ErrorLog = log.New(io.Discard, "", 0)
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

// newRawServer accepts connections and hands them to handle.
func newRawServer(t *testing.T, handle func(net.Conn)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		wg.Wait()
	})
	return ln
}

func newProber(t *testing.T, resolver ReverseResolver, sink Sink) *Prober {
	t.Helper()
	dialer, err := NewDialer(DialerOptions{Timeout: testTimeout})
	if err != nil {
		t.Fatal(err)
	}
	return New(dialer, testTimeout, resolver, sink, zerolog.New(io.Discard))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
		want Verdict
	}{
		{name: "reset", err: syscall.ECONNRESET, want: VerdictTLS},
		{name: "wrapped reset", err: &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, want: VerdictTLS},
		{name: "empty eof", err: io.EOF, want: VerdictTLS},
		{name: "empty no error", want: VerdictTLS},
		{name: "go tls server", resp: "HTTP/1.0 400 Bad Request\r\n\r\nClient sent an HTTP request to an HTTPS server.\n", want: VerdictTLS},
		{name: "nginx plain http on tls port", resp: "HTTP/1.1 400 Bad Request\r\nServer: nginx\r\n\r\n<title>400 The plain HTTP request was sent to HTTPS port</title>", want: VerdictTLS},
		{name: "http ok", resp: "HTTP/1.0 200 OK\r\nServer: x\r\n\r\n", want: VerdictHTTP},
		{name: "http 404", resp: "HTTP/1.1 404 Not Found\r\n\r\n", want: VerdictHTTP},
		{name: "ssh banner", resp: "SSH-2.0-OpenSSH_9.6\r\n", want: VerdictUnknown},
		{name: "tls alert bytes", resp: "\x15\x03\x01\x00\x02\x02\x46", want: VerdictUnknown},
		{name: "timeout", err: os.ErrDeadlineExceeded, want: VerdictUnknown},
		{name: "data with eof", resp: "HTTP/1.0 200 OK\r\n", err: io.EOF, want: VerdictHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify([]byte(tt.resp), tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The "400" + "Bad Request" rule is a substring heuristic: a plain HTTP
// server answering 400 is sent down the TLS path too.
func TestClassifyBadRequestHeuristicIsApproximate(t *testing.T) {
	resp := []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")
	if got := Classify(resp, nil); got != VerdictTLS {
		t.Errorf("Classify() = %v, want %v", got, VerdictTLS)
	}
}

func TestSniff(t *testing.T) {
	httpSrv := newHTTPServer(t)
	httpsSrv := newHTTPSServer(t, "alt.example.com")
	banner := newRawServer(t, func(c net.Conn) {
		io.WriteString(c, "SSH-2.0-OpenSSH_9.6\r\n")
	})
	silent := newRawServer(t, func(c net.Conn) {})

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedPort := port(t, closed.Addr())
	closed.Close()

	p := newProber(t, nil, results.NewSet())
	tests := []struct {
		name string
		port uint16
		want models.Protocol
	}{
		{"plain http", port(t, httpSrv.Listener.Addr()), models.ProtoHTTP},
		{"https", port(t, httpsSrv.Listener.Addr()), models.ProtoHTTPS},
		{"non http banner", port(t, banner.Addr()), models.ProtoUnknown},
		{"closes without reply", port(t, silent.Addr()), models.ProtoUnknown},
		{"closed port", closedPort, models.ProtoUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Sniff(context.Background(), "127.0.0.1", tt.port); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProbeDiscovery(t *testing.T) {
	httpSrv := newHTTPServer(t)
	httpsSrv := newHTTPSServer(t, "alt.example.com", "*.example.com", "127.0.0.1")
	httpPort := port(t, httpSrv.Listener.Addr())
	httpsPort := port(t, httpsSrv.Listener.Addr())

	tasks := []models.ProbeTask{
		{Host: "127.0.0.1", Port: httpPort},
		{Host: "127.0.0.1", Port: httpsPort},
	}

	t.Run("without reverse dns", func(t *testing.T) {
		set := results.NewSet()
		p := newProber(t, &fakeResolver{}, set)
		for _, task := range tasks {
			p.Probe(context.Background(), task)
		}

		want := []models.Endpoint{
			{Host: "127.0.0.1", Port: httpPort, Protocol: models.ProtoHTTP},
			{Host: "127.0.0.1", Port: httpsPort, Protocol: models.ProtoHTTPS},
			{Host: "alt.example.com", Port: httpsPort, Protocol: models.ProtoHTTPS},
		}
		results.Sort(want)
		if got := set.Unique(); !reflect.DeepEqual(got, want) {
			t.Errorf("discovered %+v, want %+v", got, want)
		}
	})

	t.Run("with reverse dns", func(t *testing.T) {
		set := results.NewSet()
		p := newProber(t, &fakeResolver{names: map[string]string{"127.0.0.1": "localhost"}}, set)
		for _, task := range tasks {
			p.Probe(context.Background(), task)
		}

		want := []models.Endpoint{
			{Host: "127.0.0.1", Port: httpPort, Protocol: models.ProtoHTTP},
			{Host: "127.0.0.1", Port: httpsPort, Protocol: models.ProtoHTTPS},
			{Host: "alt.example.com", Port: httpsPort, Protocol: models.ProtoHTTPS},
			{Host: "localhost", Port: httpPort, Protocol: models.ProtoHTTP},
			{Host: "localhost", Port: httpsPort, Protocol: models.ProtoHTTPS},
		}
		results.Sort(want)
		if got := set.Unique(); !reflect.DeepEqual(got, want) {
			t.Errorf("discovered %+v, want %+v", got, want)
		}
	})
}

func TestProbeKnownProtocolSkipsSniffing(t *testing.T) {
	// A port that accepts but never answers would fail sniffing; with a known
	// protocol only the confirmation connect matters.
	silent := newRawServer(t, func(c net.Conn) {})
	set := results.NewSet()
	p := newProber(t, nil, set)

	p.Probe(context.Background(), models.ProbeTask{Host: "127.0.0.1", Port: port(t, silent.Addr()), Protocol: models.ProtoHTTP})

	if got := set.Unique(); len(got) != 1 || got[0].Protocol != models.ProtoHTTP {
		t.Errorf("expected one http endpoint, got %+v", got)
	}
}

func TestProbeConfirmationFailureStillResolves(t *testing.T) {
	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedPort := port(t, closed.Addr())
	closed.Close()

	set := results.NewSet()
	p := newProber(t, &fakeResolver{names: map[string]string{"127.0.0.1": "localhost"}}, set)
	p.Probe(context.Background(), models.ProbeTask{Host: "127.0.0.1", Port: closedPort, Protocol: models.ProtoHTTPS})

	want := []models.Endpoint{{Host: "localhost", Port: closedPort, Protocol: models.ProtoHTTPS}}
	if got := set.Unique(); !reflect.DeepEqual(got, want) {
		t.Errorf("discovered %+v, want %+v", got, want)
	}
}

func TestProbeUnknownServiceYieldsNothing(t *testing.T) {
	banner := newRawServer(t, func(c net.Conn) {
		io.WriteString(c, "220 ftp ready\r\n")
	})
	set := results.NewSet()
	p := newProber(t, &fakeResolver{names: map[string]string{"127.0.0.1": "localhost"}}, set)
	p.Probe(context.Background(), models.ProbeTask{Host: "127.0.0.1", Port: port(t, banner.Addr())})

	if got := set.Unique(); len(got) != 0 {
		t.Errorf("expected nothing, got %+v", got)
	}
}

func TestProbeCanceledContext(t *testing.T) {
	httpSrv := newHTTPServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := results.NewSet()
	p := newProber(t, nil, set)
	p.Probe(ctx, models.ProbeTask{Host: "127.0.0.1", Port: port(t, httpSrv.Listener.Addr())})

	if got := set.Unique(); len(got) != 0 {
		t.Errorf("expected nothing after cancellation, got %+v", got)
	}
}

func TestNewDialer(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		d, err := NewDialer(DialerOptions{Timeout: time.Second, Rate: 1000})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := d.(*limitedDialer); !ok {
			t.Errorf("expected limited dialer, got %T", d)
		}
	})

	t.Run("socks5", func(t *testing.T) {
		d, err := NewDialer(DialerOptions{Timeout: time.Second, SOCKS5: "127.0.0.1:1080"})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := d.(*timeoutDialer); !ok {
			t.Errorf("expected proxied dialer, got %T", d)
		}
	})

	t.Run("direct", func(t *testing.T) {
		d, err := NewDialer(DialerOptions{Timeout: time.Second})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := d.(*net.Dialer); !ok {
			t.Errorf("expected net.Dialer, got %T", d)
		}
	})
}
