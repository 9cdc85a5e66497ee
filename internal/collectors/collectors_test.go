package collectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/urlutil"
)

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		OutputDir:      t.TempDir(),
		UserAgent:      "pukpuk-test",
		SocketTimeout:  2 * time.Second,
		ProcessTimeout: 2 * time.Second,
		Attempts:       1,
		Browser:        "definitely-not-a-browser-binary",
		Log:            zerolog.New(io.Discard),
	}
}

func TestResponsesExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "pukpuk-test" {
			t.Errorf("unexpected User-Agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("X-Test", "yes")
		fmt.Fprint(w, "<html><head><title> Admin Panel </title></head><body>hi</body></html>")
	}))
	defer srv.Close()

	opts := testOptions(t)
	c, err := NewResponses(opts)
	if err != nil {
		t.Fatal(err)
	}
	rawURL := srv.URL + "/"
	if err := c.Execute(context.Background(), rawURL); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	base, err := urlutil.BaseFilename(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(opts.OutputDir, "responses", base+".txt"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	dump := string(data)
	for _, want := range []string{
		"REQUEST\n=======\n",
		"GET " + rawURL,
		"User-Agent: pukpuk-test",
		"RESPONSE\n========\n",
		"200 OK",
		"X-Test: yes",
		"<title> Admin Panel </title>",
	} {
		if !strings.Contains(dump, want) {
			t.Errorf("dump missing %q:\n%s", want, dump)
		}
	}
}

func TestResponsesExecuteHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer srv.Close()

	opts := testOptions(t)
	c, _ := NewResponses(opts)
	if err := c.Execute(context.Background(), srv.URL+"/"); err != nil {
		t.Fatalf("self-signed certificate should be accepted: %v", err)
	}
}

func TestResponsesExecuteUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	opts := testOptions(t)
	c, _ := NewResponses(opts)
	rawURL := "http://" + addr + "/"
	if err := c.Execute(context.Background(), rawURL); err == nil {
		t.Fatal("expected error for closed port")
	}
	base, _ := urlutil.BaseFilename(rawURL)
	if _, err := os.Stat(filepath.Join(opts.OutputDir, "responses", base+".txt")); !os.IsNotExist(err) {
		t.Errorf("no artifact expected, stat error: %v", err)
	}
}

func TestResponsesExecuteInvalidURL(t *testing.T) {
	c, _ := NewResponses(testOptions(t))
	if err := c.Execute(context.Background(), "ftp://example.com/"); err == nil {
		t.Error("expected error for non-http URL")
	}
}

func TestPageTitle(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{"<html><head><title>Hello</title></head></html>", "Hello"},
		{"<title>\n  Spaced \n</title>", "Spaced"},
		{"<html><body>no title</body></html>", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := pageTitle([]byte(tt.body)); got != tt.want {
			t.Errorf("pageTitle(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIsBlank(t *testing.T) {
	uniform := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			uniform.Set(x, y, color.White)
		}
	}
	blank, err := isBlank(encodePNG(t, uniform))
	if err != nil || !blank {
		t.Errorf("uniform image: blank=%v err=%v", blank, err)
	}

	uniform.Set(5, 5, color.Black)
	blank, err = isBlank(encodePNG(t, uniform))
	if err != nil || blank {
		t.Errorf("image with a dark pixel: blank=%v err=%v", blank, err)
	}

	if _, err := isBlank([]byte("not a png")); err == nil {
		t.Error("expected decode error")
	}
}

func TestSelect(t *testing.T) {
	opts := testOptions(t)

	t.Run("responses", func(t *testing.T) {
		got, err := Select([]string{"Responses", "responses", ""}, opts)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Name() != "responses" {
			t.Errorf("unexpected modules: %v", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := Select([]string{"crawler"}, opts); !errors.Is(err, ErrUnknownModule) {
			t.Errorf("expected ErrUnknownModule, got %v", err)
		}
	})

	t.Run("missing browser", func(t *testing.T) {
		if _, err := Select([]string{"responses", "screens"}, opts); !errors.Is(err, ErrBrowserNotFound) {
			t.Errorf("expected ErrBrowserNotFound, got %v", err)
		}
	})
}

func TestNames(t *testing.T) {
	if got := Names(); !reflect.DeepEqual(got, []string{"responses", "screens"}) {
		t.Errorf("Names() = %v", got)
	}
}
