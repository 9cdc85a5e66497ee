package collectors

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxBodySize = 10 << 20

// Responses stores the request and response of one GET per URL.
type Responses struct {
	client    *http.Client
	outputDir string
	userAgent string
	log       zerolog.Logger
}

// NewResponses creates the responses module.
func NewResponses(opts Options) (Collector, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	if opts.SOCKS5 != "" {
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "socks5", Host: opts.SOCKS5})
	}
	return &Responses{
		client: &http.Client{
			Timeout:   opts.SocketTimeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		outputDir: opts.OutputDir,
		userAgent: opts.UserAgent,
		log:       opts.Log.With().Str("module", "responses").Logger(),
	}, nil
}

func (r *Responses) Name() string { return "responses" }

// Execute fetches rawURL and writes the exchange to <output>/responses/<name>.txt.
func (r *Responses) Execute(ctx context.Context, rawURL string) error {
	path, err := artifactPath(r.outputDir, r.Name(), rawURL, ".txt")
	if err != nil {
		return fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not retrieve %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("could not read response from %s: %w", rawURL, err)
	}

	if err := os.WriteFile(path, dumpExchange(resp, body), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.log.Info().Str("url", rawURL).Int("status", resp.StatusCode).Str("title", pageTitle(body)).Msgf("saved %s", path)
	return nil
}

func dumpExchange(resp *http.Response, body []byte) []byte {
	var b bytes.Buffer
	section := func(name string) {
		fmt.Fprintf(&b, "%s\n%s\n\n", name, strings.Repeat("=", len(name)))
	}
	headers := func(h http.Header) {
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			for _, v := range h[k] {
				fmt.Fprintf(&b, "%s: %s\n", k, v)
			}
		}
	}

	req := resp.Request
	section("REQUEST")
	fmt.Fprintf(&b, "%s %s\n\n", req.Method, req.URL)
	headers(req.Header)

	b.WriteString("\n")
	section("RESPONSE")
	fmt.Fprintf(&b, "%s %s\n\n", resp.Proto, resp.Status)
	headers(resp.Header)

	b.WriteString("\n")
	b.Write(body)
	return b.Bytes()
}

// pageTitle returns the text of the first <title> element, if any.
func pageTitle(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var find func(*html.Node) string
	find = func(n *html.Node) string {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				return strings.TrimSpace(n.FirstChild.Data)
			}
			return ""
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title := find(c); title != "" {
				return title
			}
		}
		return ""
	}
	return find(doc)
}
