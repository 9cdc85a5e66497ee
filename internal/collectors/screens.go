package collectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// Screens grabs a screenshot of every URL with a headless browser.
type Screens struct {
	browser   string
	outputDir string
	userAgent string
	proxy     string
	timeout   time.Duration
	attempts  int
	log       zerolog.Logger
}

// NewScreens creates the screens module. The browser binary must exist.
func NewScreens(opts Options) (Collector, error) {
	browser, err := exec.LookPath(opts.Browser)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBrowserNotFound, opts.Browser)
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var proxy string
	if opts.SOCKS5 != "" {
		proxy = "socks5://" + opts.SOCKS5
	}
	return &Screens{
		browser:   browser,
		outputDir: opts.OutputDir,
		userAgent: opts.UserAgent,
		proxy:     proxy,
		timeout:   opts.ProcessTimeout,
		attempts:  attempts,
		log:       opts.Log.With().Str("module", "screens").Logger(),
	}, nil
}

func (s *Screens) Name() string { return "screens" }

// Execute saves <output>/screens/<name>.png. Timeouts are retried; blank
// captures are discarded.
func (s *Screens) Execute(ctx context.Context, rawURL string) error {
	path, err := artifactPath(s.outputDir, s.Name(), rawURL, ".png")
	if err != nil {
		return fmt.Errorf("invalid URL %s: %w", rawURL, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(s.browser),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(1000, 1000),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("run-all-compositor-stages-before-draw", true),
	)
	if s.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.userAgent))
	}
	if s.proxy != "" {
		opts = append(opts, chromedp.ProxyServer(s.proxy))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	for attempt := 1; attempt <= s.attempts; attempt++ {
		buf, err := s.capture(allocCtx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrBrowserNotFound, s.browser)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				s.log.Debug().Str("url", rawURL).Msgf("screen grabbing timed out (attempt %d/%d)", attempt, s.attempts)
				continue
			}
			return fmt.Errorf("screen grabbing failed for %s: %w", rawURL, err)
		}

		blank, err := isBlank(buf)
		if err != nil {
			return fmt.Errorf("unreadable screenshot for %s: %w", rawURL, err)
		}
		if blank {
			s.log.Debug().Str("url", rawURL).Msg("blank screen returned, discarding")
			return nil
		}
		if err := os.WriteFile(path, buf, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		s.log.Info().Str("url", rawURL).Msgf("saved %s", path)
		return nil
	}
	return fmt.Errorf("screen grabbing timed out for %s after %d attempts", rawURL, s.attempts)
}

// capture runs one browser instance against rawURL.
func (s *Screens) capture(allocCtx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, s.timeout)
	defer cancelTimeout()

	var buf []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate(rawURL),
		chromedp.CaptureScreenshot(&buf),
	)
	return buf, err
}

// isBlank reports whether every pixel of the PNG has the same luminance.
func isBlank(data []byte) (bool, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return true, nil
	}
	first := color.GrayModel.Convert(img.At(bounds.Min.X, bounds.Min.Y)).(color.Gray).Y
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y != first {
				return false, nil
			}
		}
	}
	return true, nil
}
