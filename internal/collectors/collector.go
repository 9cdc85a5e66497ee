// Package collectors holds the modules that run over every discovered URL
// once discovery has finished.
package collectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/urlutil"
)

var (
	// ErrBrowserNotFound is fatal for the whole run.
	ErrBrowserNotFound = errors.New("browser executable not found")
	// ErrUnknownModule is returned by Select for names missing from the registry.
	ErrUnknownModule = errors.New("unknown module")
)

// Collector produces at most one artifact per URL under <output>/<name>/.
type Collector interface {
	Name() string
	Execute(ctx context.Context, rawURL string) error
}

// Options configures every collector.
type Options struct {
	OutputDir      string
	UserAgent      string
	SocketTimeout  time.Duration
	ProcessTimeout time.Duration
	Attempts       int
	Browser        string
	SOCKS5         string
	Log            zerolog.Logger
}

type factory func(Options) (Collector, error)

var registry = map[string]factory{
	"responses": NewResponses,
	"screens":   NewScreens,
}

// Names lists the registered modules.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Select builds the named modules, in order, before the run starts.
func Select(names []string, opts Options) ([]Collector, error) {
	var out []Collector
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		newCollector, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
		}
		c, err := newCollector(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize module %s: %w", name, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// artifactPath returns <output>/<module>/<base name><ext>, creating the
// module directory.
func artifactPath(outputDir, module, rawURL, ext string) (string, error) {
	base, err := urlutil.BaseFilename(rawURL)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(outputDir, module)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, base+ext), nil
}
