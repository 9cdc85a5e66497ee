// Package runner drives a scan: discovery over the worker pool, then the
// collector modules over every discovered URL.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/collectors"
	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/results"
	"github.com/tasooshi/pukpuk/internal/storage"
	"github.com/tasooshi/pukpuk/internal/targets"
	"github.com/tasooshi/pukpuk/internal/urlutil"
)

// URLsFilename is written to the output directory after discovery.
const URLsFilename = "urls.txt"

// Prober runs discovery for one task and reports into its own sink.
type Prober interface {
	Probe(ctx context.Context, task models.ProbeTask)
}

// Options configures a Runner.
type Options struct {
	Workers   int
	Randomize bool
	OutputDir string
}

// Runner owns the result set of a single scan.
type Runner struct {
	opts    Options
	prober  Prober
	set     *results.Set
	modules []collectors.Collector
	store   storage.Storer
	log     zerolog.Logger
}

// Report summarizes a finished scan.
type Report struct {
	RunID   string
	URLs    []string
	Added   []models.Endpoint
	Removed []models.Endpoint
}

// New creates a Runner. set must be the sink the prober writes to. store may
// be nil to skip persistence.
func New(opts Options, prober Prober, set *results.Set, modules []collectors.Collector, store storage.Storer, log zerolog.Logger) *Runner {
	return &Runner{
		opts:    opts,
		prober:  prober,
		set:     set,
		modules: modules,
		store:   store,
		log:     log,
	}
}

// Run performs discovery and then runs every module over the discovered URLs.
func (r *Runner) Run(ctx context.Context, tgts []models.Target, services []models.Service) (*Report, error) {
	started := time.Now().UTC()
	if r.opts.Randomize {
		tgts = append([]models.Target(nil), tgts...)
		services = append([]models.Service(nil), services...)
		targets.Shuffle(tgts)
		targets.Shuffle(services)
	}

	tasks := targets.Materialize(tgts, services)
	r.log.Info().Int("tasks", len(tasks)).Msg("discovery in progress")
	if err := r.Discover(ctx, tasks); err != nil {
		return nil, err
	}

	endpoints := r.set.Unique()
	report := &Report{}
	r.persist(ctx, started, endpoints, report)

	if r.opts.Randomize {
		endpoints = append([]models.Endpoint(nil), endpoints...)
		targets.Shuffle(endpoints)
	}
	for _, ep := range endpoints {
		report.URLs = append(report.URLs, urlutil.FromEndpoint(ep))
	}
	if len(report.URLs) == 0 {
		r.log.Info().Msg("Nothing to do")
		return report, nil
	}

	if err := r.writeURLs(report.URLs); err != nil {
		return report, err
	}
	r.log.Info().Int("urls", len(report.URLs)).Msg("discovery finished, running modules")

	if err := r.Collect(ctx, report.URLs); err != nil {
		return report, err
	}
	r.log.Info().Str("output_dir", r.opts.OutputDir).Msg("finished")
	return report, nil
}

// Discover runs one probe per task and returns once all of them completed.
func (r *Runner) Discover(ctx context.Context, tasks []models.ProbeTask) error {
	pool := NewWorkerPool(ctx, r.opts.Workers)
	for _, task := range tasks {
		if !pool.Submit(func(ctx context.Context) { r.prober.Probe(ctx, task) }) {
			break
		}
	}
	pool.Wait()

	if err := ctx.Err(); err != nil {
		r.log.Debug().Int64("skipped", pool.Skipped()).Msg("discovery canceled")
		return fmt.Errorf("discovery interrupted: %w", err)
	}
	return nil
}

// Collect runs every module over every URL. Module failures are logged; a
// missing browser stops the whole phase.
func (r *Runner) Collect(ctx context.Context, urls []string) error {
	if len(r.modules) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalOnce sync.Once
		fatal     error
	)
	hosts := NewHostLimiter()
	pool := NewWorkerPool(ctx, r.opts.Workers)

submit:
	for _, rawURL := range urls {
		host := hostOf(rawURL)
		for _, module := range r.modules {
			ok := pool.Submit(func(ctx context.Context) {
				if err := hosts.Acquire(ctx, host); err != nil {
					return
				}
				defer hosts.Release(host)

				err := module.Execute(ctx, rawURL)
				switch {
				case err == nil:
				case errors.Is(err, collectors.ErrBrowserNotFound):
					fatalOnce.Do(func() {
						fatal = err
						cancel()
					})
				default:
					r.log.Debug().Err(err).Str("module", module.Name()).Str("url", rawURL).Msg("module failed")
				}
			})
			if !ok {
				break submit
			}
		}
	}
	pool.Wait()

	if fatal != nil {
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("modules interrupted: %w", err)
	}
	return nil
}

func (r *Runner) writeURLs(urls []string) error {
	path := filepath.Join(r.opts.OutputDir, URLsFilename)
	if err := os.WriteFile(path, []byte(strings.Join(urls, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// persist records the run and compares it with the previous one. Storage
// problems are logged and never fail the scan.
func (r *Runner) persist(ctx context.Context, started time.Time, endpoints []models.Endpoint, report *Report) {
	if r.store == nil {
		return
	}
	var previous []models.Endpoint
	prev, err := r.store.LatestRun(ctx)
	switch {
	case err == nil:
		previous, err = r.store.ListEndpoints(ctx, storage.ListEndpointsParams{RunID: prev.ID})
		if err != nil {
			r.log.Error().Err(err).Msg("could not load previous run")
			return
		}
	case !errors.Is(err, storage.ErrNotFound):
		r.log.Error().Err(err).Msg("could not load previous run")
		return
	}

	run := &models.Run{OutputDir: r.opts.OutputDir, StartedAt: started}
	if err := r.store.CreateRun(ctx, run); err != nil {
		r.log.Error().Err(err).Msg("could not record run")
		return
	}
	if err := r.store.FinishRun(ctx, run.ID, time.Now().UTC(), endpoints); err != nil {
		r.log.Error().Err(err).Str("run_id", run.ID).Msg("could not record endpoints")
		return
	}
	report.RunID = run.ID

	if prev == nil {
		r.log.Debug().Str("run_id", run.ID).Msg("first recorded run")
		return
	}
	report.Added, report.Removed = results.Diff(previous, endpoints)
	for _, ep := range report.Added {
		r.log.Info().Str("url", urlutil.FromEndpoint(ep)).Msg("new since previous run")
	}
	for _, ep := range report.Removed {
		r.log.Info().Str("url", urlutil.FromEndpoint(ep)).Msg("gone since previous run")
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
