package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tasooshi/pukpuk/internal/collectors"
	"github.com/tasooshi/pukpuk/internal/config"
	"github.com/tasooshi/pukpuk/internal/logging"
	"github.com/tasooshi/pukpuk/internal/models"
	"github.com/tasooshi/pukpuk/internal/prober"
	"github.com/tasooshi/pukpuk/internal/resolver"
	"github.com/tasooshi/pukpuk/internal/results"
	"github.com/tasooshi/pukpuk/internal/runner"
	"github.com/tasooshi/pukpuk/internal/storage"
	"github.com/tasooshi/pukpuk/internal/storage/sqlite"
	"github.com/tasooshi/pukpuk/internal/targets"
)

const resolvConf = "/etc/resolv.conf"

const examples = `  pukpuk -N 10.0.0.0/24
  pukpuk -N 10.0.1.1-10.0.2.1 -p 80,443,8000,8443/https
  pukpuk -H hosts.txt -p 8080,8443 -r
  pukpuk -U urls.txt --skip-screens
  pukpuk serve --db pukpuk.db`

// flagSetters copy a changed flag from the flag-bound config onto the loaded one.
var flagSetters = map[string]func(dst, src *config.Config){
	"network":           func(d, s *config.Config) { d.Network = s.Network },
	"hosts":             func(d, s *config.Config) { d.Hosts = s.Hosts },
	"urls":              func(d, s *config.Config) { d.URLs = s.URLs },
	"targets":           func(d, s *config.Config) { d.Targets = s.Targets },
	"ports":             func(d, s *config.Config) { d.Ports = s.Ports },
	"browser":           func(d, s *config.Config) { d.Browser = s.Browser },
	"randomize":         func(d, s *config.Config) { d.Randomize = s.Randomize },
	"output-dir":        func(d, s *config.Config) { d.OutputDir = s.OutputDir },
	"user-agent":        func(d, s *config.Config) { d.UserAgent = s.UserAgent },
	"workers":           func(d, s *config.Config) { d.Workers = s.Workers },
	"process-timeout":   func(d, s *config.Config) { d.ProcessTimeout = s.ProcessTimeout },
	"socket-timeout":    func(d, s *config.Config) { d.SocketTimeout = s.SocketTimeout },
	"skip-screens":      func(d, s *config.Config) { d.SkipScreens = s.SkipScreens },
	"grabbing-attempts": func(d, s *config.Config) { d.Attempts = s.Attempts },
	"modules":           func(d, s *config.Config) { d.Modules = s.Modules },
	"nameserver":        func(d, s *config.Config) { d.Nameserver = s.Nameserver },
	"socks5":            func(d, s *config.Config) { d.SOCKS5 = s.SOCKS5 },
	"rate":              func(d, s *config.Config) { d.Rate = s.Rate },
	"db":                func(d, s *config.Config) { d.Database = s.Database },
	"port":              func(d, s *config.Config) { d.HTTPPort = s.HTTPPort },
	"debug":             func(d, s *config.Config) { d.LogLevel = config.LevelDebug },
	"quiet":             func(d, s *config.Config) { d.LogLevel = config.LevelQuiet },
}

// options holds what the command line parsed, before it is layered on top of
// the file and environment configuration.
type options struct {
	configPath string
	flags      *config.Config
	debug      bool
	quiet      bool
}

// resolve loads defaults, the config file and the environment, then applies
// the flags the user actually set.
func (o *options) resolve(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags.Visit(func(f *pflag.Flag) {
		if set, ok := flagSetters[f.Name]; ok {
			set(cfg, o.flags)
		}
	})
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &options{flags: config.Default()}

	cmd := &cobra.Command{
		Use:     "pukpuk",
		Short:   "HTTP(S) service discovery with alias resolution, response dumps and screenshots",
		Example: examples,
		Version: version,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			return scan(cmd.Context(), cfg, cmd.OutOrStdout())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	})

	f := opts.flags
	fs := cmd.Flags()
	fs.StringVarP(&f.Network, "network", "N", "", `network in CIDR notation or an IP range, e.g. "10.0.0.0/24", "10.0.1.1-10.2.1.1"`)
	fs.StringVarP(&f.Hosts, "hosts", "H", "", "file with one host per line")
	fs.StringVarP(&f.URLs, "urls", "U", "", "file with one URL per line, probed as given and ignoring --ports")
	fs.StringVarP(&f.Targets, "targets", "T", "", "CSV file with host,port[,protocol] rows")
	fs.StringVarP(&f.Ports, "ports", "p", f.Ports, "comma separated port list for HTTP service discovery")
	fs.StringVarP(&f.Browser, "browser", "b", f.Browser, "Chromium browser path for headless screen grabbing")
	fs.BoolVarP(&f.Randomize, "randomize", "r", false, "randomize scanning order")
	fs.StringVarP(&f.OutputDir, "output-dir", "o", "", "where results are stored (default <YYYYmmdd_HHMM>.pukpuk)")
	fs.StringVarP(&f.UserAgent, "user-agent", "u", f.UserAgent, "User-Agent header for responses and screens")
	fs.IntVarP(&f.Workers, "workers", "w", f.Workers, "number of concurrent workers")
	fs.DurationVar(&f.ProcessTimeout, "process-timeout", f.ProcessTimeout, "browser timeout per attempt")
	fs.DurationVar(&f.SocketTimeout, "socket-timeout", f.SocketTimeout, "connect, read, TLS and DNS timeout")
	fs.BoolVar(&f.SkipScreens, "skip-screens", false, "skip screen grabbing")
	fs.IntVar(&f.Attempts, "grabbing-attempts", f.Attempts, "number of screen grabbing attempts")
	fs.StringSliceVarP(&f.Modules, "modules", "m", f.Modules, "modules to run over discovered URLs")
	fs.StringVar(&f.Nameserver, "nameserver", "", "DNS server for reverse lookups (default from "+resolvConf+")")
	fs.StringVarP(&f.SOCKS5, "socks5", "x", "", "SOCKS5 proxy host:port")
	fs.Float64Var(&f.Rate, "rate", 0, "maximum new connections per second (0 = unlimited)")
	fs.StringVar(&f.Database, "db", f.Database, `sqlite database recording runs ("" disables)`)
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "debug output")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "no console output")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	cmd.AddCommand(newServeCommand())
	return cmd
}

// scan runs discovery and the modules with a fully resolved configuration.
func scan(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	if !cfg.HasTargets() {
		return fmt.Errorf("%w: no targets given, use -N, -H, -U or -T", config.ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	services, err := cfg.Services()
	if err != nil {
		return err
	}
	tgts, err := loadTargets(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = config.NewOutputDir(time.Now())
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	log, logFile, err := logging.WithFile(stdout, cfg.LogLevel, cfg.OutputDir)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log.Debug().Str("output_dir", cfg.OutputDir).Int("targets", len(tgts)).Msg("starting")

	modules, err := collectors.Select(cfg.EnabledModules(), collectors.Options{
		OutputDir:      cfg.OutputDir,
		UserAgent:      cfg.UserAgent,
		SocketTimeout:  cfg.SocketTimeout,
		ProcessTimeout: cfg.ProcessTimeout,
		Attempts:       cfg.Attempts,
		Browser:        cfg.Browser,
		SOCKS5:         cfg.SOCKS5,
		Log:            log,
	})
	if err != nil {
		if errors.Is(err, collectors.ErrBrowserNotFound) {
			log.Error().Msgf("is %q installed? use --skip-screens to run without it", cfg.Browser)
		}
		return err
	}

	var store storage.Storer
	if cfg.Database != "" {
		s, err := sqlite.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		defer s.Close()
		store = s
	}

	nameserver := cfg.Nameserver
	if nameserver == "" {
		nameserver = resolver.SystemNameserver(resolvConf)
	}
	dialer, err := prober.NewDialer(prober.DialerOptions{
		Timeout: cfg.SocketTimeout,
		SOCKS5:  cfg.SOCKS5,
		Rate:    cfg.Rate,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	set := results.NewSet()
	p := prober.New(dialer, cfg.SocketTimeout,
		resolver.New([]string{nameserver}, cfg.SocketTimeout),
		set, log.With().Str("component", "prober").Logger())
	r := runner.New(runner.Options{
		Workers:   cfg.Workers,
		Randomize: cfg.Randomize,
		OutputDir: cfg.OutputDir,
	}, p, set, modules, store, log.With().Str("component", "runner").Logger())

	_, err = r.Run(ctx, tgts, services)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("exiting")
	}
	return err
}

func loadTargets(cfg *config.Config) ([]models.Target, error) {
	var all []models.Target
	if cfg.Network != "" {
		tgts, err := targets.FromNetwork(cfg.Network)
		if err != nil {
			return nil, err
		}
		all = append(all, tgts...)
	}
	sources := []struct {
		path  string
		parse func(io.Reader) ([]models.Target, error)
	}{
		{cfg.Hosts, targets.FromHosts},
		{cfg.URLs, targets.FromURLs},
		{cfg.Targets, targets.FromCSV},
	}
	for _, src := range sources {
		if src.path == "" {
			continue
		}
		tgts, err := targets.FromFile(src.path, src.parse)
		if err != nil {
			return nil, err
		}
		all = append(all, tgts...)
	}
	return all, nil
}
