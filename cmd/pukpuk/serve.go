package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasooshi/pukpuk/internal/api"
	"github.com/tasooshi/pukpuk/internal/config"
	"github.com/tasooshi/pukpuk/internal/logging"
	"github.com/tasooshi/pukpuk/internal/storage/sqlite"
)

func newServeCommand() *cobra.Command {
	opts := &options{flags: config.Default()}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve recorded runs and endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Database == "" {
				return fmt.Errorf("%w: serve needs a database", config.ErrInvalid)
			}
			return serve(cmd.Context(), cfg, cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := opts.flags
	fs := cmd.Flags()
	fs.StringVar(&f.Database, "db", f.Database, "sqlite database recording runs")
	fs.StringVar(&f.HTTPPort, "port", f.HTTPPort, "HTTP listen port")
	fs.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	fs.BoolVarP(&opts.debug, "debug", "d", false, "debug output")
	fs.BoolVarP(&opts.quiet, "quiet", "q", false, "no console output")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	log := logging.Console(cmd.OutOrStdout(), cfg.LogLevel)

	log.Info().Str("database", cfg.Database).Msg("opening database")
	store, err := sqlite.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}
	defer store.Close()

	server := api.NewServer(cfg.HTTPPort, store, log)
	errc := server.Start()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown error: %w", err)
	}
	return nil
}
