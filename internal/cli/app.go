package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/loom/internal/config"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/service"
	"github.com/roach88/loom/internal/store"
)

// app is what one command invocation works with. Nothing survives between
// invocations except the database.
type app struct {
	cfg     *config.Config
	store   *store.Store
	svc     *service.Service
	out     *OutputFormatter
	logOpts logger.Options
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openApp loads config, opens the store and builds the service. The caller
// must Close the app.
func openApp(opts *RootOptions, cmd *cobra.Command, extra ...service.Option) (*app, error) {
	out := newFormatter(opts, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	logOpts := logger.Options{Level: level, Env: cfg.Logging.Env, Out: cmd.ErrOrStderr()}

	out.VerboseLog("Opening database %s", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	svcOpts := []service.Option{service.WithLogger(logOpts)}
	svcOpts = append(svcOpts, opts.ServiceOptions...)
	svcOpts = append(svcOpts, extra...)

	return &app{
		cfg:     cfg,
		store:   st,
		svc:     service.New(st, cfg, svcOpts...),
		out:     out,
		logOpts: logOpts,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.out.VerboseLog("error closing database: %v", err)
	}
}

// withApp runs fn against a freshly opened app.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
