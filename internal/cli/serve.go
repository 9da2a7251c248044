package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/loom/internal/api"
	"github.com/roach88/loom/internal/lifecycle"
	"github.com/roach88/loom/internal/logger"
	"github.com/roach88/loom/internal/metrics"
	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and roll the window on a schedule",
		Long: `Serve the HTTP API and Prometheus metrics. When scheduler.roll_interval is
positive the window is rolled on that interval; each roll is independent.

Example:
  loom serve --config loom.yaml
  LOOM_SCHEDULER__ROLL_INTERVAL=0 loom serve --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	rec, err := metrics.NewPromRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}
	a, err := openApp(opts.RootOptions, cmd, service.WithRecorder(rec))
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	log := logger.New(a.logOpts, "server")

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a.svc, logger.New(a.logOpts, "api"), prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if interval := a.cfg.Scheduler.RollInterval; interval > 0 {
		g.Go(func() error {
			rollLoop(gctx, a.svc, interval, log)
			return nil
		})
	} else {
		log.Infof("roll scheduler disabled")
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	log.Infof("stopped")
	return nil
}

// roller is the part of the service the scheduler drives.
type roller interface {
	RollNow(ctx context.Context) (lifecycle.RollResult, error)
}

// rollLoop rolls the window every interval until ctx is done. A failed
// roll is logged and retried on the next tick.
func rollLoop(ctx context.Context, r roller, interval time.Duration, log logger.Logger) {
	log.Infof("rolling the window every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := r.RollNow(ctx)
			switch {
			case err == nil:
				log.Debugf("scheduled roll archived %d instance(s)", res.Archive.Archived)
			case model.IsValidation(err):
				log.Warnf("scheduled roll skipped: %v", err)
			case ctx.Err() != nil:
				return
			default:
				log.Errorf("scheduled roll: %v", err)
			}
		}
	}
}
