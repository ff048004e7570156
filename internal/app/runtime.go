// Package app boots the pieces every binary shares: environment, config,
// logger and database, plus signal handling and graceful HTTP shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/db"
	"github.com/edihub/edi-backend/pkg/instance"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/migrate"
)

// Runtime carries the shared dependencies of one process.
type Runtime struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Boot loads .env and config, opens the database and applies dev
// migrations. On error, anything already opened is closed.
func Boot(ctx context.Context, name string) (_ *Runtime, err error) {
	rt := &Runtime{Name: name, Logger: logger.New(logger.Options{ServiceName: name})}
	defer func() {
		if err != nil {
			rt.Logger.Error(ctx, "bootstrap failed", err)
			_ = rt.Close()
		}
	}()

	if loadErr := godotenv.Load(); loadErr != nil {
		rt.Logger.Warn(ctx, ".env file not found, relying on environment")
	}
	if rt.Config, err = config.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt.Config.Service.Kind = name
	rt.Logger = logger.New(logger.Options{
		ServiceName: name,
		Level:       logger.ParseLevel(rt.Config.App.LogLevel),
		WarnStack:   rt.Config.App.LogWarnStack,
	})

	if rt.DB, err = db.New(ctx, rt.Config.DB, rt.Logger); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.OnClose("database", rt.DB.Close)

	if err = migrate.MaybeRunDev(ctx, rt.Config, rt.Logger, rt.DB); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return rt, nil
}

// OnClose registers fn to run on Close. Closers run in reverse order.
func (r *Runtime) OnClose(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Close runs every registered closer and joins their errors.
func (r *Runtime) Close() error {
	var errs error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.Logger.Error(r.Logger.WithField(context.Background(), "resource", c.name), "close failed", err)
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errs
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the process
// identity as log fields.
func (r *Runtime) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"serviceKind": r.Name,
		"instance":    instance.GetID(),
	}
	if r.Config != nil {
		fields["env"] = r.Config.App.Env
	}
	for k, v := range extra {
		fields[k] = v
	}
	return r.Logger.WithFields(ctx, fields), stop
}

// Serve runs srv alongside workers until ctx ends or one of them fails, then
// shuts srv down within grace. Cancellation is a clean exit.
func (r *Runtime) Serve(ctx context.Context, srv *http.Server, grace time.Duration, workers ...func(context.Context) error) error {
	group, gctx := errgroup.WithContext(ctx)
	for _, work := range workers {
		group.Go(func() error { return work(gctx) })
	}
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server %s: %w", srv.Addr, err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		r.Logger.Error(ctx, r.Name+" stopped unexpectedly", err)
		return err
	}
	r.Logger.Info(ctx, r.Name+" shut down gracefully")
	return nil
}
