// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/doggo-watch/doggo/internal/api"
	"github.com/doggo-watch/doggo/internal/clock/system"
	"github.com/doggo-watch/doggo/internal/config"
	collyfetcher "github.com/doggo-watch/doggo/internal/fetcher/colly"
	"github.com/doggo-watch/doggo/internal/logging"
	"github.com/doggo-watch/doggo/internal/mx"
	"github.com/doggo-watch/doggo/internal/notifier"
	"github.com/doggo-watch/doggo/internal/policy/ratelimit"
	"github.com/doggo-watch/doggo/internal/scheduler"
	"github.com/doggo-watch/doggo/internal/store"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

// App holds the configuration, logger and clock shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  watchdog.Clock
}

// Build loads configuration from path and creates the logger.
func Build(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config init failed: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return New(cfg, logger, system.New()), nil
}

// New creates an App from already loaded parts.
func New(cfg config.Config, logger *zap.Logger, clock watchdog.Clock) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &App{cfg: cfg, logger: logger, clock: clock}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// OpenStore loads the state file and merges the configured seeds into it.
// A missing, unreadable or corrupt file is logged and yields an empty store.
func (a *App) OpenStore() (*store.Store, error) {
	seeds, err := a.cfg.Seeds()
	if err != nil {
		return nil, fmt.Errorf("build seeds: %w", err)
	}

	st, res := store.Load(a.cfg.Store.Path)
	logger := a.logger.With(zap.String("path", st.Path()), zap.String("status", res.Status.String()))
	switch res.Status {
	case store.LoadStatusLoaded:
		logger.Info("state loaded", zap.Int("watchdogs", st.Len()))
	case store.LoadStatusNotFound:
		logger.Info("no state file yet, starting empty")
	default:
		logger.Error("state file dropped, starting empty",
			zap.Error(res.Err),
			zap.String("quarantined_to", res.QuarantinedTo),
		)
	}

	if inserted := st.Merge(seeds...); inserted > 0 {
		a.logger.Info("seeded watchdogs from config", zap.Int("inserted", inserted))
	}
	return st, nil
}

// ReadStore decodes the state file without creating directories or moving
// anything aside, and merges the configured seeds in memory. It is meant for
// read-only views while another process owns the file.
func (a *App) ReadStore() (*store.Store, error) {
	seeds, err := a.cfg.Seeds()
	if err != nil {
		return nil, fmt.Errorf("build seeds: %w", err)
	}

	st, res := store.Read(a.cfg.Store.Path)
	if res.Lossy() {
		a.logger.Warn("state file not usable, showing seeds only",
			zap.String("path", st.Path()),
			zap.String("status", res.Status.String()),
			zap.Error(res.Err),
		)
	}
	st.Merge(seeds...)
	return st, nil
}

// NewFetcher builds the throttled listing fetcher.
func (a *App) NewFetcher() (*collyfetcher.Fetcher, error) {
	limiter := ratelimit.New(ratelimit.Config{
		HostRPS:   a.cfg.Fetch.HostRPS,
		HostBurst: a.cfg.Fetch.HostBurst,
	})
	f, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		Timeout:       a.cfg.Fetch.Timeout,
		AdSelector:    a.cfg.Fetch.AdSelector,
		TitleSelector: a.cfg.Fetch.TitleSelector,
		IDPattern:     a.cfg.Fetch.IDPattern,
	}, limiter)
	if err != nil {
		return nil, fmt.Errorf("fetcher init failed: %w", err)
	}
	return f, nil
}

// NewNotifier builds the DKIM-signing direct SMTP notifier.
func (a *App) NewNotifier() (*notifier.Notifier, error) {
	mail := a.cfg.Mail
	signer, err := notifier.LoadDKIMSigner(mail.DKIMKeyPath, mail.FromDomain, mail.DKIMSelector)
	if err != nil {
		return nil, fmt.Errorf("dkim init failed: %w", err)
	}
	sender := notifier.NewSMTPSender(notifier.SMTPConfig{
		Port:     mail.Port,
		HeloName: mail.Helo,
		Timeout:  mail.Timeout,
	})
	n, err := notifier.New(
		notifier.Config{FromDomain: mail.FromDomain, FromLocal: mail.FromLocal, Subject: mail.Subject},
		signer,
		mx.New(nil),
		sender,
		a.clock,
		a.logger.Named("notifier"),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier init failed: %w", err)
	}
	return n, nil
}

// NewScheduler wires the scheduler over st.
func (a *App) NewScheduler(st scheduler.Store, fetcher watchdog.Fetcher, n watchdog.Notifier) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(st, fetcher, n, a.clock,
		scheduler.Config{MinSleep: a.cfg.Schedule.MinSleep},
		a.logger.Named("scheduler"),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}
	return s, nil
}

// Run starts the scheduler, and the HTTP server when enabled, and blocks until
// the context is canceled or the process is signaled.
func (a *App) Run(ctx context.Context) error {
	st, err := a.OpenStore()
	if err != nil {
		return err
	}
	fetcher, err := a.NewFetcher()
	if err != nil {
		return err
	}
	n, err := a.NewNotifier()
	if err != nil {
		return err
	}
	sched, err := a.NewScheduler(st, fetcher, n)
	if err != nil {
		return err
	}
	return a.serve(ctx, sched)
}

func (a *App) serve(ctx context.Context, sched *scheduler.Scheduler) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		apiServer := api.NewServer(sched, a.clock, api.Config{StaleAfter: a.cfg.Server.StaleAfter}, a.logger.Named("api"))
		srv = &http.Server{
			Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	err := sched.Run(ctx)
	a.logger.Info("shutdown initiated")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	return err
}

// Close flushes the logger.
func (a *App) Close() {
	// Sync fails on terminals (ENOTTY); there is nowhere left to report it.
	_ = a.logger.Sync()
}
