// Package app wires the stores, the bot runner and the HTTP API into a
// runnable service.
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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/botforge/botforge/internal/api"
	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/config"
	"github.com/botforge/botforge/internal/construct"
	"github.com/botforge/botforge/internal/discovery"
	"github.com/botforge/botforge/internal/errlog"
	"github.com/botforge/botforge/internal/filecache"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/logger"
	"github.com/botforge/botforge/internal/media"
	"github.com/botforge/botforge/internal/runner"
	"github.com/botforge/botforge/internal/secrets"
	"github.com/botforge/botforge/internal/store"
	"github.com/botforge/botforge/internal/telegram"
)

const shutdownTimeout = 10 * time.Second

// App owns every long-lived component of the service.
type App struct {
	cfg    *config.Config
	log    zerolog.Logger
	clk    clock.Clock
	kv     kv.Store
	media  media.Store
	errors *errlog.Store
	files  *filecache.Cache
	runner runner.Runner
	deps   construct.Deps
	api    *api.API
}

// New builds the application from configuration. The KV backend, media
// store and authenticator are all selected here.
func New(cfg *config.Config) (*App, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	log := logger.New("botforge")
	if cfg.LogPretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	clk := clock.Real{}
	backend, err := newBackend(cfg, clk)
	if err != nil {
		return nil, err
	}

	mediaStore, err := newMediaStore(cfg, backend, log)
	if err != nil {
		return nil, err
	}

	secretStore, err := newSecretStore(cfg, backend)
	if err != nil {
		return nil, err
	}

	formResults := forms.NewStore(backend, log)
	errorStore := errlog.NewStore(backend, clk).WithLogger(log)
	botStore := store.New(backend, formResults, errorStore, clk, log)
	files := filecache.NewCache(backend, clk, log).WithMaxCached(cfg.MaxCachedTelegramFiles)
	discoveryHandler := discovery.NewHandler(backend, files, log)
	run := runner.NewPollingRunner(log)

	deps := construct.Deps{
		Secrets:     secretStore,
		Store:       botStore,
		Backend:     backend,
		Media:       mediaStore,
		FormResults: formResults,
		Discovery:   discoveryHandler,
		Clock:       clk,
		Log:         log,
		Factory:     telegram.NewClientFactory(),
	}

	a := &App{
		cfg:    cfg,
		log:    log,
		clk:    clk,
		kv:     backend,
		media:  mediaStore,
		errors: errorStore,
		files:  files,
		runner: run,
		deps:   deps,
		api:    api.New(deps, run, api.NoAuth{Username: cfg.NoAuthUsername}, log),
	}
	return a, nil
}

// Run starts the HTTP server, the file cache sweeper and all bots that
// were running before the last shutdown, then blocks until ctx is
// cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.media.Setup(ctx); err != nil {
		return fmt.Errorf("media store setup: %w", err)
	}

	if err := runner.Reconcile(ctx, a.deps, a.runner, a.log); err != nil {
		return fmt.Errorf("reconciling running bots: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.Port),
		Handler: a.api.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Int("port", a.cfg.Port).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.files.RunSweeper(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.teardown()
	return err
}

func (a *App) teardown() {
	a.runner.Cleanup()
	a.errors.Wait()
	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.media.Cleanup(cleanupCtx); err != nil {
		a.log.Error().Err(err).Msg("media store cleanup failed")
	}
	if err := a.kv.Close(); err != nil {
		a.log.Error().Err(err).Msg("kv backend close failed")
	}
	a.log.Info().Msg("shutdown complete")
}

func newBackend(cfg *config.Config, clk clock.Clock) (kv.Store, error) {
	switch cfg.KVBackend {
	case config.BackendRedis:
		return kv.NewRedis(cfg.RedisURL)
	case config.BackendSQLite:
		return kv.NewSQLite(cfg.SQLitePath, clk)
	case config.BackendMemory:
		return kv.NewMemory(clk), nil
	default:
		return nil, fmt.Errorf("unsupported KV backend: %s", cfg.KVBackend)
	}
}

func newSecretStore(cfg *config.Config, backend kv.Store) (secrets.Store, error) {
	return secrets.NewKVSecretStore(backend, cfg.SecretsEncryptionKey, cfg.SecretsPerOwner)
}

func newMediaStore(cfg *config.Config, backend kv.Store, log zerolog.Logger) (media.Store, error) {
	if cfg.MediaStoreS3Credentials == "" {
		return media.NewKVMediaStore(backend), nil
	}
	creds, err := media.ParseS3Credentials(cfg.MediaStoreS3Credentials)
	if err != nil {
		return nil, fmt.Errorf("parsing S3 credentials: %w", err)
	}
	return media.NewS3MediaStore(*creds, log), nil
}
