// Package construct turns a stored bot config into a runnable bot: token
// resolution, platform client creation, token validation and user flow
// setup.
package construct

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/botforge/botforge/internal/clock"
	"github.com/botforge/botforge/internal/discovery"
	"github.com/botforge/botforge/internal/flow"
	"github.com/botforge/botforge/internal/forms"
	"github.com/botforge/botforge/internal/kv"
	"github.com/botforge/botforge/internal/logger"
	"github.com/botforge/botforge/internal/media"
	"github.com/botforge/botforge/internal/secrets"
	"github.com/botforge/botforge/internal/store"
	"github.com/botforge/botforge/internal/telegram"
)

// UserError is a construction failure caused by the owner's input (bad
// secret name, rejected token, invalid flow); it is surfaced verbatim to
// the HTTP caller. Everything else is internal.
type UserError struct {
	msg   string
	cause error
}

func (e *UserError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e *UserError) Unwrap() error { return e.cause }

func userErr(cause error, format string, args ...any) error {
	return &UserError{msg: fmt.Sprintf(format, args...), cause: cause}
}

// IsUserError reports whether err should map to a 400-class response.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue) || errors.Is(err, flow.ErrInvalidFlow)
}

// Deps bundles the stores and factories construction needs; all are
// explicit so tests can substitute any of them.
type Deps struct {
	Secrets     secrets.Store
	Store       *store.Store
	Backend     kv.Store
	Media       media.Store
	FormResults *forms.Store
	Discovery   *discovery.Handler
	Clock       clock.Clock
	Log         zerolog.Logger
	Factory     telegram.Factory
}

// BotRunner bundles a constructed bot with everything the multiplexer
// needs to run and expose it.
type BotRunner struct {
	OwnerID string
	BotID   string
	Client  telegram.Client

	BackgroundJobs []flow.BackgroundJob
	AuxEndpoints   []flow.AuxEndpoint
	BotCommands    []models.BotCommand

	log zerolog.Logger
}

// Run drives the bot's long-poll loop and background jobs until ctx is
// cancelled.
func (r *BotRunner) Run(ctx context.Context) error {
	if len(r.BotCommands) > 0 {
		if _, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (bool, error) {
			return r.Client.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: r.BotCommands})
		}); err != nil {
			r.log.Error().Err(err).Msg("failed to set bot commands")
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.Client.Start(gctx)
		return gctx.Err()
	})
	for _, job := range r.BackgroundJobs {
		job := job
		g.Go(func() error { return job(gctx) })
	}
	return g.Wait()
}

// ConstructBot builds a runner from a config: resolve the token secret,
// create the platform client, validate the token with getMe, then set up
// the user flow on the bot's router.
func ConstructBot(ctx context.Context, deps Deps, ownerID, botID string, cfg flow.BotConfig) (*BotRunner, error) {
	botLog := logger.ForBot(deps.Log, ownerID, botID)

	token, found, err := deps.Secrets.GetSecret(ctx, ownerID, cfg.TokenSecretName)
	if err != nil {
		return nil, fmt.Errorf("resolve token secret: %w", err)
	}
	if !found {
		return nil, userErr(nil, "token secret %q is not found", cfg.TokenSecretName)
	}

	adapter := deps.Store.Errors.AdapterFor(ownerID, botID)
	botLog = botLog.Hook(adapter.Hook())
	router := telegram.NewRouter(botLog)
	router.SetMetricsHandler(adapter.MetricsHandler())

	if deps.Discovery != nil {
		deps.Discovery.SetupHandlers(ownerID, botID, router)
	}

	client, err := deps.Factory(ctx, token, router)
	if err != nil {
		return nil, userErr(err, "failed to create bot client")
	}
	me, err := telegram.RateLimitRetry(ctx, func(ctx context.Context) (*models.User, error) {
		return client.GetMe(ctx)
	})
	if err != nil {
		return nil, userErr(err, "bot token rejected by telegram")
	}
	botLog.Info().Str("bot_username", me.Username).Msg("bot token validated")

	runner := &BotRunner{
		OwnerID: ownerID,
		BotID:   botID,
		Client:  client,
		log:     botLog,
	}
	if cfg.UserFlowConfig != nil {
		userFlow, err := flow.NewUserFlow(*cfg.UserFlowConfig)
		if err != nil {
			return nil, err
		}
		result, err := userFlow.Setup(&flow.SetupContext{
			OwnerID:     ownerID,
			BotID:       botID,
			Client:      client,
			Router:      router,
			Backend:     deps.Backend,
			Clock:       deps.Clock,
			Log:         botLog,
			Media:       deps.Media,
			FormResults: deps.FormResults,
		})
		if err != nil {
			return nil, err
		}
		runner.BackgroundJobs = result.BackgroundJobs
		runner.AuxEndpoints = result.AuxEndpoints
		runner.BotCommands = result.BotCommands
	}
	return runner, nil
}
