package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/config"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/notify"
	"eventsub-relay/internal/ops"
	"eventsub-relay/internal/runctx"
	"eventsub-relay/internal/runstatus"
)

const (
	restartDelay    = time.Second
	restartMaxDelay = 2 * time.Minute
)

// UserResolver turns channel logins into user ids.
type UserResolver interface {
	ResolveUsers(ctx context.Context, cred auth.Credential, logins []string) ([]eventsub.HelixUser, error)
}

// Deps are the collaborators RelayApp runs. Watcher, Sink and Ops are
// optional.
type Deps struct {
	Store         *auth.Store
	Users         UserResolver
	Dialer        eventsub.Dialer
	Subscriptions eventsub.SubscriptionEnsurer
	Hub           *eventsub.Hub
	Metrics       *eventsub.Metrics
	Watcher       *auth.FileWatcher
	Sink          notify.Sink
	Ops           *ops.Server
	EventSubURL   string
}

type Callbacks struct {
	OnStatusChange func(string)
}

// RelayApp supervises the EventSub stream: it obtains the credential,
// resolves the channels, runs the stream and restarts it after failures
// that can heal on their own.
type RelayApp struct {
	opts   config.Options
	deps   Deps
	logger *logging.Logger
	hooks  Callbacks
	status runstatus.Tracker

	// stream settings overridable by tests
	welcomeTimeout  time.Duration
	subscribeWindow time.Duration
	restartDelay    time.Duration
}

func New(opts config.Options, deps Deps, logger *logging.Logger, hooks Callbacks) *RelayApp {
	if deps.Store == nil {
		panic("app.New: credential store must not be nil")
	}
	if deps.Dialer == nil || deps.Subscriptions == nil {
		panic("app.New: dialer and subscriptions must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	if deps.Hub == nil {
		deps.Hub = eventsub.NewHub()
	}
	return &RelayApp{opts: opts, deps: deps, logger: logger, hooks: hooks, restartDelay: restartDelay}
}

func (a *RelayApp) Run() error {
	return a.RunContext(context.Background())
}

// Status is the current run status.
func (a *RelayApp) Status() runstatus.Snapshot {
	return a.status.Snapshot()
}

func (a *RelayApp) RunContext(ctx context.Context) error {
	a.logger.Info("eventsub relay starting", logging.Field("url", a.deps.EventSubURL))
	a.setRuntimeStatus(runstatus.Starting)

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.deps.Hub.Close()

	if a.deps.Ops != nil {
		server := *a.deps.Ops
		if server.Status == nil {
			server.Status = a.Status
		}
		wg.Go(func() {
			if err := server.Run(ctx); err != nil {
				a.logger.Warn("ops server stopped with error", logging.Field("error", err))
			}
		})
	}

	cred, err := a.deps.Store.Init(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.setRuntimeStatus(statusFor(err))
		a.reportFailure(err)
		return fmt.Errorf("failed to obtain credential: %w", err)
	}
	a.setRuntimeStatus(runstatus.Authenticated)
	a.logger.Debug("credential ready",
		logging.Field("login", cred.Login),
		logging.Field("user_id", cred.UserID),
		logging.Field("scopes", strings.Join(cred.Scopes, " ")),
		logging.Field("expires_at", cred.ExpiresAt),
	)

	targets, err := a.resolveTargets(ctx, cred)
	if err != nil {
		a.setRuntimeStatus(statusFor(err))
		a.reportFailure(err)
		return err
	}
	for _, target := range targets {
		a.logger.Info("monitoring channel",
			logging.Field("broadcaster_id", target.BroadcasterID),
			logging.Field("topics", strings.Join(target.Topics, ",")),
		)
	}

	if a.deps.Watcher != nil {
		wg.Go(func() {
			if err := a.deps.Watcher.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("token file watcher stopped", logging.Field("error", err))
			}
		})
	}
	a.startConsumers(ctx, &wg)

	runErr := a.supervise(ctx, targets)
	if ctx.Err() != nil {
		a.setRuntimeStatus(runstatus.Disconnected)
		a.logger.Info("eventsub relay stopped")
		return nil
	}
	a.setRuntimeStatus(statusFor(runErr))
	a.reportFailure(runErr)
	return runErr
}

// supervise runs the stream and restarts it with exponential backoff while
// the failure is retryable. A run that reached streaming resets the delay.
func (a *RelayApp) supervise(ctx context.Context, targets []eventsub.Target) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.restartDelay
	policy.MaxInterval = restartMaxDelay
	policy.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		streamed := false
		stream := a.newStream(targets, func(state eventsub.State, session eventsub.Session) {
			if state == eventsub.StateStreaming && !streamed {
				streamed = true
				policy.Reset()
			}
			a.onStreamState(state, session)
		})
		err := stream.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if !a.recoverable(ctx, err) {
			return struct{}{}, backoff.Permanent(err)
		}
		a.setRuntimeStatus(runstatus.Reconnecting)
		a.logger.Warn("eventsub stream stopped, restarting",
			logging.Field("error", err),
			logging.Field("hint", hint(err)),
		)
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Debug("retrying eventsub stream",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()),
			)
		}),
	)
	return err
}

// recoverable decides whether another run can succeed. Authentication
// failures get one forced refresh when the source supports it.
func (a *RelayApp) recoverable(ctx context.Context, err error) bool {
	if Retryable(err) {
		return true
	}
	if !isRejectedToken(err) || !a.deps.Store.CanRefresh() {
		return false
	}
	if _, refreshErr := a.deps.Store.Refresh(ctx); refreshErr != nil {
		a.logger.Warn("credential refresh after rejection failed", logging.Field("error", refreshErr))
		return false
	}
	a.logger.Info("credential refreshed after rejection")
	return true
}

func (a *RelayApp) newStream(targets []eventsub.Target, onState func(eventsub.State, eventsub.Session)) *eventsub.Stream {
	return &eventsub.Stream{
		URL:             a.deps.EventSubURL,
		Dialer:          a.deps.Dialer,
		Credentials:     a.deps.Store,
		Subscriptions:   a.deps.Subscriptions,
		Targets:         targets,
		Publisher:       a.deps.Hub,
		RefreshMargin:   a.opts.RefreshMargin,
		WelcomeTimeout:  a.welcomeTimeout,
		SubscribeWindow: a.subscribeWindow,
		Metrics:         a.deps.Metrics,
		Logger:          a.logger,
		OnState:         onState,
	}
}

func (a *RelayApp) onStreamState(state eventsub.State, session eventsub.Session) {
	switch state {
	case eventsub.StateConnecting:
		a.setRuntimeStatus(runstatus.Connecting)
	case eventsub.StateAwaitingWelcome:
		a.setRuntimeStatus(runstatus.Connected)
	case eventsub.StateStreaming:
		a.status.SetSession(session.ID)
		a.setRuntimeStatus(runstatus.Streaming)
	case eventsub.StateReconnecting:
		a.setRuntimeStatus(runstatus.Reconnecting)
	}
}

// startConsumers attaches the event log and, when configured, the webhook
// notifier to the broadcaster.
func (a *RelayApp) startConsumers(ctx context.Context, wg *sync.WaitGroup) {
	buffer := a.opts.FanoutBuffer
	events, unsubscribe := a.deps.Hub.Subscribe(buffer)
	wg.Go(func() {
		defer unsubscribe()
		a.logEvents(ctx, events)
	})

	if a.deps.Sink == nil {
		return
	}
	notifier := notify.NewNotifier(notify.Formatter{BotName: a.opts.ChannelBotName}, a.deps.Sink, a.logger)
	posts, stopPosts := a.deps.Hub.Subscribe(buffer)
	wg.Go(func() {
		defer stopPosts()
		if err := notifier.Run(ctx, posts); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("notifier stopped", logging.Field("error", err))
		}
	})
}

func (a *RelayApp) logEvents(ctx context.Context, events <-chan eventsub.Event) {
	err := runctx.Drain(ctx, events, func(event eventsub.Event) error {
		a.logger.Info("moderation event",
			logging.Field("type", event.Type),
			logging.Field("message_id", event.MessageID),
			logging.Field("timestamp", event.Timestamp),
			logging.Field("event", event.Data),
		)
		return nil
	})
	a.logger.Debug("event log stopped", logging.Field("reason", err))
}

func (a *RelayApp) notifyStatus(status string) {
	if a.hooks.OnStatusChange == nil {
		return
	}
	a.hooks.OnStatusChange(status)
}

func (a *RelayApp) setRuntimeStatus(status string) {
	previous, changed := a.status.Set(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", status),
	)
	a.notifyStatus(status)
}
