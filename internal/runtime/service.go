package runtime

import (
	"context"
	"net/http"
	"time"

	"eventsub-relay/internal/app"
	"eventsub-relay/internal/auth"
	"eventsub-relay/internal/config"
	"eventsub-relay/internal/eventsub"
	"eventsub-relay/internal/logging"
	"eventsub-relay/internal/notify"
	"eventsub-relay/internal/ops"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	webhookUsername    = "eventsub-relay"
)

type Service interface {
	RunContext(ctx context.Context) error
}

func NewService(opts config.Options, logger *logging.Logger) (Service, error) {
	return NewServiceWithHooks(opts, logger, StartHooks{})
}

func NewServiceWithHooks(opts config.Options, logger *logging.Logger, hooks StartHooks) (Service, error) {
	if logger == nil {
		panic("runtime.NewServiceWithHooks: logger must not be nil")
	}
	if err := config.ValidateRequired(opts); err != nil {
		return nil, err
	}
	endpoints, err := config.BuildEndpoints(opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("constructed API endpoints",
		logging.Field("eventsub_url", endpoints.EventSubURL),
		logging.Field("helix_url", endpoints.HelixURL),
		logging.Field("validate_url", endpoints.ValidateURL),
		logging.Field("device_url", endpoints.DeviceURL),
		logging.Field("token_url", endpoints.TokenURL),
	)

	httpClient := newHTTPClient(opts)
	metrics := eventsub.NewMetrics()
	webhook := newWebhook(opts, httpClient, logger)

	source, watcher, err := newSource(opts, endpoints, httpClient, logger, webhook)
	if err != nil {
		return nil, err
	}
	store := auth.NewStore(source, logger)
	store.OnRefresh = metrics.Refresh
	if watcher != nil {
		watcher.Store = store
	}

	helix := eventsub.HelixClient{HTTP: httpClient, BaseURL: endpoints.HelixURL, Logger: logger}
	deps := app.Deps{
		Store:         store,
		Users:         helix,
		Dialer:        eventsub.WebsocketDialer{HandshakeTimeout: opts.HTTPTimeout, Logger: logger},
		Subscriptions: eventsub.Subscriber{API: helix, Logger: logger},
		Hub:           eventsub.NewHub(),
		Metrics:       metrics,
		Watcher:       watcher,
		EventSubURL:   endpoints.EventSubURL,
	}
	if webhook != nil {
		deps.Sink = webhook
	}
	if opts.OpsAddr != "" {
		deps.Ops = &ops.Server{Addr: opts.OpsAddr, Registry: metrics.Registry(), Logger: logger}
	}
	return app.New(opts, deps, logger, app.Callbacks{
		OnStatusChange: hooks.OnStatus,
	}), nil
}

// Authorize runs the device authorization flow once and persists the token.
func Authorize(ctx context.Context, opts config.Options, logger *logging.Logger) (auth.Credential, error) {
	endpoints, err := config.BuildEndpoints(opts)
	if err != nil {
		return auth.Credential{}, err
	}
	httpClient := newHTTPClient(opts)
	device := newDeviceSource(opts, endpoints, httpClient, logger, newWebhook(opts, httpClient, logger))
	return device.Authorize(ctx)
}

func newHTTPClient(opts config.Options) *http.Client {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func newWebhook(opts config.Options, httpClient *http.Client, logger *logging.Logger) *notify.Webhook {
	if opts.DiscordWebhook == "" {
		return nil
	}
	return &notify.Webhook{HTTP: httpClient, URL: opts.DiscordWebhook, Username: webhookUsername, Logger: logger}
}
